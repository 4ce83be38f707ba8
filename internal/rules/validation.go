package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"
)

const (
	KindThreshold = "threshold"

	OperatorAtLeast = ">="
	OperatorAtMost  = "<="
)

// Validation is a declarative threshold attached to rules created through
// the threshold-authoring path.
type Validation struct {
	Kind     string  `json:"kind"`
	Operator string  `json:"operator"`
	Target   float64 `json:"target"`
}

var errTargetNotNumeric = errors.New("validation target must be a number")

// UnmarshalJSON accepts both the current {kind, operator, target} shape and
// the older {type, operator, value} one.
func (v *Validation) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return errors.New("validation must be valid JSON")
	}
	parsed := gjson.ParseBytes(data)
	if !parsed.IsObject() {
		return errors.New("validation must be an object")
	}

	kind := parsed.Get("kind").String()
	if kind == "" {
		kind = parsed.Get("type").String()
	}
	target := parsed.Get("target")
	if !target.Exists() {
		target = parsed.Get("value")
	}

	out := Validation{
		Kind:     kind,
		Operator: parsed.Get("operator").String(),
	}
	switch target.Type {
	case gjson.Number:
		out.Target = target.Num
	case gjson.String:
		number, err := strconv.ParseFloat(strings.TrimSpace(target.Str), 64)
		if err != nil {
			return errTargetNotNumeric
		}
		out.Target = number
	default:
		if kind == KindThreshold {
			return errTargetNotNumeric
		}
	}
	*v = out
	return nil
}

// RejectedError is returned when a proposed value fails its threshold.
type RejectedError struct {
	Parameter string
	Operator  string
	Target    float64
	Value     string
}

func (e *RejectedError) Error() string {
	name := e.Parameter
	if name == "" {
		name = "value"
	}
	target := strconv.FormatFloat(e.Target, 'f', -1, 64)
	switch e.Operator {
	case OperatorAtMost:
		return fmt.Sprintf("%s must be less than or equal to %s", name, target)
	default:
		return fmt.Sprintf("%s must be greater than or equal to %s", name, target)
	}
}

// Validate checks proposed against v. Anything other than a threshold
// validation passes, as does any operator other than ">=" and "<=".
// The value is read like a browser's parseFloat: its longest numeric prefix
// counts ("10abc" is 10) and a value with no numeric prefix fails both
// known operators.
func Validate(proposed, parameter string, v *Validation) error {
	if v == nil || v.Kind != KindThreshold {
		return nil
	}

	value := leadingNumber(proposed)

	rejected := false
	switch v.Operator {
	case OperatorAtLeast:
		rejected = math.IsNaN(value) || value < v.Target
	case OperatorAtMost:
		rejected = math.IsNaN(value) || value > v.Target
	}
	if !rejected {
		return nil
	}
	return &RejectedError{
		Parameter: parameter,
		Operator:  v.Operator,
		Target:    v.Target,
		Value:     proposed,
	}
}

// leadingNumber parses the longest prefix of s that is a decimal literal:
// optional sign, digits with an optional fraction and exponent, or
// "Infinity". Go-only spellings such as "inf", "0x1p3" or "1_0" are not
// literals here. No numeric prefix yields NaN.
func leadingNumber(s string) float64 {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	if strings.HasPrefix(s[i:], "Infinity") {
		if s[0] == '-' {
			return math.Inf(-1)
		}
		return math.Inf(1)
	}

	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		j := i + 1
		fraction := 0
		for j < len(s) && isDigit(s[j]) {
			j++
			fraction++
		}
		if digits+fraction > 0 {
			i = j
			digits += fraction
		}
	}
	if digits == 0 {
		return math.NaN()
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		exponent := 0
		for j < len(s) && isDigit(s[j]) {
			j++
			exponent++
		}
		if exponent > 0 {
			i = j
		}
	}

	value, err := strconv.ParseFloat(s[:i], 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return math.NaN()
	}
	return value
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func (v Validation) marshal() ([]byte, error) {
	return json.Marshal(v)
}
