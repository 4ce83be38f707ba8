package rules

import (
	"strings"

	"github.com/tidwall/gjson"
)

// LocationKind tags where a record keeps its editable value.
type LocationKind int

const (
	Absent LocationKind = iota
	ConfigValue
	OperandConstant
)

func (k LocationKind) String() string {
	switch k {
	case ConfigValue:
		return "config"
	case OperandConstant:
		return "operand"
	default:
		return "absent"
	}
}

// Markers that exclude a candidate value from being editable. The "L" test
// is a plain substring match inherited from the stored data's encoded long
// literals, so any real value containing an upper-case L is skipped too.
const (
	legacyLiteralMarker = "L"
	deviationMarker     = "deviationRuleV2"
	constantOperandType = "CONSTANT"
)

// ValueLocation is the resolved slot of a record's editable value. Index is
// the operand position for OperandConstant and -1 otherwise.
type ValueLocation struct {
	Kind  LocationKind
	Index int
	value string
}

func (l ValueLocation) Value() string {
	return l.value
}

// Locate finds the editable value of r. It never modifies r.
func Locate(r Record) ValueLocation {
	if value, ok := configValue(r); ok {
		return ValueLocation{Kind: ConfigValue, Index: -1, value: value}
	}

	found := ValueLocation{Kind: Absent, Index: -1}
	operands := r.get(pathOperands)
	if !operands.IsArray() {
		return found
	}
	index := 0
	operands.ForEach(func(_, op gjson.Result) bool {
		current := index
		index++
		if op.Get("operandType").String() != constantOperandType {
			return true
		}
		value := op.Get("value")
		if value.Type != gjson.String {
			return true
		}
		if strings.Contains(value.Str, legacyLiteralMarker) || strings.Contains(value.Str, deviationMarker) {
			return true
		}
		found = ValueLocation{Kind: OperandConstant, Index: current, value: value.Str}
		return false
	})
	return found
}

// ResolveValue returns the editable value of r, or "" when none qualifies.
func ResolveValue(r Record) string {
	return Locate(r).Value()
}

func configValue(r Record) (string, bool) {
	result := r.get(pathConfigValue)
	var text string
	switch result.Type {
	case gjson.String:
		text = result.Str
	case gjson.Number:
		text = result.Raw
	default:
		return "", false
	}
	if strings.Contains(text, legacyLiteralMarker) {
		return "", false
	}
	return text, true
}
