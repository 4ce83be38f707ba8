package rules

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Edit is a partial update. A nil field is absent and leaves the record
// alone; a pointer to "" is a real value.
type Edit struct {
	NewValue       *string     `json:"newValue,omitempty"`
	NewParameter   *string     `json:"newParameter,omitempty"`
	NewCategory    *string     `json:"newCategory,omitempty"`
	NewDescription *string     `json:"newDescription,omitempty"`
	Validation     *Validation `json:"validation,omitempty"`
}

// UnmarshalJSON accepts newParam as an alias of newParameter and numeric
// newValue literals. JSON null is treated as absent.
func (e *Edit) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return errors.New("edit must be a JSON object")
	}
	parsed := gjson.ParseBytes(data)

	var out Edit
	var err error
	if out.NewValue, err = optionalString(parsed, "newValue", true); err != nil {
		return err
	}
	if out.NewParameter, err = optionalString(parsed, "newParameter", false); err != nil {
		return err
	}
	if out.NewParameter == nil {
		if out.NewParameter, err = optionalString(parsed, "newParam", false); err != nil {
			return err
		}
	}
	if out.NewCategory, err = optionalString(parsed, "newCategory", false); err != nil {
		return err
	}
	if out.NewDescription, err = optionalString(parsed, "newDescription", false); err != nil {
		return err
	}
	if raw := parsed.Get("validation"); raw.Exists() && raw.Type != gjson.Null {
		var v Validation
		if err := json.Unmarshal([]byte(raw.Raw), &v); err != nil {
			return fmt.Errorf("validation: %w", err)
		}
		out.Validation = &v
	}
	*e = out
	return nil
}

func optionalString(parsed gjson.Result, key string, allowNumber bool) (*string, error) {
	field := parsed.Get(key)
	switch {
	case !field.Exists() || field.Type == gjson.Null:
		return nil, nil
	case field.Type == gjson.String:
		value := field.Str
		return &value, nil
	case allowNumber && field.Type == gjson.Number:
		value := field.Raw
		return &value, nil
	default:
		return nil, fmt.Errorf("%s must be a string", key)
	}
}

// WriteTarget is the sjson path a value edit lands on for r.
func WriteTarget(r Record, withValidation bool) string {
	switch {
	case withValidation:
		return pathConfigValue
	case r.has(pathConfigValue):
		return pathConfigValue
	case r.get(pathOperands).IsArray() && r.get(pathOperands + ".1").Exists():
		return pathOperands + ".1.value"
	default:
		return pathConfigValue
	}
}

// ApplyEdit merges e into a copy of r. Every key outside the edited fields
// keeps its original bytes.
func ApplyEdit(r Record, e Edit) (Record, error) {
	out := []byte(r.Clone())
	var err error

	if e.Validation != nil {
		encoded, err := e.Validation.marshal()
		if err != nil {
			return nil, fmt.Errorf("encode validation: %w", err)
		}
		if out, err = sjson.SetRawBytes(out, pathValidation, encoded); err != nil {
			return nil, fmt.Errorf("set validation: %w", err)
		}
		if !gjson.GetBytes(out, pathConfig).IsObject() {
			if out, err = sjson.SetRawBytes(out, pathConfig, []byte("{}")); err != nil {
				return nil, fmt.Errorf("create ruleConfig: %w", err)
			}
		}
	}

	if e.NewValue != nil {
		target := WriteTarget(Record(out), e.Validation != nil)
		if out, err = sjson.SetBytes(out, target, *e.NewValue); err != nil {
			return nil, fmt.Errorf("set %s: %w", target, err)
		}
	}
	if e.NewParameter != nil {
		if out, err = sjson.SetBytes(out, pathParameter, *e.NewParameter); err != nil {
			return nil, fmt.Errorf("set parameter: %w", err)
		}
	}
	if e.NewCategory != nil {
		if out, err = sjson.SetBytes(out, pathCategory, *e.NewCategory); err != nil {
			return nil, fmt.Errorf("set category: %w", err)
		}
	}
	if e.NewDescription != nil {
		if !gjson.GetBytes(out, "ruleMetadata").IsObject() {
			if out, err = sjson.SetRawBytes(out, "ruleMetadata", []byte("{}")); err != nil {
				return nil, fmt.Errorf("create ruleMetadata: %w", err)
			}
		}
		if out, err = sjson.SetBytes(out, pathMetaDescription, *e.NewDescription); err != nil {
			return nil, fmt.Errorf("set description: %w", err)
		}
	}
	return Record(out), nil
}

// NewRecord builds the record stored for an id the collection does not
// have yet. Missing strings default to "".
func NewRecord(id string, e Edit) (Record, error) {
	shell := struct {
		RuleID     string            `json:"ruleId"`
		Parameter  string            `json:"ruleCheckpointParameter"`
		Category   string            `json:"ruleTemplateGroupCategory"`
		Metadata   map[string]string `json:"ruleMetadata"`
		Config     map[string]string `json:"ruleConfig"`
		Validation *Validation       `json:"validation,omitempty"`
	}{
		RuleID:     id,
		Parameter:  deref(e.NewParameter),
		Category:   deref(e.NewCategory),
		Metadata:   map[string]string{"ruleDescription": deref(e.NewDescription)},
		Config:     map[string]string{"value": deref(e.NewValue)},
		Validation: e.Validation,
	}
	encoded, err := json.Marshal(shell)
	if err != nil {
		return nil, fmt.Errorf("encode new rule: %w", err)
	}
	return Record(encoded), nil
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

// String returns a pointer to value, for building edits.
func String(value string) *string {
	return &value
}
