// Package rules holds the rule record model: reading the editable value out
// of records whose layout drifted over time, merging edits back into the
// authoritative slot, and the threshold validation gate.
package rules

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"
)

const (
	pathID                = "ruleId"
	pathParameter         = "ruleCheckpointParameter"
	pathLegacyParameter   = "parameter"
	pathCategory          = "ruleTemplateGroupCategory"
	pathLegacyCategory    = "category"
	pathRuleType          = "ruleType"
	pathConfig            = "ruleConfig"
	pathConfigValue       = "ruleConfig.value"
	pathOperands          = "operand.operandDefinition"
	pathMetaDescription   = "ruleMetadata.ruleDescription"
	pathLegacyDescription = "ruleDescription"
	pathValidation        = "validation"
)

var ErrNotObject = errors.New("rule record must be a JSON object")

// Record is one rule exactly as persisted. Keys the editor does not know
// about are kept verbatim, so a record is carried as raw JSON and read with
// gjson paths rather than decoded into a struct.
type Record json.RawMessage

// ParseRecord copies data into a Record after checking it is an object.
func ParseRecord(data []byte) (Record, error) {
	trimmed := bytes.TrimSpace(data)
	if !gjson.ValidBytes(trimmed) || !gjson.ParseBytes(trimmed).IsObject() {
		return nil, ErrNotObject
	}
	return Record(bytes.Clone(trimmed)), nil
}

func (r Record) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// UnmarshalJSON keeps data verbatim. Anything but a JSON object, null
// included, is ErrNotObject.
func (r *Record) UnmarshalJSON(data []byte) error {
	if r == nil {
		return errors.New("rules.Record: UnmarshalJSON on nil pointer")
	}
	trimmed := bytes.TrimSpace(data)
	if !gjson.ValidBytes(trimmed) || !gjson.ParseBytes(trimmed).IsObject() {
		return ErrNotObject
	}
	*r = append((*r)[0:0], trimmed...)
	return nil
}

func (r Record) get(path string) gjson.Result {
	return gjson.GetBytes(r, path)
}

func (r Record) has(path string) bool {
	return r.get(path).Exists()
}

func (r Record) ID() string {
	return r.get(pathID).String()
}

// Parameter prefers ruleCheckpointParameter and falls back to the flat
// parameter key written by older threshold-authored rules.
func (r Record) Parameter() string {
	return firstNonEmpty(r.get(pathParameter).String(), r.get(pathLegacyParameter).String())
}

func (r Record) Category() string {
	return firstNonEmpty(r.get(pathCategory).String(), r.get(pathLegacyCategory).String())
}

// Description reads the nested metadata form first; the flat key is only a
// fallback for records that never had metadata.
func (r Record) Description() string {
	return firstNonEmpty(r.get(pathMetaDescription).String(), r.get(pathLegacyDescription).String())
}

func (r Record) RuleType() string {
	return r.get(pathRuleType).String()
}

// Validation returns the attached threshold rule, or nil when the record has
// none or it cannot be decoded.
func (r Record) Validation() *Validation {
	raw := r.get(pathValidation)
	if !raw.Exists() || !raw.IsObject() {
		return nil
	}
	var v Validation
	if err := json.Unmarshal([]byte(raw.Raw), &v); err != nil {
		return nil
	}
	return &v
}

func (r Record) Clone() Record {
	return Record(bytes.Clone(r))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
