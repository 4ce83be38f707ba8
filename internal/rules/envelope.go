package rules

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var ErrNoRuleList = errors.New("could not find a rules array in document")

// Envelope keys seen in exported rule files, in lookup order. A bare array
// is checked before any of them.
var envelopeKeys = []string{"rules", "data", "breRules", "metadata.rules", "ruleUnitDtoList"}

// ExtractList pulls the rule array out of an uploaded document regardless of
// which export envelope wrapped it.
func ExtractList(doc []byte) ([]Record, error) {
	if !gjson.ValidBytes(doc) {
		return nil, fmt.Errorf("parse rules document: invalid JSON")
	}
	parsed := gjson.ParseBytes(doc)

	list := gjson.Result{}
	if parsed.IsArray() {
		list = parsed
	} else if parsed.IsObject() {
		for _, key := range envelopeKeys {
			if candidate := parsed.Get(key); candidate.IsArray() {
				list = candidate
				break
			}
		}
	}
	if !list.IsArray() {
		return nil, ErrNoRuleList
	}

	var (
		out      []Record
		parseErr error
	)
	list.ForEach(func(_, item gjson.Result) bool {
		record, err := ParseRecord([]byte(item.Raw))
		if err != nil {
			parseErr = fmt.Errorf("rule %d: %w", len(out), err)
			return false
		}
		out = append(out, record)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return out, nil
}
