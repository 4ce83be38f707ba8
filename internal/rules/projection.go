package rules

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// Metadata is the nested description holder of a projection.
type Metadata struct {
	RuleDescription string `json:"ruleDescription"`
}

// Projection is the list view of a record served to the editor table.
type Projection struct {
	RuleID                    string      `json:"ruleId"`
	RuleCheckpointParameter   string      `json:"ruleCheckpointParameter"`
	RuleTemplateGroupCategory string      `json:"ruleTemplateGroupCategory"`
	RuleType                  string      `json:"ruleType,omitempty"`
	EditableValue             string      `json:"editableValue"`
	ValueLocation             string      `json:"valueLocation"`
	RuleMetadata              Metadata    `json:"ruleMetadata"`
	Validation                *Validation `json:"validation,omitempty"`
}

func Project(r Record) Projection {
	location := Locate(r)
	return Projection{
		RuleID:                    r.ID(),
		RuleCheckpointParameter:   r.Parameter(),
		RuleTemplateGroupCategory: r.Category(),
		RuleType:                  r.RuleType(),
		EditableValue:             location.Value(),
		ValueLocation:             location.Kind.String(),
		RuleMetadata:              Metadata{RuleDescription: r.Description()},
		Validation:                r.Validation(),
	}
}

func ProjectAll(records []Record) []Projection {
	out := make([]Projection, 0, len(records))
	for _, record := range records {
		out = append(out, Project(record))
	}
	return out
}

// FilterByCategory keeps records whose category equals category exactly.
// An empty category keeps everything.
func FilterByCategory(records []Record, category string) []Record {
	if category == "" {
		return records
	}
	out := make([]Record, 0, len(records))
	for _, record := range records {
		if record.Category() == category {
			out = append(out, record)
		}
	}
	return out
}

// Categories returns the sorted distinct categories, including "" when some
// record has none.
func Categories(records []Record) []string {
	seen := make(map[string]struct{}, len(records))
	for _, record := range records {
		seen[record.Category()] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for category := range seen {
		out = append(out, category)
	}
	sort.Strings(out)
	return out
}

// TitleCase trims s and upper-cases the first ASCII letter of every word,
// leaving the rest of each word as typed ("fraud-checks" -> "Fraud-Checks").
func TitleCase(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	b.Grow(len(s))
	prevWord := false
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		s = s[size:]
		word := isWordRune(r)
		if word && !prevWord && r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		b.WriteRune(r)
		prevWord = word
	}
	return b.String()
}

func isWordRune(r rune) bool {
	return r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
