// Package search finds rules by free text. Meilisearch serves queries when
// it is configured and healthy; an in-memory index over the same documents
// answers otherwise.
package search

import (
	"encoding/hex"

	"breeditor/api/internal/rules"
)

// Result is a single search hit returned to the caller.
type Result struct {
	RuleID      string `json:"ruleId"`
	Parameter   string `json:"ruleCheckpointParameter"`
	Category    string `json:"ruleTemplateGroupCategory"`
	Description string `json:"ruleDescription"`
	Value       string `json:"editableValue"`
	Snippet     string `json:"snippet,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text     string
	Category string
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// RuleDocument is what gets indexed for one rule. ID is a key derived from
// the rule id that only uses characters Meilisearch accepts.
type RuleDocument struct {
	ID          string `json:"id"`
	RuleID      string `json:"ruleId"`
	Parameter   string `json:"parameter"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Value       string `json:"value"`
	RuleType    string `json:"ruleType"`
}

func DocumentFor(r rules.Record) RuleDocument {
	return RuleDocument{
		ID:          documentKey(r.ID()),
		RuleID:      r.ID(),
		Parameter:   r.Parameter(),
		Category:    r.Category(),
		Description: r.Description(),
		Value:       rules.ResolveValue(r),
		RuleType:    r.RuleType(),
	}
}

func DocumentsFor(records []rules.Record) []RuleDocument {
	out := make([]RuleDocument, 0, len(records))
	for _, record := range records {
		if record.ID() == "" {
			continue
		}
		out = append(out, DocumentFor(record))
	}
	return out
}

func documentKey(ruleID string) string {
	return "r" + hex.EncodeToString([]byte(ruleID))
}

func (d RuleDocument) result() Result {
	return Result{
		RuleID:      d.RuleID,
		Parameter:   d.Parameter,
		Category:    d.Category,
		Description: d.Description,
		Value:       d.Value,
	}
}

const defaultLimit = 20
