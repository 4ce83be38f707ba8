package search

import (
	"strings"
	"sync"
)

// Memory is a case-insensitive substring index over the rule documents.
// It is always kept current, so it can take over whenever Meilisearch is
// down.
type Memory struct {
	mu   sync.RWMutex
	docs []RuleDocument
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Replace(docs []RuleDocument) {
	copied := make([]RuleDocument, len(docs))
	copy(copied, docs)
	m.mu.Lock()
	m.docs = copied
	m.mu.Unlock()
}

func (m *Memory) Healthy() bool {
	return true
}

func (m *Memory) Search(q Query) ([]Result, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	needle := strings.ToLower(strings.TrimSpace(q.Text))

	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]Result, 0)
	for _, doc := range m.docs {
		if q.Category != "" && doc.Category != q.Category {
			continue
		}
		field, ok := matchField(doc, needle)
		if !ok {
			continue
		}
		result := doc.result()
		result.Snippet = field
		matched = append(matched, result)
	}

	total := len(matched)
	if q.Offset >= total {
		return []Result{}, total, nil
	}
	end := q.Offset + limit
	if end > total {
		end = total
	}
	return matched[q.Offset:end], total, nil
}

// matchField returns the first field containing needle. An empty needle
// matches every document.
func matchField(doc RuleDocument, needle string) (string, bool) {
	if needle == "" {
		return "", true
	}
	for _, field := range []string{doc.RuleID, doc.Parameter, doc.Description, doc.Category, doc.Value} {
		if strings.Contains(strings.ToLower(field), needle) {
			return field, true
		}
	}
	return "", false
}
