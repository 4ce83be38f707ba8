package search

import (
	"log"
	"sync"

	"breeditor/api/internal/rules"
)

const (
	EngineMeili  = "meilisearch"
	EngineMemory = "memory"
)

// Service is the facade that tries Meilisearch first and falls back to the
// in-memory index.
type Service struct {
	meili  *Meili
	memory *Memory

	mu      sync.Mutex
	indexed map[string]struct{}
	latest  []RuleDocument
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili) *Service {
	s := &Service{
		meili:   meili,
		memory:  NewMemory(),
		indexed: map[string]struct{}{},
	}
	if meili != nil {
		meili.onRecover = s.pushLatest
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to the in-memory index.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: EngineMeili}
		}
		log.Printf("search: meilisearch error, falling back to memory: %v", err)
	}

	results, total, err := s.memory.Search(q)
	if err != nil {
		log.Printf("search: memory error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Engine: EngineMemory}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: EngineMemory}
}

// Reindex replaces the indexed rule set with records. The in-memory index
// is updated synchronously; Meilisearch is updated fire-and-forget, and
// documents for rules that disappeared are deleted.
func (s *Service) Reindex(records []rules.Record) {
	docs := DocumentsFor(records)
	s.memory.Replace(docs)

	s.mu.Lock()
	current := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		current[doc.ID] = struct{}{}
	}
	var removed []string
	for key := range s.indexed {
		if _, ok := current[key]; !ok {
			removed = append(removed, key)
		}
	}
	s.indexed = current
	s.latest = docs
	s.mu.Unlock()

	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexRules(docs); err != nil {
			log.Printf("search: index %d rules: %v", len(docs), err)
		}
		for _, key := range removed {
			if err := s.meili.DeleteRule(key); err != nil {
				log.Printf("search: delete rule %s: %v", key, err)
			}
		}
	}()
}

// pushLatest re-sends the last known rule set after Meilisearch comes back.
func (s *Service) pushLatest() {
	s.mu.Lock()
	docs := s.latest
	s.mu.Unlock()
	if err := s.meili.IndexRules(docs); err != nil {
		log.Printf("search: reindex after recovery: %v", err)
	}
}

// Engine names the backend that would serve a query right now.
func (s *Service) Engine() string {
	if s.meili != nil && s.meili.Healthy() {
		return EngineMeili
	}
	return EngineMemory
}

// Close stops the Meilisearch health monitor, if any.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
