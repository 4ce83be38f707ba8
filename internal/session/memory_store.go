package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the single-process fallback used when no redis is
// configured. Sessions do not survive a restart.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryEntry
	now   func() time.Time
}

type memoryEntry struct {
	session   Session
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryEntry),
		now:   time.Now,
	}
}

func (s *MemoryStore) Save(_ context.Context, id string, sess Session, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	now := s.now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now.UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id] = memoryEntry{session: sess, expiresAt: now.Add(ttl)}
	s.sweepLocked(now)
	return nil
}

func (s *MemoryStore) Lookup(_ context.Context, id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.items[id]
	if !ok || !s.now().Before(entry.expiresAt) {
		delete(s.items, id)
		return Session{}, ErrNotFound
	}
	return entry.session, nil
}

func (s *MemoryStore) SetActiveProof(_ context.Context, id, proof string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.items[id]
	if !ok || !s.now().Before(entry.expiresAt) {
		delete(s.items, id)
		return ErrNotFound
	}
	entry.session.ActiveProof = proof
	s.items[id] = entry
	return nil
}

func (s *MemoryStore) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	for id, entry := range s.items {
		if !now.Before(entry.expiresAt) {
			delete(s.items, id)
		}
	}
}
