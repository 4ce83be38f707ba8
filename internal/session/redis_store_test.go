package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not-a-url"); err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}

func TestSaveAndLookupSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	err := store.Save(ctx, "jti-1", Session{UserID: "g-123", Name: "Ana Lima", Email: "ana@example.com"}, time.Hour)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	sess, err := store.Lookup(ctx, "jti-1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if sess.UserID != "g-123" || sess.Email != "ana@example.com" {
		t.Errorf("unexpected session: %+v", sess)
	}
	if sess.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestLookupExpiredSession(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "short", Session{UserID: "u"}, time.Second); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	s.FastForward(2 * time.Second)

	if _, err := store.Lookup(ctx, "short"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for expired session, got %v", err)
	}
}

func TestSetActiveProofKeepsExpiry(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "jti-2", Session{UserID: "u"}, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.SetActiveProof(ctx, "jti-2", "proof.pdf"); err != nil {
		t.Fatalf("SetActiveProof failed: %v", err)
	}

	sess, err := store.Lookup(ctx, "jti-2")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if sess.ActiveProof != "proof.pdf" {
		t.Errorf("expected active proof, got %q", sess.ActiveProof)
	}
	if ttl := s.TTL(store.key("jti-2")); ttl <= 0 || ttl > time.Hour {
		t.Errorf("expected ttl to be kept, got %v", ttl)
	}

	if err := store.SetActiveProof(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown session, got %v", err)
	}
}

func TestRevokeSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "jti-3", Session{UserID: "u"}, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Revoke(ctx, "jti-3"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if _, err := store.Lookup(ctx, "jti-3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after revoke, got %v", err)
	}

	// Revoking a missing session is not an error.
	if err := store.Revoke(ctx, "never-existed"); err != nil {
		t.Errorf("Revoke of missing session failed: %v", err)
	}
}

func TestSessionIsolation(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := store.Save(ctx, id, Session{UserID: "user-" + id}, time.Hour); err != nil {
			t.Fatalf("Save %s failed: %v", id, err)
		}
	}
	if err := store.Revoke(ctx, "a"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	sess, err := store.Lookup(ctx, "b")
	if err != nil {
		t.Fatalf("Lookup b after revoke failed: %v", err)
	}
	if sess.UserID != "user-b" {
		t.Errorf("expected user-b, got %s", sess.UserID)
	}
}
