// Package session holds the server-side state behind a login cookie: who
// the user is and which proof document they are working against.
package session

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("session not found or expired")

// Session is keyed by the JTI of the cookie token that references it.
type Session struct {
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	ActiveProof string    `json:"active_proof,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Store interface {
	Save(ctx context.Context, id string, sess Session, ttl time.Duration) error
	Lookup(ctx context.Context, id string) (Session, error)
	// SetActiveProof updates the proof without touching the expiry.
	SetActiveProof(ctx context.Context, id, proof string) error
	Revoke(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

const defaultTTL = 24 * time.Hour
