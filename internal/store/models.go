package store

import (
	"context"
	"time"
)

// ProofUpload is one entry of the append-only proof upload log.
type ProofUpload struct {
	ID           int64     `json:"id,omitempty"`
	Filename     string    `json:"filename"`
	OriginalName string    `json:"originalName"`
	UploadedBy   string    `json:"uploadedBy"`
	Email        string    `json:"email"`
	SizeBytes    int64     `json:"size"`
	Timestamp    time.Time `json:"timestamp"`
}

// ProofLog records proof uploads. Entries are never updated or removed.
type ProofLog interface {
	Append(ctx context.Context, entry ProofUpload) (ProofUpload, error)
	List(ctx context.Context, limit int) ([]ProofUpload, error)
	Ping(ctx context.Context) error
}
