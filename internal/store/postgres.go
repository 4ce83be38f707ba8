package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresProofLog keeps the upload log in the proof_uploads table. The
// table rejects UPDATE and DELETE at the database level.
type PostgresProofLog struct {
	db *sql.DB
}

func NewPostgresProofLog(db *sql.DB) *PostgresProofLog {
	return &PostgresProofLog{db: db}
}

func (s *PostgresProofLog) DB() *sql.DB {
	return s.db
}

func (s *PostgresProofLog) Append(ctx context.Context, entry ProofUpload) (ProofUpload, error) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO proof_uploads (filename, original_name, uploaded_by, email, size_bytes, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, entry.Filename, entry.OriginalName, entry.UploadedBy, entry.Email, entry.SizeBytes, entry.Timestamp).Scan(&entry.ID)
	if err != nil {
		return ProofUpload{}, storageError("insert proof upload", "", err)
	}
	return entry, nil
}

func (s *PostgresProofLog) List(ctx context.Context, limit int) ([]ProofUpload, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, original_name, uploaded_by, email, size_bytes, uploaded_at
		FROM proof_uploads
		ORDER BY uploaded_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, storageError("list proof uploads", "", err)
	}
	defer rows.Close()

	items := make([]ProofUpload, 0)
	for rows.Next() {
		var item ProofUpload
		if err := rows.Scan(
			&item.ID,
			&item.Filename,
			&item.OriginalName,
			&item.UploadedBy,
			&item.Email,
			&item.SizeBytes,
			&item.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan proof upload: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proof uploads: %w", err)
	}
	return items, nil
}

func (s *PostgresProofLog) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
