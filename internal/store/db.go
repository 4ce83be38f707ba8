package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open connects to postgres through the pgx stdlib driver. The proof log is
// the only table user, so the pool stays small.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(2)
	db.SetMaxOpenConns(5)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// OpenProofLog picks the postgres log when databaseURL is set and the JSON
// lines file otherwise. The returned close func is never nil.
func OpenProofLog(ctx context.Context, databaseURL string, migrations fs.FS, filePath string) (ProofLog, func() error, error) {
	if databaseURL == "" {
		return NewFileProofLog(filePath), func() error { return nil }, nil
	}
	db, err := Open(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := ApplyMigrations(ctx, db, migrations); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrations failed: %w", err)
	}
	return NewPostgresProofLog(db), db.Close, nil
}
