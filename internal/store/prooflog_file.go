package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileProofLog keeps the upload log as JSON lines, one upload per line.
type FileProofLog struct {
	path string
	mu   sync.Mutex
}

func NewFileProofLog(path string) *FileProofLog {
	return &FileProofLog{path: path}
}

func (l *FileProofLog) Append(ctx context.Context, entry ProofUpload) (ProofUpload, error) {
	if err := ctx.Err(); err != nil {
		return ProofUpload{}, err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.readLocked()
	if err != nil {
		return ProofUpload{}, err
	}
	entry.ID = int64(len(existing)) + 1

	line, err := json.Marshal(entry)
	if err != nil {
		return ProofUpload{}, storageError("encode", l.path, err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return ProofUpload{}, storageError("mkdir", filepath.Dir(l.path), err)
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return ProofUpload{}, storageError("open", l.path, err)
	}
	defer file.Close()
	if _, err := file.Write(append(line, '\n')); err != nil {
		return ProofUpload{}, storageError("append", l.path, err)
	}
	return entry, nil
}

// List returns uploads newest first. limit <= 0 means 50.
func (l *FileProofLog) List(ctx context.Context, limit int) ([]ProofUpload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	l.mu.Lock()
	items, err := l.readLocked()
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp.After(items[j].Timestamp)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (l *FileProofLog) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (l *FileProofLog) readLocked() ([]ProofUpload, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []ProofUpload{}, nil
	}
	if err != nil {
		return nil, storageError("read", l.path, err)
	}

	items := make([]ProofUpload, 0)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var item ProofUpload
		if err := json.Unmarshal(line, &item); err != nil {
			return nil, storageError("decode", l.path, err)
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, storageError("read", l.path, err)
	}
	return items, nil
}
