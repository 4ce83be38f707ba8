package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"breeditor/api/internal/metrics"
	"breeditor/api/internal/rules"
)

const listKey = "ruleUnitDtoList"

// Guard inspects the stored record before an upsert is applied and may veto
// it. current is nil when the id is not in the collection yet.
type Guard func(current rules.Record) error

// Commit runs after a successful write while the store lock is still held,
// so commits observe writes in the order they landed. records is the
// collection as written.
type Commit func(records []rules.Record)

type UpsertResult struct {
	Record  rules.Record
	Created bool
	// Rules is the whole collection as written.
	Rules []rules.Record
}

// RuleFile keeps the rule collection in a single JSON file. Every
// read-modify-write cycle runs under one mutex and lands with a rename, so
// concurrent edits never lose each other and readers never see half a file.
type RuleFile struct {
	path string

	mu       sync.Mutex
	lastSeen [sha256.Size]byte
}

func NewRuleFile(path string) *RuleFile {
	return &RuleFile{path: path}
}

func (s *RuleFile) Path() string {
	return s.path
}

// Ensure writes an empty collection when the file does not exist yet.
func (s *RuleFile) Ensure() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return storageError("stat", s.path, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return storageError("mkdir", filepath.Dir(s.path), err)
	}
	return s.writeLocked(nil, nil)
}

func (s *RuleFile) LoadAll(ctx context.Context) ([]rules.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, records, err := s.readLocked()
	return records, err
}

func (s *RuleFile) FindByID(ctx context.Context, id string) (rules.Record, error) {
	records, err := s.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	if i := indexOf(records, id); i >= 0 {
		return records[i], nil
	}
	return nil, ErrNotFound
}

// Upsert merges edit into the record with id, or creates it from edit when
// the id is unknown, and rewrites the file.
func (s *RuleFile) Upsert(ctx context.Context, id string, edit rules.Edit, guard Guard, commit Commit) (UpsertResult, error) {
	if id == "" {
		return UpsertResult{}, ErrMissingID
	}
	if err := ctx.Err(); err != nil {
		return UpsertResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	envelope, records, err := s.readLocked()
	if err != nil {
		return UpsertResult{}, err
	}

	i := indexOf(records, id)
	var current rules.Record
	if i >= 0 {
		current = records[i]
	}
	if guard != nil {
		if err := guard(current); err != nil {
			return UpsertResult{}, err
		}
	}

	var next rules.Record
	if i >= 0 {
		next, err = rules.ApplyEdit(current, edit)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("merge rule %s: %w", id, err)
		}
		records[i] = next
	} else {
		next, err = rules.NewRecord(id, edit)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("build rule %s: %w", id, err)
		}
		records = append(records, next)
	}

	if err := s.writeLocked(envelope, records); err != nil {
		return UpsertResult{}, err
	}
	runCommit(commit, records)
	return UpsertResult{Record: next, Created: i < 0, Rules: records}, nil
}

// Create appends record, refusing ids that are already taken.
func (s *RuleFile) Create(ctx context.Context, record rules.Record, commit Commit) ([]rules.Record, error) {
	id := record.ID()
	if id == "" {
		return nil, ErrMissingID
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	envelope, records, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	if indexOf(records, id) >= 0 {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	records = append(records, record.Clone())
	if err := s.writeLocked(envelope, records); err != nil {
		return nil, err
	}
	runCommit(commit, records)
	return records, nil
}

func (s *RuleFile) Remove(ctx context.Context, id string, commit Commit) ([]rules.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	envelope, records, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	i := indexOf(records, id)
	if i < 0 {
		return nil, ErrNotFound
	}
	records = append(records[:i], records[i+1:]...)
	if err := s.writeLocked(envelope, records); err != nil {
		return nil, err
	}
	runCommit(commit, records)
	return records, nil
}

// Replace swaps the whole collection, as an import does. Every record needs
// a distinct non-empty ruleId.
func (s *RuleFile) Replace(ctx context.Context, records []rules.Record, commit Commit) ([]rules.Record, error) {
	seen := make(map[string]struct{}, len(records))
	for _, record := range records {
		id := record.ID()
		if id == "" {
			return nil, ErrMissingID
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
		seen[id] = struct{}{}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	envelope, _, err := s.readLocked()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	out := make([]rules.Record, len(records))
	for i, record := range records {
		out[i] = record.Clone()
	}
	if err := s.writeLocked(envelope, out); err != nil {
		return nil, err
	}
	runCommit(commit, out)
	return out, nil
}

// ExternalChange reports whether the file now differs from what this store
// last read or wrote, and remembers the new content.
func (s *RuleFile) ExternalChange() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return false, storageError("read", s.path, err)
	}
	sum := sha256.Sum256(data)
	if sum == s.lastSeen {
		return false, nil
	}
	s.lastSeen = sum
	return true, nil
}

func (s *RuleFile) readLocked() ([]byte, []rules.Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, nil, storageError("read", s.path, err)
	}
	if err := checkCollection(data); err != nil {
		return nil, nil, storageError("load", s.path, err)
	}
	s.lastSeen = sha256.Sum256(data)

	list := gjson.GetBytes(data, listKey).Array()
	records := make([]rules.Record, 0, len(list))
	for _, item := range list {
		records = append(records, rules.Record(item.Raw))
	}
	return data, records, nil
}

// writeLocked rewrites the file with records, keeping every other top-level
// key of envelope.
func (s *RuleFile) writeLocked(envelope []byte, records []rules.Record) error {
	timer := metrics.StoreWriteTimer()
	defer timer.ObserveDuration()

	if !gjson.ValidBytes(envelope) || !gjson.ParseBytes(envelope).IsObject() {
		envelope = []byte("{}")
	}
	doc, err := sjson.SetRawBytes(envelope, listKey, joinRecords(records))
	if err != nil {
		return storageError("encode", s.path, err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, doc, "", "  "); err != nil {
		return storageError("encode", s.path, err)
	}
	out.WriteByte('\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return storageError("write", s.path, err)
	}
	tmpName := tmp.Name()
	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return storageError("write", s.path, err)
	}
	if _, err := tmp.Write(out.Bytes()); err != nil {
		return cleanup(err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return storageError("write", s.path, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return storageError("rename", s.path, err)
	}
	s.lastSeen = sha256.Sum256(out.Bytes())
	return nil
}

func runCommit(commit Commit, records []rules.Record) {
	if commit != nil {
		commit(records)
	}
}

func joinRecords(records []rules.Record) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, record := range records {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(record)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

func indexOf(records []rules.Record, id string) int {
	for i, record := range records {
		if record.ID() == id {
			return i
		}
	}
	return -1
}
