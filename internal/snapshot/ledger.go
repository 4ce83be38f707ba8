// Package snapshot keeps versioned copies of the rule collection per proof
// document. Every snapshot is an immutable timestamped file plus a mutable
// latest copy, committed together to a git repository in the snapshot
// directory so the history of a proof can be listed.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"breeditor/api/internal/rules"
)

const stampLayout = "20060102T150405.000Z"

var (
	ErrInvalidProof = errors.New("invalid proof id")
	ErrNotFound     = errors.New("snapshot not found")
)

// Author identifies who triggered a snapshot.
type Author struct {
	Name  string
	Email string
}

// Document is the JSON written for every snapshot.
type Document struct {
	ProofFilename string         `json:"proofFilename"`
	Timestamp     time.Time      `json:"timestamp"`
	Rules         []rules.Record `json:"rules"`
}

type Info struct {
	ProofID   string    `json:"proofFilename"`
	Filename  string    `json:"filename"`
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
	RuleCount int       `json:"ruleCount"`
}

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Ledger struct {
	dir string
	now func() time.Time

	repoMu sync.Mutex
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func New(dir string) *Ledger {
	return &Ledger{
		dir:   dir,
		now:   func() time.Time { return time.Now().UTC() },
		locks: make(map[string]*sync.Mutex),
	}
}

// Snapshot writes records as the newest version for proofID. An empty
// proofID is not an error: nothing is written and the zero Info returned.
func (l *Ledger) Snapshot(proofID string, author Author, records []rules.Record) (Info, error) {
	if proofID == "" {
		log.Printf("snapshot skipped: no active proof")
		return Info{}, nil
	}
	if err := ValidateProofID(proofID); err != nil {
		return Info{}, err
	}
	if records == nil {
		records = []rules.Record{}
	}

	lock := l.proofLock(proofID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return Info{}, fmt.Errorf("create snapshot dir: %w", err)
	}

	stamp := l.now()
	doc := Document{ProofFilename: proofID, Timestamp: stamp, Rules: records}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Info{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	payload = append(payload, '\n')

	versioned, err := l.writeVersioned(proofID, stamp, payload)
	if err != nil {
		return Info{}, err
	}
	latest := LatestName(proofID)
	if err := writeFileAtomic(filepath.Join(l.dir, latest), payload); err != nil {
		return Info{}, fmt.Errorf("write latest snapshot: %w", err)
	}

	message := fmt.Sprintf("Snapshot %s (%d rules)", proofID, len(records))
	hash, err := l.commit([]string{versioned, latest}, author, message)
	if err != nil {
		return Info{}, err
	}

	return Info{
		ProofID:   proofID,
		Filename:  versioned,
		Hash:      shortHash(hash),
		Timestamp: stamp,
		RuleCount: len(records),
	}, nil
}

// Latest returns the newest snapshot of proofID.
func (l *Ledger) Latest(proofID string) (Document, error) {
	if err := ValidateProofID(proofID); err != nil {
		return Document{}, err
	}
	data, err := l.Get(LatestName(proofID))
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode snapshot %s: %w", proofID, err)
	}
	return doc, nil
}

// Get reads a snapshot file by name, either a versioned or a latest file.
func (l *Ledger) Get(name string) ([]byte, error) {
	if err := ValidateProofID(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(l.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", name, err)
	}
	return data, nil
}

// History lists the commits that touched the latest file of proofID, newest
// first. limit <= 0 returns every commit.
func (l *Ledger) History(proofID string, limit int) ([]CommitInfo, error) {
	if err := ValidateProofID(proofID); err != nil {
		return nil, err
	}
	l.repoMu.Lock()
	defer l.repoMu.Unlock()

	repo, err := git.PlainOpen(l.dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open snapshot repo: %w", err)
	}
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	latest := LatestName(proofID)
	iter, err := repo.Log(&git.LogOptions{From: head.Hash(), FileName: &latest})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Revision returns the latest file of proofID as it was at commit hash.
func (l *Ledger) Revision(proofID, hash string) ([]byte, error) {
	if err := ValidateProofID(proofID); err != nil {
		return nil, err
	}
	l.repoMu.Lock()
	defer l.repoMu.Unlock()

	repo, err := git.PlainOpen(l.dir)
	if err != nil {
		return nil, fmt.Errorf("open snapshot repo: %w", err)
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return nil, ErrNotFound
	}
	commitObj, err := repo.CommitObject(*resolved)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", hash, err)
	}
	file, err := commitObj.File(LatestName(proofID))
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot from commit: %w", err)
	}
	contents, err := file.Contents()
	if err != nil {
		return nil, fmt.Errorf("read snapshot from commit: %w", err)
	}
	return []byte(contents), nil
}

// LatestName is the file name of the mutable latest snapshot.
func LatestName(proofID string) string {
	return proofID + ".json"
}

// VersionedName is the file name of the immutable snapshot taken at stamp.
func VersionedName(proofID string, stamp time.Time) string {
	return proofID + "_" + stamp.UTC().Format(stampLayout) + ".json"
}

// ValidateProofID rejects ids that could escape the snapshot directory.
func ValidateProofID(proofID string) error {
	switch {
	case proofID == "", proofID == ".", proofID == "..":
		return ErrInvalidProof
	case strings.ContainsAny(proofID, `/\`), strings.ContainsRune(proofID, 0):
		return ErrInvalidProof
	case strings.HasPrefix(proofID, ".git"):
		return ErrInvalidProof
	}
	return nil
}

// writeVersioned creates the immutable file, moving the stamp forward a
// millisecond at a time if two snapshots land in the same millisecond.
func (l *Ledger) writeVersioned(proofID string, stamp time.Time, payload []byte) (string, error) {
	for attempt := 0; attempt < 50; attempt++ {
		name := VersionedName(proofID, stamp.Add(time.Duration(attempt)*time.Millisecond))
		file, err := os.OpenFile(filepath.Join(l.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create snapshot %s: %w", name, err)
		}
		if _, err := file.Write(payload); err != nil {
			_ = file.Close()
			return "", fmt.Errorf("write snapshot %s: %w", name, err)
		}
		if err := file.Close(); err != nil {
			return "", fmt.Errorf("close snapshot %s: %w", name, err)
		}
		return name, nil
	}
	return "", fmt.Errorf("create snapshot for %s: too many snapshots in the same instant", proofID)
}

func (l *Ledger) commit(files []string, author Author, message string) (plumbing.Hash, error) {
	l.repoMu.Lock()
	defer l.repoMu.Unlock()

	repo, err := l.openOrInit()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}
	for _, name := range files {
		if _, err := worktree.Add(name); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("git add %s: %w", name, err)
		}
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: signature(author, l.now()),
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit snapshot: %w", err)
	}
	return hash, nil
}

func (l *Ledger) openOrInit() (*git.Repository, error) {
	repo, err := git.PlainOpen(l.dir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open snapshot repo: %w", err)
	}
	repo, err = git.PlainInit(l.dir, false)
	if err != nil {
		return nil, fmt.Errorf("init snapshot repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (l *Ledger) proofLock(proofID string) *sync.Mutex {
	l.lockMu.Lock()
	defer l.lockMu.Unlock()
	lock, ok := l.locks[proofID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	l.locks[proofID] = lock
	return lock
}

func writeFileAtomic(path string, payload []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func signature(author Author, when time.Time) *object.Signature {
	name := strings.TrimSpace(author.Name)
	if name == "" {
		name = "BRE Editor"
	}
	email := strings.TrimSpace(author.Email)
	if email == "" {
		email = sanitizeEmail(name) + "@local.bre-editor"
	}
	return &object.Signature{Name: name, Email: email, When: when}
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      shortHash(commitObj.Hash),
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func shortHash(hash plumbing.Hash) string {
	return hash.String()[:7]
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
