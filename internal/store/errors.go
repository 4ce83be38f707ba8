package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrDuplicateID = errors.New("duplicate rule id")
	ErrMissingID   = errors.New("rule id is required")
)

// StorageError reports that the backing file or table could not be read or
// written. The request that hit it fails; the process keeps serving.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageError(op, path string, err error) *StorageError {
	return &StorageError{Op: op, Path: path, Err: err}
}
