// Package upload stores proof documents. Files are renamed on the way in so
// user-supplied names never reach the filesystem or the bucket.
package upload

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("document not found")
	ErrInvalidName = errors.New("invalid document name")
)

type Stored struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName"`
	ContentType  string `json:"contentType,omitempty"`
	Size         int64  `json:"size"`
}

type Store interface {
	Put(ctx context.Context, originalName, contentType string, r io.Reader, size int64) (Stored, error)
	Open(ctx context.Context, filename string) (io.ReadCloser, error)
}

// StoredName is a fresh uuid with the original extension, lower-cased.
// Extensions with anything but letters and digits are dropped.
func StoredName(originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	if len(ext) > 10 || !cleanExt(ext) {
		ext = ""
	}
	return uuid.NewString() + ext
}

// ValidateName accepts only names StoredName could have produced.
func ValidateName(name string) error {
	ext := filepath.Ext(name)
	if !cleanExt(strings.ToLower(ext)) {
		return ErrInvalidName
	}
	if _, err := uuid.Parse(strings.TrimSuffix(name, ext)); err != nil {
		return ErrInvalidName
	}
	return nil
}

func cleanExt(ext string) bool {
	if ext == "" {
		return true
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return len(ext) > 1
}
