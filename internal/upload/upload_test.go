package upload

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
)

func TestStoredNameKeepsCleanExtension(t *testing.T) {
	cases := map[string]string{
		"Proof.PDF":        ".pdf",
		"scan.jpeg":        ".jpeg",
		"no-extension":     "",
		"weird.p$f":        "",
		"long.abcdefghijk": "",
		"../../etc/passwd": "",
	}
	for original, ext := range cases {
		name := StoredName(original)
		if !strings.HasSuffix(name, ext) || strings.Contains(name, "/") {
			t.Fatalf("StoredName(%q) = %q, want suffix %q", original, name, ext)
		}
		if err := ValidateName(name); err != nil {
			t.Fatalf("ValidateName(%q) = %v", name, err)
		}
	}
}

func TestValidateNameRejectsForeignNames(t *testing.T) {
	for _, name := range []string{"../secret.pdf", "report.pdf", "", "rules.json.json"} {
		if err := ValidateName(name); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("ValidateName(%q) = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestDiskStorePutAndOpen(t *testing.T) {
	store := NewDiskStore(t.TempDir())
	ctx := context.Background()

	stored, err := store.Put(ctx, "evidence.pdf", "application/pdf", strings.NewReader("%PDF-1.4"), 8)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if stored.OriginalName != "evidence.pdf" || stored.Size != 8 || !strings.HasSuffix(stored.Filename, ".pdf") {
		t.Fatalf("unexpected stored: %+v", stored)
	}

	reader, err := store.Open(ctx, stored.Filename)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer reader.Close()
	body, _ := io.ReadAll(reader)
	if string(body) != "%PDF-1.4" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestDiskStoreOpenMissing(t *testing.T) {
	store := NewDiskStore(t.TempDir())
	_, err := store.Open(context.Background(), StoredName("gone.pdf"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Open(context.Background(), "../../etc/passwd"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestMinioStoreRoundTrip(t *testing.T) {
	endpoint := os.Getenv("TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("TEST_MINIO_ENDPOINT is not set")
	}
	ctx := context.Background()
	store, err := NewMinioStore(ctx, MinioConfig{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("TEST_MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("TEST_MINIO_SECRET_KEY"),
		Bucket:    "bre-proofs-test",
	})
	if err != nil {
		t.Fatalf("NewMinioStore() error = %v", err)
	}

	stored, err := store.Put(ctx, "proof.txt", "text/plain", strings.NewReader("hello"), 5)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	reader, err := store.Open(ctx, stored.Filename)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer reader.Close()
	body, _ := io.ReadAll(reader)
	if string(body) != "hello" {
		t.Fatalf("unexpected body %q", body)
	}

	if _, err := store.Open(ctx, StoredName("missing.txt")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
