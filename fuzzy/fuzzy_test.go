package fuzzy

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

func TestHashFileProducesDigest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.bin")
	rng := rand.New(rand.NewSource(1))
	data := make([]byte, 4096)
	rng.Read(data)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	h := New(256, 1024*1024)
	digest, err := h.HashFile(path)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if digest == "" {
		t.Error("expected non-empty digest for in-bounds file")
	}
}

func TestHashFileSkipsOutOfBounds(t *testing.T) {
	dir := t.TempDir()
	small := filepath.Join(dir, "small.bin")
	if err := os.WriteFile(small, []byte("tiny"), 0o644); err != nil {
		t.Fatal(err)
	}
	large := filepath.Join(dir, "large.bin")
	if err := os.WriteFile(large, bytes.Repeat([]byte{0xCC}, 2048), 0o644); err != nil {
		t.Fatal(err)
	}

	h := New(256, 1024)
	if digest, err := h.HashFile(small); err != nil || digest != "" {
		t.Errorf("undersized file should be skipped, got %q %v", digest, err)
	}
	if digest, err := h.HashFile(large); err != nil || digest != "" {
		t.Errorf("oversized file should be skipped, got %q %v", digest, err)
	}
}

func TestHashFileMissing(t *testing.T) {
	h := New(0, 0)
	if _, err := h.HashFile("/nonexistent/file"); err == nil {
		t.Error("expected error for missing file")
	}
}
