package allowlist

import (
	"os"
	"path/filepath"
	"testing"

	"filewarden/logger"
)

func writeList(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "known_good.txt")
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndContains(t *testing.T) {
	logger.Init("info")
	path := writeList(t, `
# known good digests
e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855
B94D27B9934D3E08A52E52D7DA7DABFAC484EFE37A5380EE9088F7ACE2EFCDE9

`)
	list, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if list.Size() != 2 {
		t.Errorf("expected 2 hashes, got %d", list.Size())
	}
	if !list.Contains("e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855") {
		t.Error("expected membership for listed hash")
	}
	// matching is case-insensitive
	if !list.Contains("b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9") {
		t.Error("expected membership regardless of hex case")
	}
}

func TestLoadEmptyListRejected(t *testing.T) {
	logger.Init("info")
	path := writeList(t, "# only comments\n\n")
	if _, err := Load(path); err == nil {
		t.Error("empty allowlist should be rejected")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/list.txt"); err == nil {
		t.Error("missing allowlist should be rejected")
	}
}

func TestNilAllowlist(t *testing.T) {
	var list *Allowlist
	if list.Contains("abc") {
		t.Error("nil allowlist must report false")
	}
	if list.Size() != 0 {
		t.Error("nil allowlist must report size 0")
	}
}
