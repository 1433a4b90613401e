package walker

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"filewarden/logger"
)

func buildTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	mustWrite := func(rel string) {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite("a.txt")
	mustWrite("docs/b.pdf")
	mustWrite("docs/nested/c.log")
	mustWrite("$Recycle.Bin/ghost.tmp")
	mustWrite("system volume information/marker.bin")
	return root
}

func names(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, filepath.Base(p))
	}
	sort.Strings(out)
	return out
}

func TestWalkRecursiveWithExclusions(t *testing.T) {
	logger.Init("info")
	root := buildTree(t)
	w := New(true, []string{"$Recycle.Bin", "System Volume Information"})

	paths, err := w.Collect(context.Background(), root)
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}
	got := names(paths)
	want := []string{"a.txt", "b.pdf", "c.log"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}
}

func TestWalkNonRecursive(t *testing.T) {
	logger.Init("info")
	root := buildTree(t)
	w := New(false, nil)

	paths, err := w.Collect(context.Background(), root)
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}
	if len(paths) != 1 || filepath.Base(paths[0]) != "a.txt" {
		t.Errorf("non-recursive walk should yield only top-level files, got %v", paths)
	}
}

func TestWalkExclusionIsCaseInsensitiveSegmentMatch(t *testing.T) {
	logger.Init("info")
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "WINSXS"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "WINSXS", "x.dll"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "WinSxSBackup"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "WinSxSBackup", "y.dll"), []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := New(true, []string{"WinSxS"})
	paths, err := w.Collect(context.Background(), root)
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}
	if len(paths) != 1 || filepath.Base(paths[0]) != "y.dll" {
		t.Errorf("exclusion must match whole segments case-insensitively, got %v", paths)
	}
}

func TestWalkCancellation(t *testing.T) {
	logger.Init("info")
	root := buildTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := New(true, nil)
	if _, err := w.Collect(ctx, root); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestWalkIsRestartable(t *testing.T) {
	logger.Init("info")
	root := buildTree(t)
	w := New(true, nil)

	first, err := w.Collect(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	second, err := w.Collect(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != len(second) {
		t.Errorf("restarted walk yielded %d files, first walk %d", len(second), len(first))
	}
}

func TestValidateRoot(t *testing.T) {
	if err := ValidateRoot(t.TempDir()); err != nil {
		t.Errorf("valid directory rejected: %v", err)
	}
	if err := ValidateRoot("/nonexistent/road"); err == nil {
		t.Error("missing root should be rejected")
	}
	file := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ValidateRoot(file); err == nil {
		t.Error("file root should be rejected")
	}
}
