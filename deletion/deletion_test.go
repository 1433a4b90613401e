package deletion

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"filewarden/logger"
	"filewarden/status"
	"filewarden/walker"
)

func TestRulesOrSemantics(t *testing.T) {
	rules := Rules{
		Extensions:    []string{".tmp"},
		OlderThanDays: 30,
		SizeBelowKB:   10,
	}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	// matches only the size rule
	matched, reasons := rules.Evaluate("/data/keep.pdf", 500, now.AddDate(0, 0, -1), now)
	if !matched {
		t.Fatal("size-only match should still select the file")
	}
	if len(reasons) != 1 || reasons[0] != "size below 10 KB" {
		t.Errorf("reasons must list exactly the matching rules, got %v", reasons)
	}

	// matches all three rules
	matched, reasons = rules.Evaluate("/data/old.tmp", 100, now.AddDate(0, 0, -60), now)
	if !matched || len(reasons) != 3 {
		t.Errorf("expected all three reasons, got %v", reasons)
	}

	// matches nothing
	matched, reasons = rules.Evaluate("/data/fresh.pdf", 1024*1024, now, now)
	if matched || reasons != nil {
		t.Errorf("expected no match, got %v", reasons)
	}
}

func TestRulesExtensionCaseInsensitive(t *testing.T) {
	rules := Rules{Extensions: []string{".TMP"}}
	matched, reasons := rules.Evaluate("/x/a.tmp", 1, time.Now(), time.Now())
	if !matched || reasons[0] != "extension .tmp" {
		t.Errorf("extension matching should be case-insensitive, got %v", reasons)
	}
}

func TestDryRunScenario(t *testing.T) {
	logger.Init("info")
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "empty.dat"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "junk.tmp"), make([]byte, 5*1024), 0o644); err != nil {
		t.Fatal(err)
	}

	engine, err := NewEngine(walker.New(true, nil), Options{
		Rules:     Rules{Extensions: []string{".tmp"}},
		Permanent: true,
		DryRun:    true,
	})
	if err != nil {
		t.Fatal(err)
	}
	result, err := engine.Run(context.Background(), root, status.Discard{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if result.Selected != 1 {
		t.Errorf("expected 1 file flagged, got %d", result.Selected)
	}
	if result.Deleted != 0 {
		t.Errorf("dry run must remove nothing, got %d", result.Deleted)
	}
	if len(result.Deletions) != 1 || result.Deletions[0].Reasons[0] != "extension .tmp" {
		t.Errorf("unexpected deletions: %+v", result.Deletions)
	}
	if _, err := os.Stat(filepath.Join(root, "junk.tmp")); err != nil {
		t.Error("dry run removed a file")
	}
}

func TestPermanentDeletion(t *testing.T) {
	logger.Init("info")
	root := t.TempDir()
	target := filepath.Join(root, "junk.tmp")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	engine, err := NewEngine(walker.New(true, nil), Options{
		Rules:     Rules{Extensions: []string{".tmp"}},
		Permanent: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	result, err := engine.Run(context.Background(), root, status.Discard{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Deleted != 1 || result.Failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("file should be unlinked")
	}
}

func TestTrashDeletion(t *testing.T) {
	logger.Init("info")
	root := t.TempDir()
	trash := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "junk.tmp"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	engine, err := NewEngine(walker.New(true, nil), Options{
		Rules:    Rules{Extensions: []string{".tmp"}},
		TrashDir: trash,
	})
	if err != nil {
		t.Fatal(err)
	}
	result, err := engine.Run(context.Background(), root, status.Discard{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Deleted != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Deletions[0].TrashPath == "" {
		t.Fatal("trash path should be recorded")
	}
	if _, err := os.Stat(result.Deletions[0].TrashPath); err != nil {
		t.Errorf("trashed file missing: %v", err)
	}
}

func TestTrashCollisionNaming(t *testing.T) {
	logger.Init("info")
	trash := t.TempDir()
	engine, err := NewEngine(walker.New(true, nil), Options{
		Rules:    Rules{Extensions: []string{".tmp"}},
		TrashDir: trash,
	})
	if err != nil {
		t.Fatal(err)
	}
	frozen := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return frozen }

	var paths []string
	for _, dir := range []string{t.TempDir(), t.TempDir()} {
		path := filepath.Join(dir, "same.tmp")
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		deletion := &Deletion{Path: path}
		if err := engine.remove(path, deletion); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, deletion.TrashPath)
	}
	if paths[0] == paths[1] {
		t.Fatal("collision produced identical trash paths")
	}
}

func TestDeleteOne(t *testing.T) {
	logger.Init("info")
	path := filepath.Join(t.TempDir(), "single.log")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	engine, err := NewEngine(walker.New(true, nil), Options{
		Rules:     Rules{Extensions: []string{".log"}},
		Permanent: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	deletion, err := engine.DeleteOne(path)
	if err != nil {
		t.Fatalf("single delete failed: %v", err)
	}
	if deletion.Path != path {
		t.Errorf("unexpected deletion record: %+v", deletion)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file should be removed")
	}
}

func TestNewEngineRejectsEmptyRules(t *testing.T) {
	if _, err := NewEngine(walker.New(true, nil), Options{Permanent: true}); err == nil {
		t.Error("empty rules must be rejected")
	}
}

func TestNewEngineRequiresTrashDir(t *testing.T) {
	if _, err := NewEngine(walker.New(true, nil), Options{
		Rules: Rules{Extensions: []string{".tmp"}},
	}); err == nil {
		t.Error("non-permanent mode without a trash dir must be rejected")
	}
}
