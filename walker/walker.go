package walker

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"filewarden/logger"
)

// Walker enumerates regular files under a root. Each call to Walk re-walks
// from scratch, so a Walker can be reused across operations.
type Walker struct {
	Recursive        bool
	ExcludedDirNames []string
}

func New(recursive bool, excludedDirNames []string) *Walker {
	return &Walker{
		Recursive:        recursive,
		ExcludedDirNames: excludedDirNames,
	}
}

// ValidateRoot rejects a missing or non-directory root before any work
// starts. Engines call this once so a bad path surfaces as a single hard
// failure instead of an empty walk.
func ValidateRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("invalid root path %s: %v", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root path is not a directory: %s", root)
	}
	return nil
}

// Walk yields every regular file under root through fn. Directory read errors
// are logged and skipped; only fn errors and cancellation stop the walk.
// Symlinks are never followed.
func (w *Walker) Walk(ctx context.Context, root string, fn func(path string, info fs.DirEntry) error) error {
	rootInfo, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("invalid root path %s: %v", root, err)
	}

	type item struct {
		path  string
		entry fs.DirEntry
		depth int
	}
	stack := []item{{path: root, entry: fs.FileInfoToDirEntry(rootInfo), depth: 0}}
	for len(stack) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if current.entry.Type()&fs.ModeSymlink != 0 {
			continue
		}
		if !current.entry.IsDir() {
			if current.entry.Type().IsRegular() {
				if err := fn(current.path, current.entry); err != nil {
					return err
				}
			}
			continue
		}
		if current.depth > 0 && !w.Recursive {
			continue
		}
		if current.depth > 0 && w.isExcluded(current.entry.Name()) {
			logger.Debugf("Skipping excluded directory: %s", current.path)
			continue
		}

		entries, err := os.ReadDir(current.path)
		if err != nil {
			logger.Warnf("Failed to read directory %s: %v", current.path, err)
			continue
		}
		for i := range entries {
			child := entries[i]
			stack = append(stack, item{
				path:  filepath.Join(current.path, child.Name()),
				entry: child,
				depth: current.depth + 1,
			})
		}
	}
	return nil
}

// Collect materializes the walk into a slice. Engines that need an exact
// total for progress reporting use this instead of streaming.
func (w *Walker) Collect(ctx context.Context, root string) ([]string, error) {
	var paths []string
	err := w.Walk(ctx, root, func(path string, _ fs.DirEntry) error {
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// isExcluded matches whole path segments case-insensitively, never
// substrings, so "Windows" does not exclude "WindowsBackup".
func (w *Walker) isExcluded(name string) bool {
	for _, excluded := range w.ExcludedDirNames {
		if strings.EqualFold(name, excluded) {
			return true
		}
	}
	return false
}
