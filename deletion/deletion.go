package deletion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filewarden/logger"
	"filewarden/status"
	"filewarden/walker"
)

// Rules select files for deletion. Rules combine with logical OR: any single
// match selects the file, and every matching rule is recorded as a reason.
type Rules struct {
	Extensions    []string
	OlderThanDays int
	SizeBelowKB   int
}

func (r Rules) Empty() bool {
	return len(r.Extensions) == 0 && r.OlderThanDays <= 0 && r.SizeBelowKB <= 0
}

// Evaluate returns whether the file matches and the exact list of rules that
// fired.
func (r Rules) Evaluate(path string, size int64, modTime time.Time, now time.Time) (bool, []string) {
	var reasons []string

	extension := strings.ToLower(filepath.Ext(path))
	for _, candidate := range r.Extensions {
		if extension == strings.ToLower(candidate) {
			reasons = append(reasons, "extension "+extension)
			break
		}
	}
	if r.OlderThanDays > 0 {
		cutoff := now.AddDate(0, 0, -r.OlderThanDays)
		if modTime.Before(cutoff) {
			reasons = append(reasons, fmt.Sprintf("older than %d days", r.OlderThanDays))
		}
	}
	if r.SizeBelowKB > 0 && size < int64(r.SizeBelowKB)*1024 {
		reasons = append(reasons, fmt.Sprintf("size below %d KB", r.SizeBelowKB))
	}

	return len(reasons) > 0, reasons
}

// Deletion is one selected file with the rules that selected it.
type Deletion struct {
	Path      string   `json:"path"`
	SizeBytes int64    `json:"size_bytes"`
	Reasons   []string `json:"reasons"`
	TrashPath string   `json:"trash_path,omitempty"`
}

// Result summarizes one deletion run.
type Result struct {
	DryRun     bool       `json:"dry_run"`
	TotalFiles int        `json:"total_files"`
	Selected   int        `json:"selected"`
	Deleted    int        `json:"deleted"`
	Failed     int        `json:"failed"`
	BytesFreed int64      `json:"bytes_freed"`
	Deletions  []Deletion `json:"deletions,omitempty"`
	Errors     []string   `json:"errors,omitempty"`
}

// Engine removes rule-matching files, either permanently or into a trash
// directory with collision-safe naming.
type Engine struct {
	walk         *walker.Walker
	rules        Rules
	permanent    bool
	trashDir     string
	dryRun       bool
	progressStep int
	now          func() time.Time
}

type Options struct {
	Rules        Rules
	Permanent    bool
	TrashDir     string
	DryRun       bool
	ProgressStep int
}

func NewEngine(walk *walker.Walker, opts Options) (*Engine, error) {
	if opts.Rules.Empty() {
		return nil, fmt.Errorf("at least one deletion rule must be specified")
	}
	if !opts.Permanent && opts.TrashDir == "" {
		return nil, fmt.Errorf("trash directory must be set for non-permanent deletion")
	}
	step := opts.ProgressStep
	if step <= 0 {
		step = 10
	}
	return &Engine{
		walk:         walk,
		rules:        opts.Rules,
		permanent:    opts.Permanent,
		trashDir:     opts.TrashDir,
		dryRun:       opts.DryRun,
		progressStep: step,
		now:          time.Now,
	}, nil
}

// Run evaluates every file under root against the rules and removes the
// matches. In dry-run mode matches are reported but nothing is touched.
func (e *Engine) Run(ctx context.Context, root string, sink status.Sink) (*Result, error) {
	if err := walker.ValidateRoot(root); err != nil {
		return nil, err
	}
	sink.Report("delete", 0, "enumerating files", true)

	paths, err := e.walk.Collect(ctx, root)
	if err != nil {
		return nil, err
	}

	result := &Result{DryRun: e.dryRun, TotalFiles: len(paths)}
	now := e.now()
	for i, path := range paths {
		select {
		case <-ctx.Done():
			sink.Report("delete", percent(i, len(paths)), "cancelled", false)
			return result, ctx.Err()
		default:
		}

		info, err := os.Stat(path)
		if err != nil {
			logger.Warnf("Failed to stat %s: %v", path, err)
			continue
		}
		matched, reasons := e.rules.Evaluate(path, info.Size(), info.ModTime(), now)
		if !matched {
			continue
		}
		result.Selected++
		deletion := Deletion{Path: path, SizeBytes: info.Size(), Reasons: reasons}

		if !e.dryRun {
			if err := e.remove(path, &deletion); err != nil {
				logger.Warnf("Failed to delete %s: %v", path, err)
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, err))
				continue
			}
			result.Deleted++
			result.BytesFreed += info.Size()
		}
		result.Deletions = append(result.Deletions, deletion)

		if (i+1)%e.progressStep == 0 {
			sink.Report("delete", percent(i+1, len(paths)), fmt.Sprintf("%d/%d files", i+1, len(paths)), true)
		}
	}

	sink.Report("delete", 100, fmt.Sprintf("%d selected, %d removed", result.Selected, result.Deleted), false)
	return result, nil
}

// DeleteOne is the single-file fast path: no walk, no rule evaluation, the
// caller has already decided.
func (e *Engine) DeleteOne(path string) (*Deletion, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	deletion := &Deletion{Path: path, SizeBytes: info.Size(), Reasons: []string{"requested"}}
	if e.dryRun {
		return deletion, nil
	}
	if err := e.remove(path, deletion); err != nil {
		return nil, err
	}
	return deletion, nil
}

func (e *Engine) remove(path string, deletion *Deletion) error {
	if e.permanent {
		return os.Remove(path)
	}
	if err := os.MkdirAll(e.trashDir, 0o700); err != nil {
		return fmt.Errorf("could not create trash directory: %v", err)
	}
	target := e.reserveTrashTarget(filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		return fmt.Errorf("trash move failed: %v", err)
	}
	deletion.TrashPath = target
	return nil
}

// reserveTrashTarget mirrors the quarantine naming scheme: timestamp prefix
// plus numeric suffix before the extension on collision.
func (e *Engine) reserveTrashTarget(name string) string {
	base := e.now().Format("20060102_150405") + "_" + name
	candidate := filepath.Join(e.trashDir, base)
	for counter := 1; exists(candidate); counter++ {
		ext := filepath.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		candidate = filepath.Join(e.trashDir, fmt.Sprintf("%s_%d%s", stem, counter, ext))
	}
	return candidate
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Preview lists what Run would delete without requiring a separate engine.
func (e *Engine) Preview(ctx context.Context, root string, sink status.Sink) (*Result, error) {
	preview := *e
	preview.dryRun = true
	return preview.Run(ctx, root, sink)
}

func percent(done, total int) int {
	if total == 0 {
		return 100
	}
	return done * 100 / total
}
