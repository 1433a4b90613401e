package organize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"filewarden/classify"
	"filewarden/logger"
	"filewarden/metadata"
	"filewarden/status"
	"filewarden/walker"
)

// maxRecordedMoves caps the per-move detail kept on a Result so organizing a
// huge tree does not hold every path in memory. Counts are always exact.
const maxRecordedMoves = 1000

// Move is one planned or executed relocation.
type Move struct {
	Source      string            `json:"source"`
	Destination string            `json:"destination"`
	Category    classify.Category `json:"category"`
}

// Result summarizes one organization run. Dry and live runs over the same
// tree produce identical counts and destinations.
type Result struct {
	DryRun         bool           `json:"dry_run"`
	TotalFiles     int            `json:"total_files"`
	Moved          int            `json:"moved"`
	Failed         int            `json:"failed"`
	CategoryCounts map[string]int `json:"category_counts"`
	Moves          []Move         `json:"moves,omitempty"`
	Errors         []string       `json:"errors,omitempty"`
}

// Engine relocates files into a category tree under Base.
type Engine struct {
	classifier   *classify.Classifier
	walk         *walker.Walker
	extractOpts  metadata.Options
	base         string
	datedFolders bool
	dryRun       bool
	progressStep int
}

type Options struct {
	Base         string
	DatedFolders bool
	DryRun       bool
	ProgressStep int
}

func NewEngine(classifier *classify.Classifier, walk *walker.Walker, extractOpts metadata.Options, opts Options) *Engine {
	step := opts.ProgressStep
	if step <= 0 {
		step = 10
	}
	return &Engine{
		classifier:   classifier,
		walk:         walk,
		extractOpts:  extractOpts,
		base:         opts.Base,
		datedFolders: opts.DatedFolders,
		dryRun:       opts.DryRun,
		progressStep: step,
	}
}

// Organize classifies and relocates every file under root. The walk is
// materialized up front so progress totals are exact and files moved into
// the destination are never re-walked.
func (e *Engine) Organize(ctx context.Context, root string, sink status.Sink) (*Result, error) {
	if err := walker.ValidateRoot(root); err != nil {
		return nil, err
	}
	sink.Report("organize", 0, "enumerating files", true)

	paths, err := e.walk.Collect(ctx, root)
	if err != nil {
		return nil, err
	}

	result := &Result{
		DryRun:         e.dryRun,
		TotalFiles:     len(paths),
		CategoryCounts: make(map[string]int),
	}
	// Destinations already claimed in this run. Keeps dry-run collision
	// naming identical to a live run, where earlier moves occupy the name.
	claimed := make(map[string]struct{})

	for i, path := range paths {
		select {
		case <-ctx.Done():
			sink.Report("organize", percent(i, len(paths)), "cancelled", false)
			return result, ctx.Err()
		default:
		}

		record := metadata.Extract(path, e.extractOpts)
		category := e.classifier.Classify(record).Category
		destination := e.resolveDestination(record, category, claimed)
		claimed[destination] = struct{}{}

		if e.dryRun {
			result.Moved++
		} else if err := moveFile(path, destination); err != nil {
			logger.Warnf("Failed to move %s: %v", path, err)
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, err))
			continue
		} else {
			result.Moved++
		}

		result.CategoryCounts[string(category)]++
		if len(result.Moves) < maxRecordedMoves {
			result.Moves = append(result.Moves, Move{Source: path, Destination: destination, Category: category})
		}
		if (i+1)%e.progressStep == 0 {
			sink.Report("organize", percent(i+1, len(paths)), fmt.Sprintf("%d/%d files", i+1, len(paths)), true)
		}
	}

	sink.Report("organize", 100, fmt.Sprintf("%d moved, %d failed", result.Moved, result.Failed), false)
	return result, nil
}

// resolveDestination computes <base>/[<year-month>/]<category>/<name>,
// shifting the name with a numeric suffix while the target is occupied on
// disk or claimed earlier in this run.
func (e *Engine) resolveDestination(record *metadata.FileRecord, category classify.Category, claimed map[string]struct{}) string {
	dir := e.base
	if e.datedFolders && !record.ModTime.IsZero() {
		dir = filepath.Join(dir, record.ModTime.Format("2006-01"))
	}
	dir = filepath.Join(dir, string(category))

	candidate := filepath.Join(dir, record.Name)
	for counter := 1; taken(candidate, claimed); counter++ {
		ext := filepath.Ext(record.Name)
		stem := strings.TrimSuffix(record.Name, ext)
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, counter, ext))
	}
	return candidate
}

func taken(path string, claimed map[string]struct{}) bool {
	if _, ok := claimed[path]; ok {
		return true
	}
	_, err := os.Stat(path)
	return err == nil
}

func moveFile(source, destination string) error {
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return err
	}
	return os.Rename(source, destination)
}

func percent(done, total int) int {
	if total == 0 {
		return 100
	}
	return done * 100 / total
}
