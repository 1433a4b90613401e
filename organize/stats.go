package organize

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"filewarden/classify"
	"filewarden/walker"
)

// Stats are lightweight directory statistics grouped by category. Only the
// rule table is consulted, so computing stats never reads file contents.
type Stats struct {
	TotalFiles     int              `json:"total_files"`
	TotalBytes     int64            `json:"total_bytes"`
	CategoryCounts map[string]int   `json:"category_counts"`
	CategoryBytes  map[string]int64 `json:"category_bytes"`
	LargestFile    FileStat         `json:"largest_file"`
	OldestFile     FileStat         `json:"oldest_file"`
	NewestFile     FileStat         `json:"newest_file"`
}

// FileStat names one extremum of the walked tree.
type FileStat struct {
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
	ModTime   time.Time `json:"mod_time,omitempty"`
}

// CollectStats walks root and tallies files per category by extension.
func CollectStats(ctx context.Context, walk *walker.Walker, root string) (*Stats, error) {
	if err := walker.ValidateRoot(root); err != nil {
		return nil, err
	}
	stats := &Stats{
		CategoryCounts: make(map[string]int),
		CategoryBytes:  make(map[string]int64),
	}
	err := walk.Walk(ctx, root, func(path string, entry fs.DirEntry) error {
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		category := string(classify.ByExtension(strings.ToLower(filepath.Ext(path))))
		stats.TotalFiles++
		stats.TotalBytes += info.Size()
		stats.CategoryCounts[category]++
		stats.CategoryBytes[category] += info.Size()
		name := filepath.Base(path)
		if info.Size() > stats.LargestFile.SizeBytes || stats.LargestFile.Name == "" {
			stats.LargestFile = FileStat{Name: name, SizeBytes: info.Size()}
		}
		if stats.OldestFile.Name == "" || info.ModTime().Before(stats.OldestFile.ModTime) {
			stats.OldestFile = FileStat{Name: name, ModTime: info.ModTime()}
		}
		if stats.NewestFile.Name == "" || info.ModTime().After(stats.NewestFile.ModTime) {
			stats.NewestFile = FileStat{Name: name, ModTime: info.ModTime()}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
