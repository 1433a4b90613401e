package classify

import (
	"fmt"
	"math"
	"strings"
	"time"

	"filewarden/metadata"

	"github.com/cloudflare/ahocorasick"
)

// tempPathTokens mark directories whose contents are usually disposable.
var tempPathTokens = []string{"temp", "tmp", "cache"}

var tempPathMatcher = ahocorasick.NewStringMatcher(tempPathTokens)

// Features is a sparse named feature vector derived from one FileRecord.
type Features map[string]float64

// EncodeFeatures turns a record into the named features the learned strategy
// consumes. Encoding is pure; it never touches the filesystem.
func EncodeFeatures(record *metadata.FileRecord, now time.Time) Features {
	features := Features{
		"file_size":     float64(record.SizeBytes),
		"log_file_size": math.Log1p(float64(record.SizeBytes)),
		"entropy":       record.Entropy,
		"path_depth":    float64(strings.Count(record.Path, "/")),
	}

	features["size_"+sizeBucket(record.SizeBytes)] = 1

	if record.Extension != "" {
		features["ext_"+strings.TrimPrefix(record.Extension, ".")] = 1
	}
	if family := mimeFamily(record.MIMEType); family != "" {
		features["mime_"+family] = 1
	}
	if record.Entropy > 7.5 {
		features["high_entropy"] = 1
	}

	if !record.ModTime.IsZero() {
		days := now.Sub(record.ModTime).Hours() / 24
		if days < 0 {
			days = 0
		}
		features["days_since_modified"] = days
		if days <= 7 {
			features["is_recent"] = 1
		}
	}

	if matches := tempPathMatcher.MatchThreadSafe([]byte(strings.ToLower(record.Path))); len(matches) > 0 {
		features["in_temp_folder"] = 1
	}
	if record.Hash() != "" {
		features["has_hash"] = 1
	}

	return features
}

func sizeBucket(size int64) string {
	switch {
	case size < 1024:
		return "tiny"
	case size < 1024*1024:
		return "small"
	case size < 10*1024*1024:
		return "medium"
	case size < 100*1024*1024:
		return "large"
	default:
		return "huge"
	}
}

func mimeFamily(mimeType string) string {
	if mimeType == "" || mimeType == "unknown" {
		return ""
	}
	if idx := strings.IndexByte(mimeType, '/'); idx > 0 {
		return mimeType[:idx]
	}
	return mimeType
}

// Align projects a named feature vector onto the exact column set a fitted
// model expects: missing columns contribute zero, unknown columns are
// dropped. The returned slice order matches columns.
func Align(features Features, columns []string) []float64 {
	vector := make([]float64, len(columns))
	for i, column := range columns {
		vector[i] = features[column]
	}
	return vector
}

// MaxClassProbability returns the highest probability in a distribution, 0
// for an empty one.
func MaxClassProbability(distribution map[string]float64) float64 {
	best := 0.0
	for _, p := range distribution {
		if p > best {
			best = p
		}
	}
	return best
}

func (f Features) String() string {
	return fmt.Sprintf("features(%d)", len(f))
}
