package metadata

import (
	"io"
	"math"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filewarden/hasher"
	"filewarden/logger"

	"github.com/djherbis/times"
	"github.com/h2non/filetype"
)

// FileRecord holds the descriptive signal for one scanned file. Records are
// built once per walk step and not mutated afterwards.
type FileRecord struct {
	Path         string                 `json:"path"`
	Name         string                 `json:"name"`
	Extension    string                 `json:"extension"`
	SizeBytes    int64                  `json:"size_bytes"`
	MIMEType     string                 `json:"mime_type"`
	ModTime      time.Time              `json:"mod_time"`
	AccessTime   string                 `json:"access_time,omitempty"`
	CreationTime string                 `json:"creation_time,omitempty"`
	Entropy      float64                `json:"entropy"`
	Hashes       map[string]string      `json:"hashes,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// Hash returns the record's primary content hash used for identity and
// reputation lookups. Empty when hashing was skipped.
func (r *FileRecord) Hash() string {
	if r.Hashes == nil {
		return ""
	}
	return r.Hashes["sha256"]
}

// Options bound the work Extract performs per file.
type Options struct {
	HashAlgorithms     []string
	HashMaxFileSize    int64
	EntropySampleBytes int
	CollectDetails     bool
	DetailsMaxBytes    int64
}

// Extract builds a FileRecord for path. Every field is best-effort: an I/O
// failure on one signal leaves that field at its zero value and the record is
// still returned. Only a failed stat is reported through the Error field.
func Extract(path string, opts Options) *FileRecord {
	record := &FileRecord{
		Path:      path,
		Name:      filepath.Base(path),
		Extension: strings.ToLower(filepath.Ext(path)),
	}

	info, err := os.Stat(path)
	if err != nil {
		logger.Warnf("Failed to stat %s: %v", path, err)
		record.Error = err.Error()
		return record
	}
	record.SizeBytes = info.Size()
	record.ModTime = info.ModTime()

	if ts, err := times.Stat(path); err == nil {
		record.AccessTime = ts.AccessTime().Format(time.RFC3339)
		if ts.HasBirthTime() {
			record.CreationTime = ts.BirthTime().Format(time.RFC3339)
		}
	}

	record.MIMEType = detectMimeType(path, record.Extension)

	// Hash and entropy are computed only strictly below the ceiling so one
	// huge file cannot stall a scan. Downstream consumers treat the zero
	// values as sentinels.
	if record.SizeBytes < opts.HashMaxFileSize {
		record.Entropy = sampleEntropy(path, opts.EntropySampleBytes)
		record.Hashes = hasher.ComputeHashes(path, opts.HashAlgorithms)
	}

	if opts.CollectDetails {
		if details := ExtractDetails(path, record.MIMEType, opts.DetailsMaxBytes); len(details) > 0 {
			record.Details = details
		}
	}

	return record
}

// detectMimeType sniffs magic bytes first and falls back to the extension
// table, mirroring how most files without a known signature still carry a
// useful extension.
func detectMimeType(path, extension string) string {
	file, err := os.Open(path)
	if err == nil {
		buf := make([]byte, 261)
		n, readErr := file.Read(buf)
		file.Close()
		if readErr == nil || readErr == io.EOF {
			if kind, err := filetype.Match(buf[:n]); err == nil && kind != filetype.Unknown && kind.MIME.Value != "" {
				return kind.MIME.Value
			}
		}
	}
	if extension != "" {
		if byExt := mime.TypeByExtension(extension); byExt != "" {
			if idx := strings.IndexByte(byExt, ';'); idx > 0 {
				return byExt[:idx]
			}
			return byExt
		}
	}
	return "unknown"
}

// sampleEntropy computes Shannon entropy in bits per byte over a bounded
// prefix. Empty or unreadable files score 0.
func sampleEntropy(path string, sampleBytes int) float64 {
	file, err := os.Open(path)
	if err != nil {
		logger.Debugf("Failed to open %s for entropy sampling: %v", path, err)
		return 0
	}
	defer file.Close()

	buf := make([]byte, sampleBytes)
	n, err := io.ReadFull(file, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		logger.Debugf("Failed to read %s for entropy sampling: %v", path, err)
		return 0
	}
	return shannonEntropy(buf[:n])
}

func shannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	total := float64(len(data))
	entropy := 0.0
	for _, count := range counts {
		if count == 0 {
			continue
		}
		p := float64(count) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}
