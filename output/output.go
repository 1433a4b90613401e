package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"filewarden/logger"
	"filewarden/systeminfo"

	"github.com/google/uuid"
)

const SchemaVersion = "1.0"

// Record types written to the report stream.
const (
	RecordSystemInfo = "system_info"
	RecordScanResult = "scan_result"
	RecordMove       = "move"
	RecordDeletion   = "deletion"
	RecordQuarantine = "quarantine"
	RecordSummary    = "summary"
	RecordLog        = "log"
	RecordMetrics    = "metrics"
)

// Metrics aggregates one invocation. Counters are updated through the Writer
// so they stay consistent under concurrent workers.
type Metrics struct {
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	TotalFiles   int    `json:"total_files"`
	FilesScanned int    `json:"files_scanned"`
	Infected     int    `json:"infected"`
	Quarantined  int    `json:"quarantined"`
	Failed       int    `json:"failed"`
}

type envelope struct {
	ID         string      `json:"id"`
	RecordType string      `json:"record_type"`
	Schema     string      `json:"schema_version"`
	Time       string      `json:"time"`
	Data       interface{} `json:"data"`
}

// Writer persists newline-delimited JSON records. Writes are fire-and-forget
// from the caller's perspective: persistence failures are logged, never
// returned, so a full disk cannot fail a scan.
type Writer struct {
	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	metrics *Metrics
	otel    *otelLogger

	base        string
	ext         string
	index       int
	maxFileSize int64
}

type Options struct {
	FileName        string
	MaxFileSize     int64
	OtelEndpoint    string
	OtelHeaders     map[string]string
	OtelServiceName string
	OtelTimeout     time.Duration
}

func New(opts Options, sysInfo *systeminfo.SystemInfo, metrics *Metrics) (*Writer, error) {
	ext := ".ndjson"
	base := opts.FileName
	if idx := strings.LastIndex(opts.FileName, "."); idx > 0 {
		base = opts.FileName[:idx]
		ext = opts.FileName[idx:]
	}

	w := &Writer{
		metrics:     metrics,
		base:        base,
		ext:         ext,
		maxFileSize: opts.MaxFileSize,
	}
	otel, err := newOtelLogger(opts)
	if err != nil {
		logger.Warnf("OTEL export disabled: %v", err)
	} else {
		w.otel = otel
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	if metrics != nil && metrics.StartTime == "" {
		metrics.StartTime = time.Now().UTC().Format(time.RFC3339)
	}
	if sysInfo != nil {
		w.Write(RecordSystemInfo, sysInfo)
	}
	return w, nil
}

func (w *Writer) openFile() error {
	name := w.base + w.ext
	if w.index > 0 {
		name = fmt.Sprintf("%s.%d%s", w.base, w.index, w.ext)
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	w.file = f
	w.buf = bufio.NewWriterSize(f, 1024*1024)
	return nil
}

// Write appends one typed record. Safe for concurrent use.
func (w *Writer) Write(recordType string, payload interface{}) {
	record := envelope{
		ID:         uuid.NewString(),
		RecordType: recordType,
		Schema:     SchemaVersion,
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Data:       payload,
	}
	data, err := json.Marshal(record)
	if err != nil {
		logger.Warnf("Failed to encode %s record: %v", recordType, err)
		return
	}

	w.mu.Lock()
	_, werr := w.buf.Write(append(data, '\n'))
	if werr == nil {
		werr = w.buf.Flush()
	}
	if werr != nil {
		logger.Warnf("Failed to persist %s record: %v", recordType, werr)
	}
	if w.maxFileSize > 0 {
		if info, err := w.file.Stat(); err == nil && info.Size() >= w.maxFileSize {
			w.rotate()
		}
	}
	w.mu.Unlock()

	if w.otel != nil {
		w.otel.Emit(recordType, payload)
	}
}

// Log mirrors a leveled log entry into the report stream.
func (w *Writer) Log(level, message string) {
	w.Write(RecordLog, map[string]string{"level": level, "message": message})
}

func (w *Writer) IncrementScanned() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.metrics != nil {
		w.metrics.FilesScanned++
	}
}

func (w *Writer) IncrementInfected() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.metrics != nil {
		w.metrics.Infected++
	}
}

func (w *Writer) IncrementQuarantined() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.metrics != nil {
		w.metrics.Quarantined++
	}
}

func (w *Writer) IncrementFailed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.metrics != nil {
		w.metrics.Failed++
	}
}

func (w *Writer) SetTotalFiles(total int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.metrics != nil {
		w.metrics.TotalFiles = total
	}
}

// Snapshot returns a copy of the current metrics.
func (w *Writer) Snapshot() Metrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.metrics == nil {
		return Metrics{}
	}
	return *w.metrics
}

// Close writes the final metrics record and releases the file.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.metrics != nil {
		w.metrics.EndTime = time.Now().UTC().Format(time.RFC3339)
	}
	metrics := w.metrics
	w.mu.Unlock()

	if metrics != nil {
		w.Write(RecordMetrics, metrics)
	}

	w.mu.Lock()
	w.buf.Flush()
	w.file.Sync()
	w.file.Close()
	w.mu.Unlock()

	if w.otel != nil {
		w.otel.Shutdown()
	}
}

func (w *Writer) rotate() {
	w.buf.Flush()
	w.file.Sync()
	w.file.Close()
	w.index++
	if err := w.openFile(); err != nil {
		logger.Errorf("Failed to rotate output file: %v", err)
	}
}
