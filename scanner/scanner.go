package scanner

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"filewarden/config"
	"filewarden/detect"
	"filewarden/logger"
	"filewarden/metadata"
	"filewarden/notify"
	"filewarden/output"
	"filewarden/quarantine"
	"filewarden/status"
	"filewarden/walker"

	"golang.org/x/time/rate"
)

// maxRecordedResults caps the per-file entries carried in a Summary. Every
// file still produces a scan_result record in the output stream.
const maxRecordedResults = 1000

const operationScan = "scan"

// Detector runs one file through the detection cascade. *detect.Pipeline
// satisfies it.
type Detector interface {
	Detect(ctx context.Context, record *metadata.FileRecord) detect.Verdict
}

// Quarantiner isolates an infected file. *quarantine.Manager satisfies it.
type Quarantiner interface {
	Quarantine(path string, verdict detect.Verdict) (*quarantine.Record, error)
}

// Entry pairs a file's metadata with its verdict in scan_result records and
// summaries.
type Entry struct {
	File    *metadata.FileRecord `json:"file"`
	Verdict detect.Verdict       `json:"verdict"`
}

// Summary aggregates one scan run.
type Summary struct {
	StartPath     string        `json:"start_path"`
	TotalFiles    int           `json:"total_files"`
	Scanned       int64         `json:"scanned"`
	Clean         int64         `json:"clean"`
	Infected      int64         `json:"infected"`
	Quarantined   int64         `json:"quarantined"`
	Failed        int64         `json:"failed"`
	Duration      time.Duration `json:"duration"`
	InfectedPaths []string      `json:"infected_paths,omitempty"`
	Results       []Entry       `json:"results,omitempty"`
}

// Scanner drives walker output through a bounded worker pool and the
// detection cascade.
type Scanner struct {
	cfg        *config.Config
	detector   Detector
	quarantine Quarantiner
	writer     *output.Writer
	sink       status.Sink
	notifier   notify.Sink

	walk        *walker.Walker
	extractOpts metadata.Options
}

// New wires a scanner. quarantine may be nil when isolation is disabled;
// sink and notifier default to discarding implementations.
func New(cfg *config.Config, detector Detector, quar Quarantiner, w *output.Writer, sink status.Sink, notifier notify.Sink) *Scanner {
	if sink == nil {
		sink = status.Discard{}
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Scanner{
		cfg:        cfg,
		detector:   detector,
		quarantine: quar,
		writer:     w,
		sink:       status.NewMonotonic(sink),
		notifier:   notifier,
		walk:       walker.New(cfg.Recursive, cfg.ExcludedDirNames),
		extractOpts: metadata.Options{
			HashAlgorithms:     cfg.HashAlgorithms,
			HashMaxFileSize:    cfg.HashMaxFileSize,
			EntropySampleBytes: cfg.EntropySampleBytes,
			CollectDetails:     cfg.CollectDetails,
			DetailsMaxBytes:    cfg.DetailsMaxBytes,
		},
	}
}

// Run scans every regular file under cfg.StartPath. Cancellation stops intake
// immediately; files already handed to workers finish, including any
// quarantine move in flight, before the partial summary is returned with
// ctx.Err().
func (s *Scanner) Run(ctx context.Context) (*Summary, error) {
	if err := walker.ValidateRoot(s.cfg.StartPath); err != nil {
		return nil, err
	}
	adjustConcurrency(s.cfg)
	start := time.Now()

	s.sink.Report(operationScan, 0, "Counting files", true)
	paths, err := s.walk.Collect(ctx, s.cfg.StartPath)
	if err != nil {
		return nil, err
	}
	total := len(paths)
	logger.Infof("Total files to scan: %d", total)
	if s.writer != nil {
		s.writer.SetTotalFiles(total)
	}

	var ioLimiter *rate.Limiter
	if s.cfg.MaxIOPerSecond > 0 {
		ioLimiter = rate.NewLimiter(rate.Limit(s.cfg.MaxIOPerSecond), s.cfg.MaxIOPerSecond)
	}

	summary := &Summary{StartPath: s.cfg.StartPath, TotalFiles: total}
	var scanned, clean, infected, quarantined, failed atomic.Int64
	var mu sync.Mutex

	filesChan := make(chan string, s.cfg.ConcurrencyLevel)
	go func() {
		defer close(filesChan)
		for _, path := range paths {
			if ioLimiter != nil {
				if err := ioLimiter.Wait(ctx); err != nil {
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case filesChan <- path:
			}
		}
	}()

	progressEvery := s.cfg.ProgressEvery
	if progressEvery < 1 {
		progressEvery = 1
	}

	var wg sync.WaitGroup
	for range s.cfg.ConcurrencyLevel {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range filesChan {
				select {
				case <-ctx.Done():
					return
				default:
				}
				entry := s.processFile(ctx, path)
				done := scanned.Add(1)
				switch {
				case entry.File.Error != "":
					failed.Add(1)
				case entry.Verdict.Infected:
					infected.Add(1)
					if s.quarantineFile(path, entry.Verdict) {
						quarantined.Add(1)
					}
				default:
					clean.Add(1)
				}
				mu.Lock()
				if entry.Verdict.Infected {
					summary.InfectedPaths = append(summary.InfectedPaths, path)
				}
				if len(summary.Results) < maxRecordedResults {
					summary.Results = append(summary.Results, entry)
				}
				mu.Unlock()
				if done%int64(progressEvery) == 0 || done == int64(total) {
					s.sink.Report(operationScan, percent(int(done), total),
						fmt.Sprintf("Scanned %d of %d files", done, total), done < int64(total))
				}
			}
		}()
	}
	wg.Wait()

	summary.Scanned = scanned.Load()
	summary.Clean = clean.Load()
	summary.Infected = infected.Load()
	summary.Quarantined = quarantined.Load()
	summary.Failed = failed.Load()
	summary.Duration = time.Since(start)

	s.sink.Report(operationScan, 100,
		fmt.Sprintf("Scan complete: %d scanned, %d infected", summary.Scanned, summary.Infected), false)
	if s.writer != nil {
		s.writer.Write(output.RecordSummary, summary)
	}
	s.notifier.Notify(notify.Event{
		Type:    notify.EventScanCompleted,
		Path:    s.cfg.StartPath,
		Message: fmt.Sprintf("scanned %d files, %d infected, %d quarantined", summary.Scanned, summary.Infected, summary.Quarantined),
	})
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// ScanOne runs a single file through extraction and detection without a
// walk. Quarantine still applies when enabled.
func (s *Scanner) ScanOne(ctx context.Context, path string) (Entry, error) {
	if err := statRegular(path); err != nil {
		return Entry{}, err
	}
	entry := s.processFile(ctx, path)
	if entry.File.Error != "" {
		return entry, fmt.Errorf("scan %s: %s", path, entry.File.Error)
	}
	if entry.Verdict.Infected {
		s.quarantineFile(path, entry.Verdict)
	}
	return entry, nil
}

func (s *Scanner) processFile(ctx context.Context, path string) Entry {
	record := metadata.Extract(path, s.extractOpts)
	entry := Entry{File: record}
	if record.Error != "" {
		logger.Warnf("Failed to read %s: %s", path, record.Error)
		if s.writer != nil {
			s.writer.Write(output.RecordScanResult, entry)
			s.writer.IncrementFailed()
		}
		return entry
	}
	entry.Verdict = s.detector.Detect(ctx, record)
	if s.writer != nil {
		s.writer.Write(output.RecordScanResult, entry)
		s.writer.IncrementScanned()
		if entry.Verdict.Infected {
			s.writer.IncrementInfected()
		}
	}
	if entry.Verdict.Infected {
		s.notifier.Notify(notify.Event{
			Type:  notify.EventThreatDetected,
			Path:  path,
			Label: entry.Verdict.Label,
		})
	}
	return entry
}

// quarantineFile reports whether the file was moved into the store. A failed
// move leaves the file in place; the infection is already on record.
func (s *Scanner) quarantineFile(path string, verdict detect.Verdict) bool {
	if s.quarantine == nil {
		return false
	}
	rec, err := s.quarantine.Quarantine(path, verdict)
	if err != nil {
		logger.Warnf("Failed to quarantine %s: %v", path, err)
		return false
	}
	if s.writer != nil {
		s.writer.Write(output.RecordQuarantine, rec)
		s.writer.IncrementQuarantined()
	}
	s.notifier.Notify(notify.Event{
		Type:  notify.EventQuarantined,
		Path:  path,
		Label: verdict.Label,
	})
	return true
}

func adjustConcurrency(cfg *config.Config) {
	if cfg.ConcurrencySet {
		return
	}
	numCPU := runtime.NumCPU()
	switch cfg.NiceLevel {
	case "high":
		cfg.ConcurrencyLevel = numCPU
	case "medium":
		cfg.ConcurrencyLevel = numCPU / 2
		if cfg.ConcurrencyLevel < 1 {
			cfg.ConcurrencyLevel = 1
		}
	case "low":
		cfg.ConcurrencyLevel = 1
	}
	if cfg.ConcurrencyLevel < 1 {
		cfg.ConcurrencyLevel = 1
	}
}

func statRegular(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	return nil
}

func percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	return done * 100 / total
}
