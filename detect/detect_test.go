package detect

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"filewarden/logger"
	"filewarden/metadata"
	"filewarden/virustotal"
)

type fakeLocal struct {
	available bool
	found     bool
	label     string
	err       error
	calls     int
}

func (f *fakeLocal) Probe() bool { return f.available }
func (f *fakeLocal) ScanFile(ctx context.Context, path string) (bool, string, error) {
	f.calls++
	return f.found, f.label, f.err
}

type fakeCloud struct {
	configured   bool
	report       virustotal.Report
	lookupErr    error
	pending      virustotal.Pending
	submitErr    error
	pollReports  []virustotal.Report
	pollPending  int
	lookupCalls  int
	submitCalls  int
	pollCalls    int
}

func (f *fakeCloud) Configured() bool { return f.configured }
func (f *fakeCloud) LookupByHash(ctx context.Context, hash string) (virustotal.Report, error) {
	f.lookupCalls++
	return f.report, f.lookupErr
}
func (f *fakeCloud) Submit(ctx context.Context, path string) (virustotal.Pending, error) {
	f.submitCalls++
	return f.pending, f.submitErr
}
func (f *fakeCloud) Poll(ctx context.Context, pending virustotal.Pending) (virustotal.Report, bool, error) {
	f.pollCalls++
	if f.pollCalls <= f.pollPending {
		return virustotal.Report{}, true, nil
	}
	if len(f.pollReports) > 0 {
		return f.pollReports[0], false, nil
	}
	return virustotal.Report{Known: true}, false, nil
}

func testConfig() Config {
	return Config{
		LowConfidenceThreshold: 0.5,
		HighEntropyThreshold:   7.5,
		AnomalyThreshold:       0.7,
		HighRiskExtensions:     []string{".exe", ".scr", ".bat", ".cmd", ".com", ".pif", ".vbs", ".js"},
		TinyFileBytes:          100,
		HugeFileBytes:          100 * 1024 * 1024,
		CloudPollAttempts:      3,
		CloudPollBackoff:       time.Millisecond,
		HashAlgorithms:         []string{"sha256"},
	}
}

func sampleRecord(t *testing.T) *metadata.FileRecord {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.txt")
	if err := os.WriteFile(path, []byte("ordinary content"), 0o644); err != nil {
		t.Fatal(err)
	}
	return metadata.Extract(path, metadata.Options{
		HashAlgorithms:     []string{"sha256"},
		HashMaxFileSize:    10 * 1024 * 1024,
		EntropySampleBytes: 8192,
	})
}

func TestLocalPositiveIsTerminal(t *testing.T) {
	logger.Init("info")
	local := &fakeLocal{available: true, found: true, label: "Eicar-Test"}
	cloud := &fakeCloud{configured: true}
	p := NewPipeline(local, cloud, nil, nil, nil, testConfig())

	verdict := p.Detect(context.Background(), sampleRecord(t))
	if !verdict.Infected {
		t.Fatal("expected infected verdict")
	}
	if verdict.Method != MethodLocalSignature {
		t.Errorf("expected local-signature method, got %s", verdict.Method)
	}
	if verdict.Confidence != 0.9 {
		t.Errorf("expected fixed confidence 0.9, got %f", verdict.Confidence)
	}
	if verdict.Label != "Eicar-Test" {
		t.Errorf("unexpected label: %s", verdict.Label)
	}
	if cloud.lookupCalls != 0 || cloud.submitCalls != 0 || cloud.pollCalls != 0 {
		t.Errorf("cloud must never be consulted after a local positive: %d/%d/%d",
			cloud.lookupCalls, cloud.submitCalls, cloud.pollCalls)
	}
}

func TestAnomalyAloneNeverInfects(t *testing.T) {
	logger.Init("info")
	dir := t.TempDir()
	path := filepath.Join(dir, "tiny.exe")
	if err := os.WriteFile(path, []byte("MZ"), 0o644); err != nil {
		t.Fatal(err)
	}
	record := metadata.Extract(path, metadata.Options{
		HashAlgorithms:     []string{"sha256"},
		HashMaxFileSize:    10 * 1024 * 1024,
		EntropySampleBytes: 8192,
	})

	// no local daemon, no cloud: only the anomaly stage runs
	p := NewPipeline(nil, nil, nil, nil, nil, testConfig())
	verdict := p.Detect(context.Background(), record)
	if verdict.Infected {
		t.Error("anomaly score alone must never set infected")
	}
	if verdict.AnomalyScore == 0 {
		t.Error("tiny high-risk file should carry anomaly weight")
	}
}

func TestCloudGatedByAnomalyWhenLocalClean(t *testing.T) {
	logger.Init("info")
	local := &fakeLocal{available: true, found: false}
	cloud := &fakeCloud{configured: true}
	p := NewPipeline(local, cloud, nil, nil, nil, testConfig())

	// ordinary file: not anomalous, local clean, so cloud is skipped
	verdict := p.Detect(context.Background(), sampleRecord(t))
	if verdict.Infected {
		t.Error("clean file flagged infected")
	}
	if cloud.lookupCalls != 0 {
		t.Errorf("non-anomalous file with local coverage must skip cloud, got %d lookups", cloud.lookupCalls)
	}
}

func TestCloudConsultedWhenLocalUnavailable(t *testing.T) {
	logger.Init("info")
	cloud := &fakeCloud{
		configured: true,
		report: virustotal.Report{
			Known: true, Infected: true, Label: "Trojan.X",
			Confidence: 0.25, Positives: 15, Total: 60,
		},
	}
	p := NewPipeline(&fakeLocal{available: false}, cloud, nil, nil, nil, testConfig())

	verdict := p.Detect(context.Background(), sampleRecord(t))
	if !verdict.Infected {
		t.Fatal("expected cloud verdict to infect")
	}
	if verdict.Method != MethodCloud {
		t.Errorf("expected cloud method, got %s", verdict.Method)
	}
	if verdict.Confidence != 0.25 {
		t.Errorf("cloud confidence should be positives/total, got %f", verdict.Confidence)
	}
}

func TestCloudAlwaysOverridesGating(t *testing.T) {
	logger.Init("info")
	cloud := &fakeCloud{configured: true, report: virustotal.Report{Known: true}}
	cfg := testConfig()
	cfg.CloudAlways = true
	p := NewPipeline(&fakeLocal{available: true}, cloud, nil, nil, nil, cfg)

	p.Detect(context.Background(), sampleRecord(t))
	if cloud.lookupCalls != 1 {
		t.Errorf("cloud-always should force a lookup, got %d", cloud.lookupCalls)
	}
}

func TestCloudSubmitAndPoll(t *testing.T) {
	logger.Init("info")
	cloud := &fakeCloud{
		configured:  true,
		report:      virustotal.Report{Known: false},
		pending:     virustotal.Pending{Resource: "res-9"},
		pollPending: 1,
		pollReports: []virustotal.Report{{Known: true, Infected: true, Label: "Worm.Y", Confidence: 0.5}},
	}
	p := NewPipeline(&fakeLocal{available: false}, cloud, nil, nil, nil, testConfig())

	verdict := p.Detect(context.Background(), sampleRecord(t))
	if !verdict.Infected || verdict.Method != MethodCloud {
		t.Fatalf("expected cloud verdict after poll, got %+v", verdict)
	}
	if cloud.pollCalls != 2 {
		t.Errorf("expected 2 polls (pending then complete), got %d", cloud.pollCalls)
	}
}

func TestCloudPollExhaustionIsClean(t *testing.T) {
	logger.Init("info")
	cloud := &fakeCloud{
		configured:  true,
		report:      virustotal.Report{Known: false},
		pending:     virustotal.Pending{Resource: "res-9"},
		pollPending: 100,
	}
	p := NewPipeline(&fakeLocal{available: false}, cloud, nil, nil, nil, testConfig())

	verdict := p.Detect(context.Background(), sampleRecord(t))
	if verdict.Infected {
		t.Error("exhausted polling must not infect")
	}
	if verdict.Details["cloud_poll_exhausted"] != true {
		t.Error("expected poll exhaustion detail")
	}
	if cloud.pollCalls != 3 {
		t.Errorf("expected exactly CloudPollAttempts polls, got %d", cloud.pollCalls)
	}
}

func TestCloudErrorDegrades(t *testing.T) {
	logger.Init("info")
	cloud := &fakeCloud{configured: true, lookupErr: errors.New("rate limit exceeded")}
	p := NewPipeline(&fakeLocal{available: false}, cloud, nil, nil, nil, testConfig())

	verdict := p.Detect(context.Background(), sampleRecord(t))
	if verdict.Infected {
		t.Error("cloud error must degrade to clean")
	}
	if verdict.Error == "" {
		t.Error("cloud error should be recorded on the verdict")
	}
}

func TestLocalScanErrorFallsThroughToCloud(t *testing.T) {
	logger.Init("info")
	local := &fakeLocal{available: true, err: errors.New("daemon hiccup")}
	cloud := &fakeCloud{configured: true, report: virustotal.Report{Known: true}}
	p := NewPipeline(local, cloud, nil, nil, nil, testConfig())

	p.Detect(context.Background(), sampleRecord(t))
	if cloud.lookupCalls != 1 {
		t.Errorf("failed local scan should open the cloud gate, got %d lookups", cloud.lookupCalls)
	}
}

func TestVerdictAlwaysCarriesHash(t *testing.T) {
	logger.Init("info")
	p := NewPipeline(nil, nil, nil, nil, nil, testConfig())
	verdict := p.Detect(context.Background(), sampleRecord(t))
	if verdict.Hash == "" {
		t.Error("verdict must carry a content hash")
	}
}

func TestPollCancellation(t *testing.T) {
	logger.Init("info")
	cloud := &fakeCloud{
		configured:  true,
		report:      virustotal.Report{Known: false},
		pending:     virustotal.Pending{Resource: "r"},
		pollPending: 100,
	}
	cfg := testConfig()
	cfg.CloudPollBackoff = time.Hour
	p := NewPipeline(&fakeLocal{available: false}, cloud, nil, nil, nil, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan Verdict, 1)
	go func() { done <- p.Detect(ctx, sampleRecord(t)) }()

	select {
	case verdict := <-done:
		if verdict.Infected {
			t.Error("cancelled cascade must not infect")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation did not interrupt the poll backoff")
	}
}

func TestScoreAnomalyWeights(t *testing.T) {
	cfg := testConfig()
	record := &metadata.FileRecord{
		Extension: ".exe",
		SizeBytes: 10, // tiny
		Entropy:   7.9,
	}
	distribution := map[string]float64{"others": 0.3, "documents": 0.2}
	score, evidence := scoreAnomaly(record, distribution, cfg)
	// All four weights fire; the float sum lands within rounding of 1.
	if math.Abs(score-1) > 1e-9 {
		t.Errorf("expected full score 1, got %v", score)
	}
	if score > 1 {
		t.Errorf("score must never exceed the clamp, got %v", score)
	}
	if len(evidence) != 4 {
		t.Errorf("expected 4 evidence entries, got %v", evidence)
	}

	calm := &metadata.FileRecord{Extension: ".txt", SizeBytes: 5000, Entropy: 4}
	score, evidence = scoreAnomaly(calm, nil, cfg)
	if score != 0 || len(evidence) != 0 {
		t.Errorf("calm file should score 0, got %f %v", score, evidence)
	}
}
