package detect

import (
	"context"
	"time"

	"filewarden/allowlist"
	"filewarden/classify"
	"filewarden/fuzzy"
	"filewarden/hasher"
	"filewarden/logger"
	"filewarden/metadata"
	"filewarden/virustotal"
)

// Detection method provenance, in precedence order.
const (
	MethodLocalSignature = "local-signature"
	MethodCloud          = "cloud"
	MethodAnomaly        = "anomaly"
)

// localSignatureConfidence is the fixed confidence of a positive daemon
// verdict; the daemon reports no score of its own.
const localSignatureConfidence = 0.9

// Verdict is the outcome of one file's pass through the cascade.
type Verdict struct {
	Path         string                 `json:"path"`
	Infected     bool                   `json:"infected"`
	Label        string                 `json:"label,omitempty"`
	Method       string                 `json:"method,omitempty"`
	Confidence   float64                `json:"confidence"`
	Hash         string                 `json:"hash,omitempty"`
	Anomalous    bool                   `json:"anomalous"`
	AnomalyScore float64                `json:"anomaly_score"`
	FuzzyHash    string                 `json:"fuzzy_hash,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// LocalScanner is the local signature daemon capability.
type LocalScanner interface {
	Probe() bool
	ScanFile(ctx context.Context, path string) (found bool, label string, err error)
}

// CloudScanner is the reputation service capability. *virustotal.Client
// satisfies it.
type CloudScanner interface {
	Configured() bool
	LookupByHash(ctx context.Context, hash string) (virustotal.Report, error)
	Submit(ctx context.Context, path string) (virustotal.Pending, error)
	Poll(ctx context.Context, pending virustotal.Pending) (virustotal.Report, bool, error)
}

// Config carries the cascade's named thresholds.
type Config struct {
	LowConfidenceThreshold float64
	HighEntropyThreshold   float64
	AnomalyThreshold       float64
	HighRiskExtensions     []string
	TinyFileBytes          int64
	HugeFileBytes          int64
	CloudAlways            bool
	CloudPollAttempts      int
	CloudPollBackoff       time.Duration
	HashAlgorithms         []string
}

// Pipeline runs the staged cascade: allowlist short-circuit, anomaly
// pre-filter, local signature scan, cloud lookup/submit. Any collaborator
// may be nil; missing stages degrade rather than fail.
type Pipeline struct {
	local      LocalScanner
	cloud      CloudScanner
	classifier *classify.Classifier
	allow      *allowlist.Allowlist
	fuzzyHash  *fuzzy.Hasher
	cfg        Config
}

func NewPipeline(local LocalScanner, cloud CloudScanner, classifier *classify.Classifier, allow *allowlist.Allowlist, fuzzyHash *fuzzy.Hasher, cfg Config) *Pipeline {
	return &Pipeline{
		local:      local,
		cloud:      cloud,
		classifier: classifier,
		allow:      allow,
		fuzzyHash:  fuzzyHash,
		cfg:        cfg,
	}
}

// Detect never returns an error: per-file failures are recorded on the
// verdict and the file defaults to not infected so one bad file cannot abort
// a batch.
func (p *Pipeline) Detect(ctx context.Context, record *metadata.FileRecord) Verdict {
	verdict := Verdict{
		Path:    record.Path,
		Hash:    record.Hash(),
		Details: make(map[string]interface{}),
	}

	// Quarantine provenance needs a hash even above the extraction ceiling.
	if verdict.Hash == "" {
		hashes := hasher.ComputeHashes(record.Path, []string{"sha256"})
		verdict.Hash = hashes["sha256"]
	}

	if p.allow.Contains(verdict.Hash) {
		verdict.Details["allowlisted"] = true
		return verdict
	}

	var distribution map[string]float64
	if p.classifier != nil {
		distribution = p.classifier.Distribution(record)
	}
	score, evidence := scoreAnomaly(record, distribution, p.cfg)
	verdict.AnomalyScore = score
	verdict.Anomalous = score > p.cfg.AnomalyThreshold
	if len(evidence) > 0 {
		verdict.Details["anomaly_evidence"] = evidence
	}

	localAvailable := p.local != nil && p.local.Probe()
	if localAvailable {
		found, label, err := p.local.ScanFile(ctx, record.Path)
		if err != nil {
			logger.Warnf("Local signature scan failed for %s: %v", record.Path, err)
			verdict.Error = err.Error()
			localAvailable = false
		} else if found {
			// Terminal: the cloud stage is never consulted.
			verdict.Infected = true
			verdict.Label = label
			verdict.Method = MethodLocalSignature
			verdict.Confidence = localSignatureConfidence
			p.attachFuzzyHash(&verdict)
			return verdict
		}
	}

	cloudEligible := p.cloud != nil && p.cloud.Configured() &&
		(verdict.Anomalous || !localAvailable || p.cfg.CloudAlways)
	if cloudEligible {
		p.runCloudStage(ctx, record, &verdict)
		if verdict.Infected {
			p.attachFuzzyHash(&verdict)
			return verdict
		}
	}

	if verdict.Anomalous {
		verdict.Method = MethodAnomaly
		verdict.Confidence = score
		p.attachFuzzyHash(&verdict)
	}
	return verdict
}

// runCloudStage does the hash lookup and, for unknown hashes, the bounded
// submit-and-poll loop. All failures degrade to "not infected from this
// stage".
func (p *Pipeline) runCloudStage(ctx context.Context, record *metadata.FileRecord, verdict *Verdict) {
	report, err := p.cloud.LookupByHash(ctx, verdict.Hash)
	if err != nil {
		logger.Warnf("Cloud lookup failed for %s: %v", record.Path, err)
		verdict.Error = err.Error()
		return
	}
	if report.Known {
		p.applyCloudReport(report, verdict)
		return
	}

	pending, err := p.cloud.Submit(ctx, record.Path)
	if err != nil {
		logger.Debugf("Cloud submission skipped for %s: %v", record.Path, err)
		verdict.Details["cloud_submit_error"] = err.Error()
		return
	}
	verdict.Details["cloud_resource"] = pending.Resource

	for attempt := 0; attempt < p.cfg.CloudPollAttempts; attempt++ {
		if !sleepCtx(ctx, p.cfg.CloudPollBackoff) {
			return
		}
		report, stillPending, err := p.cloud.Poll(ctx, pending)
		if err != nil {
			logger.Warnf("Cloud poll failed for %s: %v", record.Path, err)
			verdict.Error = err.Error()
			return
		}
		if !stillPending {
			p.applyCloudReport(report, verdict)
			return
		}
	}
	// Analysis did not complete within the allotted attempts. Treated as clean
	// rather than blocking the cascade.
	verdict.Details["cloud_poll_exhausted"] = true
}

func (p *Pipeline) applyCloudReport(report virustotal.Report, verdict *Verdict) {
	verdict.Details["cloud_positives"] = report.Positives
	verdict.Details["cloud_total"] = report.Total
	if report.Infected {
		verdict.Infected = true
		verdict.Label = report.Label
		verdict.Method = MethodCloud
		verdict.Confidence = report.Confidence
	}
}

func (p *Pipeline) attachFuzzyHash(verdict *Verdict) {
	if p.fuzzyHash == nil {
		return
	}
	digest, err := p.fuzzyHash.HashFile(verdict.Path)
	if err != nil {
		logger.Debugf("Fuzzy hash failed for %s: %v", verdict.Path, err)
		return
	}
	verdict.FuzzyHash = digest
}

// sleepCtx waits for d or until ctx is cancelled; returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
