package detect

import (
	"fmt"

	"filewarden/classify"
	"filewarden/metadata"
)

// anomaly weights, summed and clamped to [0, 1]
const (
	weightLowConfidence = 0.3
	weightHighEntropy   = 0.4
	weightRiskExtension = 0.2
	weightOddSize       = 0.1
)

// scoreAnomaly combines the learned class distribution (when present) with
// fixed heuristics. The score is advisory: it gates the cloud stage but can
// never flag a file infected on its own.
func scoreAnomaly(record *metadata.FileRecord, distribution map[string]float64, cfg Config) (float64, []string) {
	score := 0.0
	var evidence []string

	if len(distribution) > 0 {
		if maxProb := classify.MaxClassProbability(distribution); maxProb < cfg.LowConfidenceThreshold {
			score += weightLowConfidence
			evidence = append(evidence, fmt.Sprintf("low classification confidence (%.2f)", maxProb))
		}
	}
	if record.Entropy > cfg.HighEntropyThreshold {
		score += weightHighEntropy
		evidence = append(evidence, fmt.Sprintf("high entropy (%.2f bits/byte)", record.Entropy))
	}
	if isHighRiskExtension(record.Extension, cfg.HighRiskExtensions) {
		score += weightRiskExtension
		evidence = append(evidence, "high-risk extension "+record.Extension)
	}
	if record.SizeBytes < cfg.TinyFileBytes || record.SizeBytes > cfg.HugeFileBytes {
		score += weightOddSize
		evidence = append(evidence, fmt.Sprintf("unusual size (%d bytes)", record.SizeBytes))
	}

	if score > 1 {
		score = 1
	}
	return score, evidence
}

func isHighRiskExtension(extension string, highRisk []string) bool {
	for _, risky := range highRisk {
		if extension == risky {
			return true
		}
	}
	return false
}
