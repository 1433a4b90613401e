package classify

import (
	"time"

	"filewarden/logger"
	"filewarden/metadata"
)

const (
	MethodRule     = "rule-based"
	MethodLearned  = "learned"
	MethodFallback = "fallback"
)

// Model is the learned-strategy capability. Implementations wrap an
// externally fitted classifier; Available reports whether one is loaded.
type Model interface {
	Available() bool
	FeatureColumns() []string
	Classify(vector []float64) (label string, distribution map[string]float64, err error)
}

// Result is one classification outcome. Distribution is nil for the
// rule-based and fallback methods.
type Result struct {
	Category     Category
	Confidence   float64
	Method       string
	Distribution map[string]float64
}

// Classifier maps file records to categories. The rule table is the primary
// source of truth; a learned model is an alternate strategy selected by
// UseLearned.
type Classifier struct {
	model          Model
	useLearned     bool
	ruleConfidence float64
	now            func() time.Time
}

func New(model Model, useLearned bool, ruleConfidence float64) *Classifier {
	return &Classifier{
		model:          model,
		useLearned:     useLearned,
		ruleConfidence: ruleConfidence,
		now:            time.Now,
	}
}

// Classify never fails: any learned-strategy error falls over to the rule
// table with method reported as fallback.
func (c *Classifier) Classify(record *metadata.FileRecord) Result {
	if c.useLearned && c.model != nil && c.model.Available() {
		result, err := c.classifyLearned(record)
		if err == nil {
			return result
		}
		logger.Debugf("Learned classification failed for %s: %v", record.Path, err)
		result = c.classifyByRule(record)
		result.Method = MethodFallback
		return result
	}
	return c.classifyByRule(record)
}

// Distribution exposes the learned model's class probabilities for a record,
// used by the anomaly pre-filter. Returns nil when no model is loaded or the
// model errors.
func (c *Classifier) Distribution(record *metadata.FileRecord) map[string]float64 {
	if c.model == nil || !c.model.Available() {
		return nil
	}
	vector := Align(EncodeFeatures(record, c.now()), c.model.FeatureColumns())
	_, distribution, err := c.model.Classify(vector)
	if err != nil {
		logger.Debugf("Distribution lookup failed for %s: %v", record.Path, err)
		return nil
	}
	return distribution
}

func (c *Classifier) classifyByRule(record *metadata.FileRecord) Result {
	return Result{
		Category:   ByExtension(record.Extension),
		Confidence: c.ruleConfidence,
		Method:     MethodRule,
	}
}

func (c *Classifier) classifyLearned(record *metadata.FileRecord) (Result, error) {
	vector := Align(EncodeFeatures(record, c.now()), c.model.FeatureColumns())
	label, distribution, err := c.model.Classify(vector)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Category:     Normalize(label),
		Confidence:   MaxClassProbability(distribution),
		Method:       MethodLearned,
		Distribution: distribution,
	}, nil
}
