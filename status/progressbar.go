package status

import (
	"os"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// BarSink renders progress as a terminal bar, one bar per operation at a
// time. A new operation name finishes the previous bar.
type BarSink struct {
	mu        sync.Mutex
	operation string
	bar       *progressbar.ProgressBar
}

func NewBarSink() *BarSink {
	return &BarSink{}
}

func (s *BarSink) Report(operation string, percent int, message string, busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bar == nil || s.operation != operation {
		if s.bar != nil {
			s.bar.Finish()
		}
		s.operation = operation
		s.bar = progressbar.NewOptions(100,
			progressbar.OptionSetDescription(operation),
			progressbar.OptionShowCount(),
			progressbar.OptionSetVisibility(progressVisible()),
			progressbar.OptionFullWidth(),
		)
	}
	s.bar.Describe(describe(operation, message))
	s.bar.Set(percent)
	if !busy && percent >= 100 {
		s.bar.Finish()
		s.bar = nil
		s.operation = ""
	}
}

func describe(operation, message string) string {
	if message == "" {
		return operation
	}
	return operation + ": " + message
}

func progressVisible() bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv("FILEWARDEN_DISABLE_PROGRESS")))
	return value != "1" && value != "true" && value != "yes" && value != "on"
}
