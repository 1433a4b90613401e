package status

import (
	"sync"

	"filewarden/logger"
)

// Sink receives progress from long-running operations. Implementations must
// tolerate concurrent calls.
type Sink interface {
	Report(operation string, percent int, message string, busy bool)
}

// Monotonic wraps a Sink and clamps percent so it never decreases within an
// operation, regardless of worker completion order.
type Monotonic struct {
	sink Sink

	mu      sync.Mutex
	highest map[string]int
}

func NewMonotonic(sink Sink) *Monotonic {
	return &Monotonic{
		sink:    sink,
		highest: make(map[string]int),
	}
}

func (m *Monotonic) Report(operation string, percent int, message string, busy bool) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	m.mu.Lock()
	if high, ok := m.highest[operation]; ok && percent < high {
		percent = high
	} else {
		m.highest[operation] = percent
	}
	m.mu.Unlock()
	m.sink.Report(operation, percent, message, busy)
}

// LogSink reports progress through the structured logger. Used when no
// interactive terminal is attached.
type LogSink struct{}

func (LogSink) Report(operation string, percent int, message string, busy bool) {
	if busy {
		logger.Debugf("[%s] %d%% %s", operation, percent, message)
		return
	}
	logger.Infof("[%s] %d%% %s", operation, percent, message)
}

// Discard drops all reports. The zero value is ready to use.
type Discard struct{}

func (Discard) Report(string, int, string, bool) {}
