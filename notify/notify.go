package notify

import (
	"fmt"

	"filewarden/logger"
)

// Event types dispatched after a result is finalized.
const (
	EventScanCompleted  = "scan_completed"
	EventThreatDetected = "threat_detected"
	EventQuarantined    = "quarantined"
)

type Event struct {
	Type    string
	Path    string
	Label   string
	Message string
}

// Sink receives completion and threat events. Implementations must not block
// the caller; wrap slow sinks with Async.
type Sink interface {
	Notify(event Event)
}

// LogSink announces events through the structured logger.
type LogSink struct{}

func (LogSink) Notify(event Event) {
	switch event.Type {
	case EventThreatDetected:
		logger.Warnf("Threat detected: %s (%s)", event.Path, event.Label)
	case EventQuarantined:
		logger.Warnf("Quarantined: %s (%s)", event.Path, event.Label)
	default:
		logger.Infof("%s: %s", event.Type, event.Message)
	}
}

// Discard drops all events.
type Discard struct{}

func (Discard) Notify(Event) {}

// Async decouples a sink from the caller's critical path with a bounded
// queue. Events are dropped, with a debug log, when the queue is full.
type Async struct {
	sink   Sink
	events chan Event
	done   chan struct{}
}

func NewAsync(sink Sink, queueSize int) *Async {
	if queueSize <= 0 {
		queueSize = 64
	}
	a := &Async{
		sink:   sink,
		events: make(chan Event, queueSize),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Notify(event Event) {
	select {
	case a.events <- event:
	default:
		logger.Debugf("Notification queue full, dropping %s for %s", event.Type, event.Path)
	}
}

// Close drains pending events and stops the dispatcher.
func (a *Async) Close() {
	close(a.events)
	<-a.done
}

func (a *Async) run() {
	defer close(a.done)
	for event := range a.events {
		a.sink.Notify(event)
	}
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s", e.Type, e.Path)
}
