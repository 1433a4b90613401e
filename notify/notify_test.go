package notify

import (
	"sync"
	"testing"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureSink) Notify(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func TestAsyncDeliversInOrder(t *testing.T) {
	capture := &captureSink{}
	async := NewAsync(capture, 16)

	async.Notify(Event{Type: EventThreatDetected, Path: "/a"})
	async.Notify(Event{Type: EventScanCompleted, Message: "done"})
	async.Close()

	if len(capture.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(capture.events))
	}
	if capture.events[0].Type != EventThreatDetected || capture.events[1].Type != EventScanCompleted {
		t.Errorf("events out of order: %v", capture.events)
	}
}

func TestAsyncDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	slow := sinkFunc(func(Event) { <-block })
	async := NewAsync(slow, 1)

	for i := 0; i < 10; i++ {
		async.Notify(Event{Type: EventScanCompleted})
	}
	close(block)
	async.Close()
	// reaching here without deadlock is the assertion
}

type sinkFunc func(Event)

func (f sinkFunc) Notify(event Event) { f(event) }
