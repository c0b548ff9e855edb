package events

import (
	"context"
	"sync"

	"github.com/dshills/flowmonkey-go/store"
)

// BufferedSink implements store.EventSink by storing events in memory,
// organized by execution id, adapted from the teacher's BufferedEmitter
// (graph/emit/buffered.go). Intended for tests, debugging, and short-lived
// in-process history queries; for durable history, route events to the
// relational backend's events table instead.
type BufferedSink struct {
	mu     sync.RWMutex
	events map[string][]store.Event
}

// NewBufferedSink returns an empty buffered sink.
func NewBufferedSink() *BufferedSink {
	return &BufferedSink{events: make(map[string][]store.Event)}
}

// Emit implements store.EventSink.
func (b *BufferedSink) Emit(_ context.Context, event store.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.ExecutionID] = append(b.events[event.ExecutionID], event)
}

// History returns a copy of every event recorded for executionID, in
// emission order.
func (b *BufferedSink) History(executionID string) []store.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	events := b.events[executionID]
	out := make([]store.Event, len(events))
	copy(out, events)
	return out
}

// Clear drops all recorded events for executionID.
func (b *BufferedSink) Clear(executionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, executionID)
}

var _ store.EventSink = (*BufferedSink)(nil)
