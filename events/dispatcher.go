// Package events provides the engine's event dispatcher: in-process fan-out
// of lifecycle notifications to one or more store.EventSink observers,
// adapted from the teacher library's graph/emit package (Emitter interface,
// BufferedEmitter, LogEmitter, OTelEmitter, NullEmitter) and generalized
// from a single-emitter model into the spec's two explicit delivery modes.
//
// A sink that panics cannot take down the dispatcher, and each sink sees
// each event at most once. In Queued mode a blocking sink cannot stall a
// tick; in Sync mode delivery runs inline, so a blocking sink blocks Emit.
package events

import (
	"context"
	"sync"

	"github.com/dshills/flowmonkey-go/store"
)

// Mode selects how the dispatcher delivers events to its sinks.
type Mode int

const (
	// Sync delivers each event to every sink inline, before Emit returns.
	// This is the simplest mode and the right default for tests and for
	// sinks that must observe events in strict commit order.
	Sync Mode = iota

	// Queued buffers events and delivers them from a background
	// goroutine after the call that produced them returns, so a slow or
	// blocking sink cannot add latency to a tick.
	Queued
)

// Dispatcher fans an event out to every registered store.EventSink exactly
// once, in either Sync or Queued mode.
type Dispatcher struct {
	mode  Mode
	mu    sync.RWMutex
	sinks []store.EventSink

	queue  chan store.Event
	done   chan struct{}
	closed bool
}

// New creates a Dispatcher in the given mode. Queued mode starts a
// background drain goroutine with the given buffer depth; a depth of 0
// falls back to a depth of 256.
func New(mode Mode, queueDepth int) *Dispatcher {
	d := &Dispatcher{mode: mode}
	if mode == Queued {
		if queueDepth <= 0 {
			queueDepth = 256
		}
		d.queue = make(chan store.Event, queueDepth)
		d.done = make(chan struct{})
		go d.drain()
	}
	return d
}

// Subscribe registers a sink. Registration is expected at setup time, not
// concurrently with Emit, matching the engine's "registries are write-once
// after startup" policy.
func (d *Dispatcher) Subscribe(sink store.EventSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, sink)
}

// Emit fans event out to every subscribed sink. In Sync mode this happens
// inline; in Queued mode the event is buffered and Emit returns
// immediately, backpressuring the caller only if the queue is saturated.
func (d *Dispatcher) Emit(event store.Event) {
	if d.mode == Queued {
		d.mu.RLock()
		closed := d.closed
		d.mu.RUnlock()
		if closed {
			return
		}
		d.queue <- event
		return
	}
	d.deliver(event)
}

func (d *Dispatcher) deliver(event store.Event) {
	d.mu.RLock()
	sinks := make([]store.EventSink, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.RUnlock()

	for _, sink := range sinks {
		deliverOne(sink, event)
	}
}

// deliverOne isolates a single sink's panic so one bad observer can never
// take down the dispatcher or, transitively, the engine.
func deliverOne(sink store.EventSink, event store.Event) {
	defer func() {
		_ = recover()
	}()
	sink.Emit(context.Background(), event)
}

func (d *Dispatcher) drain() {
	for event := range d.queue {
		d.deliver(event)
	}
	close(d.done)
}

// Close stops accepting new events in Queued mode and waits for the queue
// to drain. It is a no-op in Sync mode.
func (d *Dispatcher) Close() {
	if d.mode != Queued {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	close(d.queue)
	<-d.done
}

// SinkFunc adapts a plain function to the store.EventSink interface, the
// same "function as interface" pattern the teacher uses for NodeFunc.
type SinkFunc func(ctx context.Context, event store.Event)

// Emit implements store.EventSink.
func (f SinkFunc) Emit(ctx context.Context, event store.Event) { f(ctx, event) }

var _ store.EventSink = SinkFunc(nil)
