package events

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dshills/flowmonkey-go/store"
)

func TestDispatcherSyncDeliversInline(t *testing.T) {
	d := New(Sync, 0)
	var received store.Event
	var mu sync.Mutex
	d.Subscribe(SinkFunc(func(_ context.Context, event store.Event) {
		mu.Lock()
		received = event
		mu.Unlock()
	}))

	d.Emit(store.Event{Type: "execution.started", ExecutionID: "exec-1"})

	mu.Lock()
	defer mu.Unlock()
	if received.ExecutionID != "exec-1" {
		t.Fatalf("expected sink to observe event synchronously, got %+v", received)
	}
}

func TestDispatcherQueuedDeliversAsync(t *testing.T) {
	d := New(Queued, 4)
	var count int32
	d.Subscribe(SinkFunc(func(_ context.Context, _ store.Event) {
		atomic.AddInt32(&count, 1)
	}))

	for i := 0; i < 10; i++ {
		d.Emit(store.Event{Type: "step.completed", ExecutionID: "exec-1"})
	}
	d.Close()

	if got := atomic.LoadInt32(&count); got != 10 {
		t.Fatalf("expected 10 events delivered, got %d", got)
	}
}

func TestDispatcherIsolatesPanickingSink(t *testing.T) {
	d := New(Sync, 0)
	var recovered int32
	d.Subscribe(SinkFunc(func(_ context.Context, _ store.Event) {
		panic("boom")
	}))
	d.Subscribe(SinkFunc(func(_ context.Context, _ store.Event) {
		atomic.AddInt32(&recovered, 1)
	}))

	d.Emit(store.Event{Type: "execution.failed", ExecutionID: "exec-1"})

	if atomic.LoadInt32(&recovered) != 1 {
		t.Fatal("expected second sink to still receive the event despite the first panicking")
	}
}

func TestDispatcherEmitAfterCloseIsNoop(t *testing.T) {
	d := New(Queued, 2)
	d.Close()

	done := make(chan struct{})
	go func() {
		d.Emit(store.Event{Type: "execution.completed"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked after Close")
	}
}
