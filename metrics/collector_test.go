package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dshills/flowmonkey-go/store"
)

func TestCollectorRecordStepLatency(t *testing.T) {
	registry := prometheus.NewRegistry()
	c := New(registry)

	c.RecordStepLatency("flow-1", "step-1", "success", 50*time.Millisecond)

	count := testutil.CollectAndCount(c.stepLatency)
	if count != 1 {
		t.Fatalf("expected 1 histogram series, got %d", count)
	}
}

func TestCollectorGauges(t *testing.T) {
	registry := prometheus.NewRegistry()
	c := New(registry)

	c.SetActiveExecutions(3)
	c.SetPendingJobs(7)
	c.SetWALBacklog(2)

	if got := testutil.ToFloat64(c.activeExecutions); got != 3 {
		t.Errorf("active_executions = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.pendingJobs); got != 7 {
		t.Errorf("pending_jobs = %v, want 7", got)
	}
	if got := testutil.ToFloat64(c.walBacklog); got != 2 {
		t.Errorf("wal_backlog = %v, want 2", got)
	}
}

func TestCollectorEmitDerivesMetricsFromEvents(t *testing.T) {
	registry := prometheus.NewRegistry()
	c := New(registry)
	ctx := context.Background()

	c.Emit(ctx, store.Event{Type: "step.completed", FlowID: "flow-1", StepID: "s1", DurationMs: 10})
	c.Emit(ctx, store.Event{Type: "step.retried", FlowID: "flow-1", StepID: "s1"})
	c.Emit(ctx, store.Event{Type: "job.failed", Attributes: map[string]any{"handler": "http.request", "reason": "timeout"}})
	c.Emit(ctx, store.Event{Type: "pipe.wal_fallback", PipeID: "pipe-1"})

	if got := testutil.ToFloat64(c.stepRetries.WithLabelValues("flow-1", "s1")); got != 1 {
		t.Errorf("step_retries_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.jobFailures.WithLabelValues("http.request", "timeout")); got != 1 {
		t.Errorf("job_failures_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.pipeFailures.WithLabelValues("pipe-1")); got != 1 {
		t.Errorf("pipe_failures_total = %v, want 1", got)
	}
}
