// Package metrics exposes engine activity as Prometheus metrics, adapted
// from the teacher library's graph.PrometheusMetrics (graph/metrics.go):
// the same gauge/histogram/counter shape, generalized from per-node graph
// execution to the engine's execution/step/job/pipe vocabulary.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dshills/flowmonkey-go/store"
)

// Collector records execution, job, and pipe activity as Prometheus
// metrics, all namespaced under "flowmonkey". It implements
// store.EventSink so it can subscribe to the dispatcher like any other
// observer, deriving most of its counters directly from emitted events.
type Collector struct {
	activeExecutions prometheus.Gauge
	pendingJobs      prometheus.Gauge
	walBacklog       prometheus.Gauge

	stepLatency *prometheus.HistogramVec
	stepRetries *prometheus.CounterVec

	jobAttempts  *prometheus.CounterVec
	jobFailures  *prometheus.CounterVec
	pipeFailures *prometheus.CounterVec
}

// New creates and registers every flowmonkey metric with registry. Passing
// nil uses prometheus.DefaultRegisterer.
func New(registry prometheus.Registerer) *Collector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	c := &Collector{}

	c.activeExecutions = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowmonkey",
		Name:      "active_executions",
		Help:      "Current number of executions in running or waiting status",
	})

	c.pendingJobs = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowmonkey",
		Name:      "pending_jobs",
		Help:      "Current number of jobs in pending status across all runners",
	})

	c.walBacklog = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowmonkey",
		Name:      "wal_backlog",
		Help:      "Current number of unacked write-ahead-log entries",
	})

	c.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flowmonkey",
		Name:      "step_latency_ms",
		Help:      "Step handler execution duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
	}, []string{"flow_id", "step_id", "status"})

	c.stepRetries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowmonkey",
		Name:      "step_retries_total",
		Help:      "Cumulative retry attempts across all steps",
	}, []string{"flow_id", "step_id"})

	c.jobAttempts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowmonkey",
		Name:      "job_attempts_total",
		Help:      "Cumulative job claim attempts",
	}, []string{"handler"})

	c.jobFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowmonkey",
		Name:      "job_failures_total",
		Help:      "Cumulative job attempts ending in failure",
	}, []string{"handler", "reason"})

	c.pipeFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowmonkey",
		Name:      "pipe_failures_total",
		Help:      "Cumulative pipe writes that fell back to the write-ahead log",
	}, []string{"pipe_id"})

	return c
}

// SetActiveExecutions reports the current count of running/waiting
// executions.
func (c *Collector) SetActiveExecutions(count int) {
	c.activeExecutions.Set(float64(count))
}

// SetPendingJobs reports the current count of pending jobs.
func (c *Collector) SetPendingJobs(count int) {
	c.pendingJobs.Set(float64(count))
}

// SetWALBacklog reports the current count of unacked WAL entries.
func (c *Collector) SetWALBacklog(count int) {
	c.walBacklog.Set(float64(count))
}

// RecordStepLatency observes a step's handler duration.
func (c *Collector) RecordStepLatency(flowID, stepID, status string, d time.Duration) {
	c.stepLatency.WithLabelValues(flowID, stepID, status).Observe(float64(d.Milliseconds()))
}

// IncrementStepRetries increments the retry counter for a step.
func (c *Collector) IncrementStepRetries(flowID, stepID string) {
	c.stepRetries.WithLabelValues(flowID, stepID).Inc()
}

// IncrementJobAttempts increments the attempt counter for a handler type.
func (c *Collector) IncrementJobAttempts(handler string) {
	c.jobAttempts.WithLabelValues(handler).Inc()
}

// IncrementJobFailures increments the failure counter for a handler type.
func (c *Collector) IncrementJobFailures(handler, reason string) {
	c.jobFailures.WithLabelValues(handler, reason).Inc()
}

// IncrementPipeFailures increments the WAL-fallback counter for a pipe.
func (c *Collector) IncrementPipeFailures(pipeID string) {
	c.pipeFailures.WithLabelValues(pipeID).Inc()
}

// Emit implements store.EventSink, deriving metrics from event types. The
// engine emits step.completed and step.failed (step latency) and the pipes
// package emits pipe.failed (pipe failures); step.retried, job.attempted,
// job.failed and pipe.wal_fallback are counted when they arrive, but no
// package in this module emits them.
func (c *Collector) Emit(_ context.Context, event store.Event) {
	switch event.Type {
	case "step.completed":
		c.RecordStepLatency(event.FlowID, event.StepID, "success", time.Duration(event.DurationMs)*time.Millisecond)
	case "step.failed":
		c.RecordStepLatency(event.FlowID, event.StepID, "error", time.Duration(event.DurationMs)*time.Millisecond)
	case "step.retried":
		c.IncrementStepRetries(event.FlowID, event.StepID)
	case "job.attempted":
		if handler, ok := event.Attributes["handler"].(string); ok {
			c.IncrementJobAttempts(handler)
		}
	case "job.failed":
		handler, _ := event.Attributes["handler"].(string)
		reason, _ := event.Attributes["reason"].(string)
		c.IncrementJobFailures(handler, reason)
	case "pipe.failed", "pipe.wal_fallback":
		c.IncrementPipeFailures(event.PipeID)
	}
}

var _ store.EventSink = (*Collector)(nil)
