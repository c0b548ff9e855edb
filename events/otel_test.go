package events

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/dshills/flowmonkey-go/store"
)

func attributeMap(attrs []attribute.KeyValue) map[string]interface{} {
	m := make(map[string]interface{})
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}

func TestOTelSinkEmitCreatesSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	tracer := tp.Tracer("test")
	sink := NewOTelSink(tracer)

	sink.Emit(context.Background(), store.Event{
		Type:        "step.completed",
		ExecutionID: "exec-1",
		FlowID:      "flow-1",
		StepID:      "s1",
		DurationMs:  150,
		Attributes: map[string]any{
			"handler": "http.request",
		},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	span := spans[0]
	if span.Name != "step.completed" {
		t.Errorf("span name = %q, want %q", span.Name, "step.completed")
	}

	attrs := attributeMap(span.Attributes)
	if got := attrs["flowmonkey.execution_id"]; got != "exec-1" {
		t.Errorf("execution_id = %v, want %q", got, "exec-1")
	}
	if got := attrs["flowmonkey.step_id"]; got != "s1" {
		t.Errorf("step_id = %v, want %q", got, "s1")
	}
	if got := attrs["flowmonkey.duration_ms"]; got != int64(150) {
		t.Errorf("duration_ms = %v, want %d", got, 150)
	}
	if got := attrs["handler"]; got != "http.request" {
		t.Errorf("handler = %v, want %q", got, "http.request")
	}

	if !span.EndTime.After(span.StartTime) {
		t.Error("span was not ended")
	}
}

func TestOTelSinkSetsErrorStatus(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	tracer := tp.Tracer("test")
	sink := NewOTelSink(tracer)

	sink.Emit(context.Background(), store.Event{
		Type:        "step.failed",
		ExecutionID: "exec-1",
		Attributes: map[string]any{
			"error": "handler timed out",
		},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("expected error status, got %v", spans[0].Status.Code)
	}
}
