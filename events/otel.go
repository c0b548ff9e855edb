package events

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/flowmonkey-go/store"
)

// OTelSink implements store.EventSink by recording each event as a span
// that starts and ends inside Emit (DurationMs, when set, is recorded as
// an attribute, not as the span's timing), adapted from the
// teacher's OTelEmitter (graph/emit/otel.go): same one-span-per-event
// shape, generalized from node_start/node_end events to the engine's
// execution/step/job/pipe event vocabulary.
type OTelSink struct {
	tracer trace.Tracer
}

// NewOTelSink returns a sink that starts a span named event.Type for every
// emitted event.
func NewOTelSink(tracer trace.Tracer) *OTelSink {
	return &OTelSink{tracer: tracer}
}

// Emit implements store.EventSink.
func (o *OTelSink) Emit(ctx context.Context, event store.Event) {
	_, span := o.tracer.Start(ctx, event.Type)
	defer span.End()

	span.SetAttributes(
		attribute.String("flowmonkey.execution_id", event.ExecutionID),
		attribute.String("flowmonkey.flow_id", event.FlowID),
	)
	if event.StepID != "" {
		span.SetAttributes(attribute.String("flowmonkey.step_id", event.StepID))
	}
	if event.JobID != "" {
		span.SetAttributes(attribute.String("flowmonkey.job_id", event.JobID))
	}
	if event.PipeID != "" {
		span.SetAttributes(attribute.String("flowmonkey.pipe_id", event.PipeID))
	}
	if event.DurationMs > 0 {
		span.SetAttributes(attribute.Int64("flowmonkey.duration_ms", event.DurationMs))
	}

	for key, value := range event.Attributes {
		setAttribute(span, key, value)
	}

	if errMsg, ok := event.Attributes["error"].(string); ok && errMsg != "" {
		span.SetStatus(codes.Error, errMsg)
	}
}

func setAttribute(span trace.Span, key string, value any) {
	switch v := value.(type) {
	case string:
		span.SetAttributes(attribute.String(key, v))
	case int:
		span.SetAttributes(attribute.Int(key, v))
	case int64:
		span.SetAttributes(attribute.Int64(key, v))
	case float64:
		span.SetAttributes(attribute.Float64(key, v))
	case bool:
		span.SetAttributes(attribute.Bool(key, v))
	case time.Duration:
		span.SetAttributes(attribute.Int64(key, int64(v/time.Millisecond)))
	default:
		span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

var _ store.EventSink = (*OTelSink)(nil)
