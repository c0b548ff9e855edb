package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dshills/flowmonkey-go/store"
)

// LogSink implements store.EventSink by writing structured output to a
// writer, adapted from the teacher's LogEmitter (graph/emit/log.go): the
// same text-or-JSON dual mode, generalized from node-execution events to
// execution/step/job/pipe lifecycle events.
type LogSink struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogSink returns a LogSink writing to writer (os.Stdout if nil) in
// text mode, or JSON-lines mode when jsonMode is true.
func NewLogSink(writer io.Writer, jsonMode bool) *LogSink {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogSink{writer: writer, jsonMode: jsonMode}
}

// Emit implements store.EventSink.
func (l *LogSink) Emit(_ context.Context, event store.Event) {
	if l.jsonMode {
		l.emitJSON(event)
		return
	}
	l.emitText(event)
}

func (l *LogSink) emitJSON(event store.Event) {
	b, err := json.Marshal(event)
	if err != nil {
		fmt.Fprintf(l.writer, "[%s] marshal error: %v\n", event.Type, err)
		return
	}
	fmt.Fprintln(l.writer, string(b))
}

func (l *LogSink) emitText(event store.Event) {
	fmt.Fprintf(l.writer, "[%s] executionId=%s", event.Type, event.ExecutionID)
	if event.StepID != "" {
		fmt.Fprintf(l.writer, " stepId=%s", event.StepID)
	}
	if event.JobID != "" {
		fmt.Fprintf(l.writer, " jobId=%s", event.JobID)
	}
	if event.PipeID != "" {
		fmt.Fprintf(l.writer, " pipeId=%s", event.PipeID)
	}
	if event.DurationMs > 0 {
		fmt.Fprintf(l.writer, " durationMs=%d", event.DurationMs)
	}
	fmt.Fprintln(l.writer)
}

var _ store.EventSink = (*LogSink)(nil)

// NullSink implements store.EventSink by discarding every event. Useful as
// a default when no observability backend is configured, adapted from the
// teacher's NullEmitter (graph/emit/null.go).
type NullSink struct{}

// Emit implements store.EventSink by doing nothing.
func (NullSink) Emit(context.Context, store.Event) {}

var _ store.EventSink = NullSink{}
