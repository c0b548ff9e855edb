// Package pipes implements the "silent tap" that routes a step's output
// into a user-defined table row whenever a flow declares a matching Pipe,
// backed by a write-ahead log for at-least-once delivery when the
// immediate insert fails (spec.md §4.3). Evaluation never fails the step
// that triggered it: every error here is swallowed into a WAL entry and an
// event, never returned to the tick loop.
package pipes

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dshills/flowmonkey-go/store"
)

// Evaluator builds and inserts table rows for a step's declared pipes,
// falling back to the write-ahead log on insert failure.
type Evaluator struct {
	tables store.TableStore
	wal    store.WriteAheadLog
	sink   store.EventSink
	now    func() time.Time
}

// New returns an Evaluator writing rows to tables and failed inserts to
// wal. sink may be nil, in which case pipe.inserted/pipe.failed events are
// not emitted.
func New(tables store.TableStore, wal store.WriteAheadLog, sink store.EventSink) *Evaluator {
	return &Evaluator{tables: tables, wal: wal, sink: sink, now: time.Now}
}

// Outcome names the step result kind a fired pipe evaluates against.
type Outcome struct {
	ExecutionID string
	FlowID      string
	StepID      string
	Success     bool
	Output      any
}

// Run evaluates every pipe in pipes whose On matches outcome.Success
// (success, failure, or always) against outcome.Output, inserting one row
// per match. Called by the engine after every tick that produced a
// success or failure outcome; it never returns an error the tick loop
// must react to.
func (e *Evaluator) Run(ctx context.Context, pipeDefs []store.Pipe, outcome Outcome) {
	for _, pipe := range pipeDefs {
		if pipe.StepID != outcome.StepID {
			continue
		}
		if !matches(pipe.On, outcome.Success) {
			continue
		}
		e.fire(ctx, pipe, outcome)
	}
}

func matches(on store.PipeOn, success bool) bool {
	switch on {
	case store.PipeOnAlways:
		return true
	case store.PipeOnSuccess:
		return success
	case store.PipeOnFailure:
		return !success
	default:
		return false
	}
}

func (e *Evaluator) fire(ctx context.Context, pipe store.Pipe, outcome Outcome) {
	row, err := BuildRow(pipe, outcome.Output)
	if err == nil {
		if _, insertErr := e.tables.Insert(ctx, pipe.TableID, row); insertErr == nil {
			e.emit(ctx, "pipe.inserted", pipe, outcome, 0)
			return
		} else {
			err = insertErr
		}
	}

	e.appendWAL(ctx, pipe, outcome, row, err)
	e.emit(ctx, "pipe.failed", pipe, outcome, 0)
}

// BuildRow applies pipe's field mappings and static values over output,
// resolving each mapping's SourcePath by dot-path traversal (the same
// gjson-backed traversal the input resolver's path/template selectors use,
// per DOMAIN STACK).
func BuildRow(pipe store.Pipe, output any) (map[string]any, error) {
	data, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("pipe %s: output is not serializable: %w", pipe.ID, err)
	}

	row := make(map[string]any, len(pipe.Mappings)+len(pipe.StaticValues))
	for k, v := range pipe.StaticValues {
		row[k] = v
	}
	for _, mapping := range pipe.Mappings {
		result := gjson.GetBytes(data, mapping.SourcePath)
		if result.Exists() {
			row[mapping.ColumnID] = result.Value()
		}
	}
	return row, nil
}

func (e *Evaluator) appendWAL(ctx context.Context, pipe store.Pipe, outcome Outcome, row map[string]any, cause error) {
	if row == nil {
		row = map[string]any{}
	}
	entry := &store.WALEntry{
		TableID:     pipe.TableID,
		Data:        row,
		PipeID:      pipe.ID,
		ExecutionID: outcome.ExecutionID,
		FlowID:      outcome.FlowID,
		StepID:      outcome.StepID,
		Error:       causeMessage(cause),
		Attempts:    1,
		CreatedAt:   e.now(),
	}
	// A WAL append failure here has no further fallback; it is reported
	// only via the pipe.failed event's absence of a corresponding
	// pipe.inserted, which callers monitoring WAL backlog will notice.
	_ = e.wal.Append(ctx, entry)
}

func causeMessage(err error) string {
	if err == nil {
		return "unknown pipe insert failure"
	}
	return err.Error()
}

func (e *Evaluator) emit(ctx context.Context, eventType string, pipe store.Pipe, outcome Outcome, durationMs int64) {
	if e.sink == nil {
		return
	}
	e.sink.Emit(ctx, store.Event{
		Type:        eventType,
		ExecutionID: outcome.ExecutionID,
		FlowID:      outcome.FlowID,
		StepID:      outcome.StepID,
		PipeID:      pipe.ID,
		DurationMs:  durationMs,
		At:          e.now(),
	})
}
