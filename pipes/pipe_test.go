package pipes

import (
	"context"
	"testing"

	"github.com/dshills/flowmonkey-go/store"
	"github.com/dshills/flowmonkey-go/store/memstore"
)

func TestRunInsertsRowOnSuccessMatch(t *testing.T) {
	ctx := context.Background()
	tables := memstore.NewTableStore()
	wal := memstore.NewWriteAheadLog()
	eval := New(tables, wal, nil)

	pipe := store.Pipe{
		ID:      "pipe-1",
		StepID:  "ship-order",
		On:      store.PipeOnSuccess,
		TableID: "orders-table",
		Mappings: []store.PipeMapping{
			{SourcePath: "orderId", ColumnID: "order_id"},
			{SourcePath: "total", ColumnID: "total"},
		},
		StaticValues: map[string]any{"source": "pipeline"},
	}

	eval.Run(ctx, []store.Pipe{pipe}, Outcome{
		ExecutionID: "exec-1",
		FlowID:      "order-pipeline",
		StepID:      "ship-order",
		Success:     true,
		Output:      map[string]any{"orderId": "o-1", "total": 42.5},
	})

	rows, err := tables.Query(ctx, "orders-table", nil, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0]["order_id"] != "o-1" || rows[0]["source"] != "pipeline" {
		t.Fatalf("unexpected row: %+v", rows[0])
	}

	pending, err := wal.ReadPending(ctx, 0)
	if err != nil {
		t.Fatalf("ReadPending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no WAL entries on successful insert, got %d", len(pending))
	}
}

func TestRunSkipsNonMatchingOutcome(t *testing.T) {
	ctx := context.Background()
	tables := memstore.NewTableStore()
	wal := memstore.NewWriteAheadLog()
	eval := New(tables, wal, nil)

	pipe := store.Pipe{ID: "pipe-1", StepID: "s1", On: store.PipeOnFailure, TableID: "t1"}
	eval.Run(ctx, []store.Pipe{pipe}, Outcome{StepID: "s1", Success: true, Output: map[string]any{}})

	rows, _ := tables.Query(ctx, "t1", nil, 0)
	if len(rows) != 0 {
		t.Fatalf("expected no rows for a failure-only pipe on a success outcome, got %d", len(rows))
	}
}

// failingTableStore always fails Insert, to exercise the WAL fallback path.
type failingTableStore struct{}

func (failingTableStore) Insert(context.Context, string, map[string]any) (string, error) {
	return "", errInsertFailed
}
func (failingTableStore) Query(context.Context, string, []store.Filter, int) ([]map[string]any, error) {
	return nil, nil
}

var errInsertFailed = &store.ExecError{Code: "INSERT_FAILED", Message: "simulated insert failure"}

func TestFailedInsertAppendsWALEntry(t *testing.T) {
	ctx := context.Background()
	wal := memstore.NewWriteAheadLog()
	eval := New(failingTableStore{}, wal, nil)

	pipe := store.Pipe{ID: "pipe-1", StepID: "s1", On: store.PipeOnAlways, TableID: "t1"}
	eval.Run(ctx, []store.Pipe{pipe}, Outcome{
		ExecutionID: "exec-1", FlowID: "f1", StepID: "s1", Success: true, Output: map[string]any{"a": 1},
	})

	pending, err := wal.ReadPending(ctx, 0)
	if err != nil {
		t.Fatalf("ReadPending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending WAL entries, want 1", len(pending))
	}
	if pending[0].Acked {
		t.Fatalf("expected unacked entry")
	}
}

func TestReplayerAcksOnceInsertSucceeds(t *testing.T) {
	ctx := context.Background()
	tables := memstore.NewTableStore()
	wal := memstore.NewWriteAheadLog()
	locks := memstore.NewLockProvider()

	if err := wal.Append(ctx, &store.WALEntry{
		TableID: "t1", Data: map[string]any{"a": 1}, PipeID: "p1", ExecutionID: "e1",
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	replayer := NewReplayer(wal, tables, locks, nil)
	acked, err := replayer.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if acked != 1 {
		t.Fatalf("acked %d, want 1", acked)
	}

	removed, err := wal.Compact(ctx)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if removed != 0 {
		// RunOnce already compacted; a second compact should find nothing left.
		t.Fatalf("expected RunOnce to have already compacted, got %d more removable", removed)
	}
}
