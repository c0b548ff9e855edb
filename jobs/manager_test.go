package jobs

import (
	"context"
	"testing"

	"github.com/dshills/flowmonkey-go/store"
	"github.com/dshills/flowmonkey-go/store/memstore"
)

func TestManagerEnsureClaimedThenLeaseGuardsCompletion(t *testing.T) {
	ctx := context.Background()
	jobStore := memstore.NewJobStore()
	manager := NewManager(jobStore)

	job, claim, ok, err := manager.EnsureClaimed(ctx, "e1", "s1", "h", map[string]any{"n": 1}, "runnerA")
	if err != nil {
		t.Fatalf("EnsureClaimed: %v", err)
	}
	if !ok {
		t.Fatal("expected first claim to succeed")
	}
	if job.Status != store.JobRunning {
		t.Fatalf("expected job running after claim, got %s", job.Status)
	}

	// S6: complete under the wrong runner must fail.
	wrongClaim := &ClaimHandle{jobs: jobStore, jobID: claim.JobID(), runnerID: "runnerB", instanceID: "bogus"}
	completed, err := wrongClaim.Complete(ctx, map[string]any{})
	if err != nil {
		t.Fatalf("Complete (wrong runner): %v", err)
	}
	if completed {
		t.Fatal("expected completion under the wrong runner id to fail")
	}

	completed, err = claim.Complete(ctx, map[string]any{"ok": true})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !completed {
		t.Fatal("expected completion under the claiming runner id to succeed")
	}
}

func TestManagerEnsureClaimedCoalescesConcurrentCreates(t *testing.T) {
	ctx := context.Background()
	jobStore := memstore.NewJobStore()
	manager := NewManager(jobStore)

	_, _, ok1, err := manager.EnsureClaimed(ctx, "e1", "s1", "h", map[string]any{"n": 1}, "runnerA")
	if err != nil || !ok1 {
		t.Fatalf("first EnsureClaimed: ok=%v err=%v", ok1, err)
	}

	// A second caller racing for the same deterministic job sees it
	// already claimed and gets ok=false, never a duplicate record.
	_, _, ok2, err := manager.EnsureClaimed(ctx, "e1", "s1", "h", map[string]any{"n": 1}, "runnerB")
	if err != nil {
		t.Fatalf("second EnsureClaimed: %v", err)
	}
	if ok2 {
		t.Fatal("expected second caller to fail to claim an already-running job")
	}
}
