package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dshills/flowmonkey-go/store"
	"github.com/dshills/flowmonkey-go/store/memstore"
)

func TestRunnerClaimsAndCompletesPendingJobs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	jobStore := memstore.NewJobStore()
	manager := NewManager(jobStore)

	jobID, err := ComputeID("e1", "s1", "h", map[string]any{"n": 1})
	if err != nil {
		t.Fatalf("ComputeID: %v", err)
	}
	if _, _, err := jobStore.GetOrCreate(ctx, &store.Job{
		ID: jobID, ExecutionID: "e1", StepID: "s1", Handler: "h",
		Status: store.JobPending, Input: map[string]any{"n": 1}, MaxAttempts: 5, HeartbeatMs: 30000,
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	var executed int32
	runner := NewRunner(manager, "runnerA", func(ctx context.Context, job *store.Job, claim *ClaimHandle) (map[string]any, *store.ExecError) {
		atomic.AddInt32(&executed, 1)
		return map[string]any{"ok": true}, nil
	}, WithPollInterval(10*time.Millisecond))

	runCtx, runCancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer runCancel()
	_ = runner.Run(runCtx)

	if atomic.LoadInt32(&executed) != 1 {
		t.Fatalf("expected runner to execute the pending job exactly once, got %d", executed)
	}

	final, err := jobStore.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("get final: %v", err)
	}
	if final.Status != store.JobCompleted {
		t.Fatalf("expected job completed, got %s", final.Status)
	}
}

func TestRunnerFailsJobOnExecutorError(t *testing.T) {
	ctx := context.Background()
	jobStore := memstore.NewJobStore()
	manager := NewManager(jobStore)

	jobID, _ := ComputeID("e1", "s1", "h", map[string]any{"n": 1})
	_, _, err := jobStore.GetOrCreate(ctx, &store.Job{
		ID: jobID, ExecutionID: "e1", StepID: "s1", Handler: "h",
		Status: store.JobPending, Input: map[string]any{"n": 1}, MaxAttempts: 5, HeartbeatMs: 30000,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	runner := NewRunner(manager, "runnerA", func(ctx context.Context, job *store.Job, claim *ClaimHandle) (map[string]any, *store.ExecError) {
		return nil, &store.ExecError{Code: "BOOM", Message: "handler exploded"}
	}, WithPollInterval(10*time.Millisecond))

	runCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_ = runner.Run(runCtx)

	final, err := jobStore.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != store.JobFailed {
		t.Fatalf("expected job failed, got %s", final.Status)
	}
	if final.Error == nil || final.Error.Code != "BOOM" {
		t.Fatalf("expected BOOM error, got %+v", final.Error)
	}
}
