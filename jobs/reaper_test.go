package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/dshills/flowmonkey-go/store"
	"github.com/dshills/flowmonkey-go/store/memstore"
)

func TestReaperSweepResetsStalledJob(t *testing.T) {
	ctx := context.Background()
	jobStore := memstore.NewJobStore()
	manager := NewManager(jobStore)

	_, claim, ok, err := manager.EnsureClaimed(ctx, "e1", "s1", "h", map[string]any{"n": 1}, "runnerA")
	if err != nil || !ok {
		t.Fatalf("EnsureClaimed: ok=%v err=%v", ok, err)
	}

	farFuture := time.Now().Add(time.Hour)
	reaper := NewReaper(manager, 10)

	reset, err := reaper.SweepOnce(ctx, farFuture)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if reset != 1 {
		t.Fatalf("expected 1 stalled job reset, got %d", reset)
	}

	job, err := jobStore.Get(ctx, claim.JobID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != store.JobPending {
		t.Fatalf("expected job reset to pending, got %s", job.Status)
	}
	if job.Attempts != 1 {
		t.Fatalf("expected attempts unchanged by reset (still 1 from the claim), got %d", job.Attempts)
	}
}

func TestReaperFailsJobAfterMaxAttemptsExhausted(t *testing.T) {
	ctx := context.Background()
	jobStore := memstore.NewJobStore()
	manager := NewManager(jobStore)

	jobID, _ := ComputeID("e1", "s1", "h", map[string]any{"n": 1})
	if _, _, err := jobStore.GetOrCreate(ctx, &store.Job{
		ID: jobID, ExecutionID: "e1", StepID: "s1", Handler: "h",
		Status: store.JobPending, Input: map[string]any{"n": 1}, MaxAttempts: 1, HeartbeatMs: 1000,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := jobStore.Claim(ctx, jobID, "runnerA", "inst-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	reaper := NewReaper(manager, 10)
	if _, err := reaper.SweepOnce(ctx, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}

	job, err := jobStore.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != store.JobFailed {
		t.Fatalf("expected job failed after exhausting attempts, got %s", job.Status)
	}
	if job.Error == nil || job.Error.Code != "JOB_EXCEEDED_ATTEMPTS" {
		t.Fatalf("expected JOB_EXCEEDED_ATTEMPTS error, got %+v", job.Error)
	}
}
