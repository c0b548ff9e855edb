package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/flowmonkey-go/store"
)

// Manager wraps a store.JobStore with the deterministic-identity and
// claim-lifecycle operations spec.md §4.2 describes, shared by the
// engine's inline checkpoint-aware invocation path and the standalone
// Runner.
type Manager struct {
	jobs store.JobStore
}

// NewManager returns a Manager backed by jobs.
func NewManager(jobs store.JobStore) *Manager {
	return &Manager{jobs: jobs}
}

const defaultHeartbeatMs = 30_000
const defaultMaxAttempts = 5

// EnsureClaimed gets-or-creates the deterministically-keyed job for
// (executionID, stepID, handler, input) and claims it under runnerID,
// minting a fresh instanceID for this attempt. It returns the claimed job
// and a bound ClaimHandle, or ok=false if the job exists but is already
// claimed by another runner (a soft contention signal, not an error).
func (m *Manager) EnsureClaimed(ctx context.Context, executionID, stepID, handler string, input map[string]any, runnerID string) (*store.Job, *ClaimHandle, bool, error) {
	jobID, err := ComputeID(executionID, stepID, handler, input)
	if err != nil {
		return nil, nil, false, err
	}

	job, _, err := m.jobs.GetOrCreate(ctx, &store.Job{
		ID:          jobID,
		ExecutionID: executionID,
		StepID:      stepID,
		Handler:     handler,
		Status:      store.JobPending,
		Input:       input,
		HeartbeatMs: defaultHeartbeatMs,
		MaxAttempts: defaultMaxAttempts,
	})
	if err != nil {
		return nil, nil, false, err
	}

	switch job.Status {
	case store.JobCompleted, store.JobFailed, store.JobCancelled:
		return job, nil, false, nil
	}

	instanceID := uuid.NewString()
	claimed, ok, err := m.jobs.Claim(ctx, job.ID, runnerID, instanceID)
	if err != nil {
		return nil, nil, false, err
	}
	if !ok {
		return job, nil, false, nil
	}

	return claimed, &ClaimHandle{jobs: m.jobs, jobID: job.ID, runnerID: runnerID, instanceID: instanceID}, true, nil
}

// ClaimHandle scopes checkpoint, progress, heartbeat and terminal
// operations to the runner/instance that currently owns a job's claim.
type ClaimHandle struct {
	jobs       store.JobStore
	jobID      string
	runnerID   string
	instanceID string
}

// JobID returns the claimed job's deterministic id.
func (h *ClaimHandle) JobID() string { return h.jobID }

// Heartbeat extends the claim's lease.
func (h *ClaimHandle) Heartbeat(ctx context.Context) error {
	return h.jobs.Heartbeat(ctx, h.jobID, h.runnerID)
}

// SaveCheckpoint persists checkpoint state scoped to this claim's instance.
func (h *ClaimHandle) SaveCheckpoint(ctx context.Context, checkpoint map[string]any) error {
	return h.jobs.SaveCheckpoint(ctx, h.jobID, h.instanceID, checkpoint)
}

// GetCheckpoint reads the job's last saved checkpoint.
func (h *ClaimHandle) GetCheckpoint(ctx context.Context) (map[string]any, error) {
	return h.jobs.GetCheckpoint(ctx, h.jobID)
}

// UpdateProgress reports fraction-complete scoped to this claim's instance.
func (h *ClaimHandle) UpdateProgress(ctx context.Context, progress store.Progress) error {
	return h.jobs.UpdateProgress(ctx, h.jobID, h.instanceID, progress)
}

// Complete marks the job completed with result, guarded by runner identity.
func (h *ClaimHandle) Complete(ctx context.Context, result map[string]any) (bool, error) {
	return h.jobs.Complete(ctx, h.jobID, h.runnerID, result)
}

// Fail marks the job failed with execErr, guarded by runner identity.
func (h *ClaimHandle) Fail(ctx context.Context, execErr *store.ExecError) (bool, error) {
	return h.jobs.Fail(ctx, h.jobID, h.runnerID, execErr)
}

// FindStalled lists running jobs whose heartbeat is overdue.
func (m *Manager) FindStalled(ctx context.Context, now time.Time, limit int) ([]*store.Job, error) {
	return m.jobs.FindStalled(ctx, now, limit)
}

// ResetStalled returns a stalled job to pending, or fails it outright once
// attempts are exhausted.
func (m *Manager) ResetStalled(ctx context.Context, jobID string) error {
	return m.jobs.ResetStalled(ctx, jobID)
}

// ListPending returns up to limit pending jobs, for runner polling.
func (m *Manager) ListPending(ctx context.Context, limit int) ([]*store.Job, error) {
	return m.jobs.ListPending(ctx, limit)
}

// Claim claims a specific, already-known pending job under runnerID and a
// fresh instanceID, used by Runner when it polls ListPending directly
// rather than going through EnsureClaimed.
func (m *Manager) Claim(ctx context.Context, jobID, runnerID string) (*store.Job, *ClaimHandle, bool, error) {
	instanceID := uuid.NewString()
	job, ok, err := m.jobs.Claim(ctx, jobID, runnerID, instanceID)
	if err != nil || !ok {
		return job, nil, ok, err
	}
	return job, &ClaimHandle{jobs: m.jobs, jobID: jobID, runnerID: runnerID, instanceID: instanceID}, true, nil
}
