package sqlbackend

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dshills/flowmonkey-go/store"
)

const jobColumns = `id, execution_id, step_id, handler, status, input_json, result_json, error_json,
	runner_id, instance_id, heartbeat_at, heartbeat_ms, attempts, max_attempts,
	checkpoint_json, progress_json, created_at, updated_at`

// JobStore is a relational store.JobStore: the durable work-queue record
// behind every handler invocation, guarded by (status, ownerId) predicates
// on each write the same way the teacher guards its own job claims.
type JobStore struct {
	db *Store
}

// NewJobStore wraps db for the store.JobStore contract.
func NewJobStore(db *Store) *JobStore {
	return &JobStore{db: db}
}

// GetOrCreate implements store.JobStore: insert-if-absent keyed by the
// job's deterministic ID, which callers compute from
// (executionId, stepId, handler, input) before calling in.
func (s *JobStore) GetOrCreate(ctx context.Context, job *store.Job) (*store.Job, bool, error) {
	now := s.db.now()

	inputJSON, err := marshalJSON(job.Input)
	if err != nil {
		return nil, false, err
	}

	res, err := s.db.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?,?,?,?,?,?,NULL,NULL,NULL,NULL,NULL,?,?,?,NULL,NULL,?,?)`,
		job.ID, job.ExecutionID, job.StepID, job.Handler, string(store.JobPending), inputJSON,
		job.HeartbeatMs, job.Attempts, job.MaxAttempts,
		formatTime(now), formatTime(now))
	if err == nil {
		if n, _ := res.RowsAffected(); n > 0 {
			created, loadErr := s.Get(ctx, job.ID)
			return created, true, loadErr
		}
	}

	existing, getErr := s.Get(ctx, job.ID)
	if getErr != nil {
		if err != nil {
			return nil, false, fmt.Errorf("sqlbackend: get-or-create job: %w", err)
		}
		return nil, false, getErr
	}
	return existing, false, nil
}

// Get implements store.JobStore.
func (s *JobStore) Get(ctx context.Context, jobID string) (*store.Job, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

// Claim implements store.JobStore: pending -> running iff attempts remain,
// binding runnerID/instanceID and resetting checkpoint/progress visibility.
func (s *JobStore) Claim(ctx context.Context, jobID, runnerID, instanceID string) (*store.Job, bool, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if job.Status != store.JobPending {
		return job, false, nil
	}
	if job.MaxAttempts > 0 && job.Attempts >= job.MaxAttempts {
		return job, false, nil
	}

	now := s.db.now()
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, runner_id = ?, instance_id = ?, heartbeat_at = ?,
			attempts = attempts + 1, checkpoint_json = NULL, progress_json = NULL, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(store.JobRunning), runnerID, instanceID, formatTime(now), formatTime(now),
		jobID, string(store.JobPending))
	if err != nil {
		return nil, false, fmt.Errorf("sqlbackend: claim job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		job, _ = s.Get(ctx, jobID)
		return job, false, nil
	}
	claimed, err := s.Get(ctx, jobID)
	return claimed, true, err
}

// Heartbeat implements store.JobStore: only the current claiming runner may
// extend the lease.
func (s *JobStore) Heartbeat(ctx context.Context, jobID, runnerID string) error {
	now := s.db.now()
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE jobs SET heartbeat_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND runner_id = ?`,
		formatTime(now), formatTime(now), jobID, string(store.JobRunning), runnerID)
	if err != nil {
		return fmt.Errorf("sqlbackend: heartbeat: %w", err)
	}
	return rowsAffectedErr(res)
}

// Complete implements store.JobStore, guarded by runner identity.
func (s *JobStore) Complete(ctx context.Context, jobID, runnerID string, result map[string]any) (bool, error) {
	resultJSON, err := marshalJSON(result)
	if err != nil {
		return false, err
	}
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, result_json = ?, updated_at = ?
		WHERE id = ? AND status = ? AND runner_id = ?`,
		string(store.JobCompleted), resultJSON, formatTime(s.db.now()),
		jobID, string(store.JobRunning), runnerID)
	if err != nil {
		return false, fmt.Errorf("sqlbackend: complete job: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Fail implements store.JobStore, guarded by runner identity.
func (s *JobStore) Fail(ctx context.Context, jobID, runnerID string, execErr *store.ExecError) (bool, error) {
	errJSON, err := marshalJSON(execErr)
	if err != nil {
		return false, err
	}
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error_json = ?, updated_at = ?
		WHERE id = ? AND status = ? AND runner_id = ?`,
		string(store.JobFailed), errJSON, formatTime(s.db.now()),
		jobID, string(store.JobRunning), runnerID)
	if err != nil {
		return false, fmt.Errorf("sqlbackend: fail job: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// FindStalled implements store.JobStore. heartbeatMs varies per row, so
// the staleness threshold is applied in Go after a coarse SQL filter
// rather than as a single computed SQL predicate.
func (s *JobStore) FindStalled(ctx context.Context, now time.Time, limit int) ([]*store.Job, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ? AND heartbeat_at IS NOT NULL ORDER BY created_at ASC`,
		string(store.JobRunning))
	if err != nil {
		return nil, fmt.Errorf("sqlbackend: find stalled: %w", err)
	}
	defer rows.Close()

	var out []*store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		threshold := now.Add(-3 * time.Duration(job.HeartbeatMs) * time.Millisecond)
		if job.HeartbeatAt != nil && job.HeartbeatAt.Before(threshold) {
			out = append(out, job)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, rows.Err()
}

// ResetStalled implements store.JobStore.
func (s *JobStore) ResetStalled(ctx context.Context, jobID string) error {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != store.JobRunning {
		return nil
	}
	now := s.db.now()
	if job.MaxAttempts > 0 && job.Attempts >= job.MaxAttempts {
		errJSON, _ := marshalJSON(&store.ExecError{
			Code: "JOB_EXCEEDED_ATTEMPTS", Message: "job exceeded max attempts after stall",
		})
		_, err := s.db.db.ExecContext(ctx, `
			UPDATE jobs SET status = ?, error_json = ?, updated_at = ? WHERE id = ?`,
			string(store.JobFailed), errJSON, formatTime(now), jobID)
		return err
	}
	_, err = s.db.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, runner_id = NULL, instance_id = NULL, heartbeat_at = NULL, updated_at = ?
		WHERE id = ?`, string(store.JobPending), formatTime(now), jobID)
	return err
}

// SaveCheckpoint implements store.JobStore, scoped to the live instance.
func (s *JobStore) SaveCheckpoint(ctx context.Context, jobID, instanceID string, checkpoint map[string]any) error {
	checkpointJSON, err := marshalJSON(checkpoint)
	if err != nil {
		return err
	}
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE jobs SET checkpoint_json = ?, updated_at = ?
		WHERE id = ? AND status = ? AND instance_id = ?`,
		checkpointJSON, formatTime(s.db.now()), jobID, string(store.JobRunning), instanceID)
	if err != nil {
		return fmt.Errorf("sqlbackend: save checkpoint: %w", err)
	}
	return rowsAffectedErr(res)
}

// GetCheckpoint implements store.JobStore. Reads are open regardless of
// the current claim owner.
func (s *JobStore) GetCheckpoint(ctx context.Context, jobID string) (map[string]any, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return job.Checkpoint, nil
}

// UpdateProgress implements store.JobStore, scoped to the live instance.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID, instanceID string, progress store.Progress) error {
	progressJSON, err := marshalJSON(progress)
	if err != nil {
		return err
	}
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE jobs SET progress_json = ?, updated_at = ?
		WHERE id = ? AND status = ? AND instance_id = ?`,
		progressJSON, formatTime(s.db.now()), jobID, string(store.JobRunning), instanceID)
	if err != nil {
		return fmt.Errorf("sqlbackend: update progress: %w", err)
	}
	return rowsAffectedErr(res)
}

// ListPending implements store.JobStore.
func (s *JobStore) ListPending(ctx context.Context, limit int) ([]*store.Job, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		string(store.JobPending), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlbackend: list pending jobs: %w", err)
	}
	defer rows.Close()

	var out []*store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

var _ store.JobStore = (*JobStore)(nil)

func rowsAffectedErr(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrConflict
	}
	return nil
}

func scanJob(row rowScanner) (*store.Job, error) {
	var (
		job                                store.Job
		status, inputJSON                  string
		resultJSON, errorJSON              sql.NullString
		runnerID, instanceID, heartbeatAt  sql.NullString
		checkpointJSON, progressJSON       sql.NullString
		createdAt, updatedAt               string
	)
	if err := row.Scan(
		&job.ID, &job.ExecutionID, &job.StepID, &job.Handler, &status, &inputJSON,
		&resultJSON, &errorJSON, &runnerID, &instanceID, &heartbeatAt, &job.HeartbeatMs,
		&job.Attempts, &job.MaxAttempts, &checkpointJSON, &progressJSON, &createdAt, &updatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlbackend: scan job: %w", err)
	}

	job.Status = store.JobStatus(status)
	job.RunnerID = runnerID.String
	job.InstanceID = instanceID.String
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)
	if heartbeatAt.Valid {
		job.HeartbeatAt = parseTimePtr(heartbeatAt)
	}

	if err := unmarshalJSON(strPtr(inputJSON), &job.Input); err != nil {
		return nil, fmt.Errorf("sqlbackend: decode job input: %w", err)
	}
	if err := unmarshalJSON(nullStringPtr(resultJSON), &job.Result); err != nil {
		return nil, fmt.Errorf("sqlbackend: decode job result: %w", err)
	}
	if err := unmarshalJSON(nullStringPtr(errorJSON), &job.Error); err != nil {
		return nil, fmt.Errorf("sqlbackend: decode job error: %w", err)
	}
	if err := unmarshalJSON(nullStringPtr(checkpointJSON), &job.Checkpoint); err != nil {
		return nil, fmt.Errorf("sqlbackend: decode job checkpoint: %w", err)
	}
	if err := unmarshalJSON(nullStringPtr(progressJSON), &job.Progress); err != nil {
		return nil, fmt.Errorf("sqlbackend: decode job progress: %w", err)
	}
	return &job, nil
}
