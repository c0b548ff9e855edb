package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dshills/flowmonkey-go/store"
)

// JobStore is an in-memory store.JobStore.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*store.Job
}

// NewJobStore returns an empty in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*store.Job)}
}

func cloneJob(j *store.Job) *store.Job {
	out := *j
	out.Input = store.DeepCopyValue(j.Input).(map[string]any)
	if j.Result != nil {
		out.Result = store.DeepCopyValue(j.Result).(map[string]any)
	}
	if j.Checkpoint != nil {
		out.Checkpoint = store.DeepCopyValue(j.Checkpoint).(map[string]any)
	}
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	if j.Progress != nil {
		p := *j.Progress
		out.Progress = &p
	}
	if j.HeartbeatAt != nil {
		t := *j.HeartbeatAt
		out.HeartbeatAt = &t
	}
	return &out
}

func (s *JobStore) GetOrCreate(_ context.Context, job *store.Job) (*store.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.jobs[job.ID]; ok {
		return cloneJob(existing), false, nil
	}
	s.jobs[job.ID] = cloneJob(job)
	return cloneJob(job), true, nil
}

func (s *JobStore) Get(_ context.Context, jobID string) (*store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *JobStore) Claim(_ context.Context, jobID, runnerID, instanceID string) (*store.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, false, store.ErrNotFound
	}
	if j.Status != store.JobPending {
		return cloneJob(j), false, nil
	}
	if j.MaxAttempts > 0 && j.Attempts >= j.MaxAttempts {
		return cloneJob(j), false, nil
	}
	now := time.Now()
	j.Status = store.JobRunning
	j.RunnerID = runnerID
	j.InstanceID = instanceID
	j.HeartbeatAt = &now
	j.Attempts++
	j.Checkpoint = nil
	j.Progress = nil
	j.UpdatedAt = now
	return cloneJob(j), true, nil
}

func (s *JobStore) Heartbeat(_ context.Context, jobID, runnerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status != store.JobRunning || j.RunnerID != runnerID {
		return store.ErrConflict
	}
	now := time.Now()
	j.HeartbeatAt = &now
	j.UpdatedAt = now
	return nil
}

func (s *JobStore) Complete(_ context.Context, jobID, runnerID string, result map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return false, store.ErrNotFound
	}
	if j.Status != store.JobRunning || j.RunnerID != runnerID {
		return false, nil
	}
	j.Status = store.JobCompleted
	j.Result = store.DeepCopyValue(result).(map[string]any)
	j.UpdatedAt = time.Now()
	return true, nil
}

func (s *JobStore) Fail(_ context.Context, jobID, runnerID string, execErr *store.ExecError) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return false, store.ErrNotFound
	}
	if j.Status != store.JobRunning || j.RunnerID != runnerID {
		return false, nil
	}
	j.Status = store.JobFailed
	j.Error = execErr
	j.UpdatedAt = time.Now()
	return true, nil
}

func (s *JobStore) FindStalled(_ context.Context, now time.Time, limit int) ([]*store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Job
	for _, j := range s.jobs {
		if j.Status != store.JobRunning || j.HeartbeatAt == nil {
			continue
		}
		stallThreshold := now.Add(-3 * time.Duration(j.HeartbeatMs) * time.Millisecond)
		if j.HeartbeatAt.Before(stallThreshold) {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *JobStore) ResetStalled(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status != store.JobRunning {
		return nil
	}
	now := time.Now()
	if j.MaxAttempts > 0 && j.Attempts >= j.MaxAttempts {
		j.Status = store.JobFailed
		j.Error = &store.ExecError{Code: "JOB_EXCEEDED_ATTEMPTS", Message: "job exceeded max attempts after stall"}
		j.UpdatedAt = now
		return nil
	}
	j.Status = store.JobPending
	j.RunnerID = ""
	j.InstanceID = ""
	j.HeartbeatAt = nil
	j.UpdatedAt = now
	return nil
}

func (s *JobStore) SaveCheckpoint(_ context.Context, jobID, instanceID string, checkpoint map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status != store.JobRunning || j.InstanceID != instanceID {
		return store.ErrConflict
	}
	j.Checkpoint = store.DeepCopyValue(checkpoint).(map[string]any)
	j.UpdatedAt = time.Now()
	return nil
}

func (s *JobStore) GetCheckpoint(_ context.Context, jobID string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if j.Checkpoint == nil {
		return nil, nil
	}
	return store.DeepCopyValue(j.Checkpoint).(map[string]any), nil
}

func (s *JobStore) UpdateProgress(_ context.Context, jobID, instanceID string, progress store.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status != store.JobRunning || j.InstanceID != instanceID {
		return store.ErrConflict
	}
	p := progress
	j.Progress = &p
	j.UpdatedAt = time.Now()
	return nil
}

func (s *JobStore) ListPending(_ context.Context, limit int) ([]*store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Job
	for _, j := range s.jobs {
		if j.Status == store.JobPending {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ store.JobStore = (*JobStore)(nil)
