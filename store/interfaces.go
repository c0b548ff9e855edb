package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by any store lookup whose key does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when a store write is rejected by an optimistic
// or pessimistic precondition (a status guard on a job claim, a duplicate
// idempotency key, a duplicate flow registration).
var ErrConflict = errors.New("store: conflict")

// ExecutionStore persists Execution records and the auxiliary lookups the
// engine needs: idempotent creation, wake-ready scans, parent/child
// cascades, and an advisory per-execution lock.
type ExecutionStore interface {
	// Load fetches an execution by id. Returns ErrNotFound if absent.
	Load(ctx context.Context, id string) (*Execution, error)

	// Save persists the full execution record, overwriting any prior
	// version. The engine calls this once per tick.
	Save(ctx context.Context, exec *Execution) error

	// Delete removes an execution record. Used only by out-of-band
	// reapers; the engine itself never deletes an execution.
	Delete(ctx context.Context, id string) error

	// ListByStatus returns up to limit executions in the given status,
	// oldest first.
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Execution, error)

	// ListWakeReady returns waiting executions whose WakeAt is at or
	// before now, for drivers that poll rather than run a tick loop per
	// execution.
	ListWakeReady(ctx context.Context, now time.Time, limit int) ([]*Execution, error)

	// FindByIdempotencyKey looks up a live, unexpired execution created
	// with the given (flowId, key) pair.
	FindByIdempotencyKey(ctx context.Context, flowID, key string) (*Execution, error)

	// FindChildren returns executions whose ParentExecutionID is parentID,
	// used to cascade cancellation.
	FindChildren(ctx context.Context, parentID string) ([]*Execution, error)

	// AcquireLock takes an advisory, TTL-bounded lock scoped to id. It
	// returns a release function and true on success, or false if another
	// holder currently owns the lock (LOCK_CONTENTION, a soft/transient
	// signal, never a failure of the execution).
	AcquireLock(ctx context.Context, id string, ttl time.Duration) (release func(), acquired bool, err error)
}

// ContextStorage is a side store for large context values, keyed by
// (executionId, key). The engine accepts one (engine.WithContextStorage)
// but does not read from or write to it; nothing offloads context values
// here automatically.
type ContextStorage interface {
	Put(ctx context.Context, executionID, key string, value any) error
	Get(ctx context.Context, executionID, key string) (any, error)
	Delete(ctx context.Context, executionID, key string) error
}

// LockProvider is a general-purpose advisory lock, independent of
// ExecutionStore.AcquireLock, used by collaborators (the WAL replay worker,
// the job reaper) that need mutual exclusion over a resource key not tied
// to a single execution.
type LockProvider interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// FlowRegistry holds immutable, versioned Flow templates. Registration is
// validated (graph integrity, handler types, pipe-to-table linkage) and
// rejects duplicate (id, version) pairs.
type FlowRegistry interface {
	Register(ctx context.Context, flow *Flow) error
	Get(ctx context.Context, id, version string) (*Flow, error)
	LatestOf(ctx context.Context, id string) (*Flow, error)
	Versions(ctx context.Context, id string) ([]string, error)
}

// HandlerDescriptor is the static registration metadata attached to a
// handler type at register time: pure data, not behavior.
type HandlerDescriptor struct {
	Type        string
	Description string
}

// HandlerRegistry resolves a step's handler type string to whatever the
// engine's handler-invocation layer needs. The engine package defines the
// Handler capability interface itself; this registry only indexes
// implementations by type name, which is what keeps it a leaf-level,
// behavior-free contract.
type HandlerRegistry interface {
	Register(handlerType string, descriptor HandlerDescriptor, handler any) error
	Get(handlerType string) (descriptor HandlerDescriptor, handler any, ok bool)
	List() []HandlerDescriptor
}

// JobStore persists Job records with lease semantics: claim, heartbeat,
// complete/fail, stalled-job recovery, and instance-scoped checkpoint and
// progress visibility. See jobs.Manager for the behavior built on top.
type JobStore interface {
	// GetOrCreate inserts a pending job if (executionId, stepId, handler,
	// input) has no existing record, or returns the existing one.
	// Concurrent callers converge on the same record (created reports
	// which).
	GetOrCreate(ctx context.Context, job *Job) (result *Job, created bool, err error)

	Get(ctx context.Context, jobID string) (*Job, error)

	// Claim transitions pending -> running iff attempts < maxAttempts,
	// binding runnerID (and instanceID, which may be empty for callers
	// not using instance-scoped checkpoints).
	Claim(ctx context.Context, jobID, runnerID, instanceID string) (*Job, bool, error)

	// Heartbeat extends heartbeatAt. Only the current claiming runner may
	// extend it.
	Heartbeat(ctx context.Context, jobID, runnerID string) error

	Complete(ctx context.Context, jobID, runnerID string, result map[string]any) (bool, error)
	Fail(ctx context.Context, jobID, runnerID string, execErr *ExecError) (bool, error)

	// FindStalled lists running jobs whose heartbeatAt is older than
	// now - 3*heartbeatMs.
	FindStalled(ctx context.Context, now time.Time, limit int) ([]*Job, error)

	// ResetStalled returns a stalled running job to pending if attempts
	// remain, or fails it with JOB_EXCEEDED_ATTEMPTS otherwise.
	ResetStalled(ctx context.Context, jobID string) error

	// SaveCheckpoint, GetCheckpoint and UpdateProgress are scoped by
	// (jobID, instanceID); writes succeed only while instanceID is the
	// live claiming instance.
	SaveCheckpoint(ctx context.Context, jobID, instanceID string, checkpoint map[string]any) error
	GetCheckpoint(ctx context.Context, jobID string) (map[string]any, error)
	UpdateProgress(ctx context.Context, jobID, instanceID string, progress Progress) error

	// ListPending returns up to limit pending jobs, for runner polling.
	ListPending(ctx context.Context, limit int) ([]*Job, error)
}

// TableRegistry holds TableDefinitions that Pipes route rows into.
type TableRegistry interface {
	Register(ctx context.Context, table *TableDefinition) error
	Get(ctx context.Context, tableID string) (*TableDefinition, error)
	List(ctx context.Context) ([]*TableDefinition, error)
}

// FilterOp is a comparison operator for TableStore.Query.
type FilterOp string

const (
	OpEq   FilterOp = "eq"
	OpNeq  FilterOp = "neq"
	OpGt   FilterOp = "gt"
	OpGte  FilterOp = "gte"
	OpLt   FilterOp = "lt"
	OpLte  FilterOp = "lte"
	OpLike FilterOp = "like"
	OpIn   FilterOp = "in"
)

// Filter is one predicate in a TableStore.Query call.
type Filter struct {
	Column string
	Op     FilterOp
	Value  any
}

// TableStore holds the free-form rows routed into tables by pipes.
type TableStore interface {
	Insert(ctx context.Context, tableID string, row map[string]any) (rowID string, err error)
	Query(ctx context.Context, tableID string, filters []Filter, limit int) ([]map[string]any, error)
}

// WriteAheadLog durably records pipe inserts that failed transiently, for
// at-least-once delivery via replay.
type WriteAheadLog interface {
	Append(ctx context.Context, entry *WALEntry) error
	ReadPending(ctx context.Context, limit int) ([]*WALEntry, error)
	Ack(ctx context.Context, id string) error

	// IncrementAttempts records a failed replay attempt for id, returning
	// the new attempt count so the replayer can stop retrying an entry
	// that has exhausted its budget.
	IncrementAttempts(ctx context.Context, id string) (attempts int, err error)

	Compact(ctx context.Context) (removed int, err error)
}

// ResumeTokenStore persists ResumeTokens and their one-shot lifecycle.
type ResumeTokenStore interface {
	Generate(ctx context.Context, token *ResumeToken) error
	Get(ctx context.Context, tokenValue string) (*ResumeToken, error)
	MarkUsed(ctx context.Context, tokenValue string) (bool, error)
	Revoke(ctx context.Context, tokenValue string) error
	ListByExecution(ctx context.Context, executionID string) ([]*ResumeToken, error)
	CleanupExpired(ctx context.Context, now time.Time) (int, error)
}

// Event is a single lifecycle notification the engine or its collaborators
// emit. The events package defines the concrete Dispatcher and built-in
// sinks; this type lives in store because EventSink, a store-level
// contract, must reference it without importing back up into events.
type Event struct {
	ID          string
	Type        string
	ExecutionID string
	FlowID      string
	StepID      string
	JobID       string
	PipeID      string
	DurationMs  int64
	At          time.Time
	Attributes  map[string]any
}

// EventSink receives events as they are emitted. Delivery may be
// synchronous or queued; an implementation must never panic, and an error
// it encounters must never affect engine progress.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}
