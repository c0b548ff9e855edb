// Package store defines the narrow persistence contracts the engine, job
// subsystem, data-store pipes and resume-token manager depend on, along with
// the plain data shapes that flow through them.
//
// Nothing in this package knows how to advance a workflow; it only knows how
// to shape and move the records that describe one. Behavior lives one layer
// up, in engine, jobs, pipes and tokens.
package store

import "time"

// Status is an execution's position in the lifecycle state machine.
type Status string

// Execution lifecycle states. engine/tick.go applies the transitions.
const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusWaiting    Status = "waiting"
	StatusCancelling Status = "cancelling"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether s is a terminal status that never transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// SelectorType names one of the six input selector variants.
type SelectorType string

const (
	SelectorKey      SelectorType = "key"
	SelectorKeys     SelectorType = "keys"
	SelectorPath     SelectorType = "path"
	SelectorTemplate SelectorType = "template"
	SelectorFull     SelectorType = "full"
	SelectorStatic   SelectorType = "static"
)

// InputSelector derives a step's handler input from an execution's context.
//
// Exactly one of the variant-specific fields is meaningful for a given Type;
// the rest are ignored. See engine.ResolveInput for evaluation semantics.
type InputSelector struct {
	Type SelectorType `json:"type"`

	// Key is used by SelectorKey: context[Key].
	Key string `json:"key,omitempty"`

	// Keys is used by SelectorKeys: a sub-mapping of exactly these keys.
	Keys []string `json:"keys,omitempty"`

	// Path is used by SelectorPath: dot-path traversal, e.g. "a.b.c".
	Path string `json:"path,omitempty"`

	// Template is used by SelectorTemplate: a string with ${path} spans.
	Template string `json:"template,omitempty"`

	// Value is used by SelectorStatic: a literal value, context ignored.
	Value any `json:"value,omitempty"`

	// Required marks a key/path selector as hard-failing when unresolved.
	// When false, a missing key/path yields an undefined (nil) input.
	Required bool `json:"required,omitempty"`

	// OnMissing controls SelectorTemplate behavior for unresolved spans:
	// "fail" (default, zero value) rejects the template outright; "empty"
	// substitutes an empty string for the unresolved span.
	OnMissing string `json:"onMissing,omitempty"`
}

// TransitionKind names one of the three outcome-keyed transition slots a
// step may declare.
type TransitionKind string

const (
	OnSuccess TransitionKind = "onSuccess"
	OnFailure TransitionKind = "onFailure"
	OnResume  TransitionKind = "onResume"
)

// Transition names the next step after a given outcome, or marks the
// terminal sentinel (the JSON document's `null` target).
type Transition struct {
	// Target is the next step id. Meaningless when Terminal is true.
	Target string `json:"target,omitempty"`

	// Terminal is true when this transition's document value was `null`,
	// meaning the execution completes rather than advancing.
	Terminal bool `json:"terminal,omitempty"`
}

// Step is one node of a Flow's graph: a handler type, its configuration,
// how to derive its input, where to store its output, and where to go next
// per outcome.
type Step struct {
	ID          string                    `json:"id"`
	Type        string                    `json:"type"`
	Config      map[string]any            `json:"config,omitempty"`
	Input       InputSelector             `json:"input"`
	OutputKey   string                    `json:"outputKey,omitempty"`
	Transitions map[TransitionKind]Transition `json:"transitions,omitempty"`
}

// Flow is an immutable template identified by (ID, Version): a directed
// graph of named Steps plus any declared Pipes.
type Flow struct {
	ID            string          `json:"id"`
	Version       string          `json:"version"`
	InitialStepID string          `json:"initialStepId"`
	Steps         map[string]Step `json:"steps"`
	Pipes         []Pipe          `json:"pipes,omitempty"`
}

// ExecError is the stable {code, message, details} shape carried by failed
// executions and by step history entries.
type ExecError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *ExecError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}

// HistoryEntry records one step's execution within an Execution's history.
type HistoryEntry struct {
	StepID      string     `json:"stepId"`
	Type        string     `json:"type"`
	Outcome     string     `json:"outcome"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt time.Time  `json:"completedAt"`
	DurationMs  int64      `json:"durationMs"`
	Error       *ExecError `json:"error,omitempty"`
}

// CancellationInfo records how and why an execution was cancelled.
type CancellationInfo struct {
	Source      string    `json:"source"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelledAt"`
}

// TimeoutConfig holds the three independent timeout budgets an execution
// may be created with. Zero means "no limit" for that budget.
type TimeoutConfig struct {
	ExecutionTimeoutMs int64 `json:"executionTimeoutMs,omitempty"`
	WaitTimeoutMs      int64 `json:"waitTimeoutMs,omitempty"`
	StepTimeoutMs      int64 `json:"stepTimeoutMs,omitempty"`
}

// Execution is the mutable runtime record for one live instance of a Flow.
type Execution struct {
	ID            string         `json:"id"`
	FlowID        string         `json:"flowId"`
	FlowVersion   string         `json:"flowVersion"`
	CurrentStepID string         `json:"currentStepId"`
	Status        Status         `json:"status"`
	Context       map[string]any `json:"context"`
	StepCount     int            `json:"stepCount"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`

	WakeAt        *time.Time `json:"wakeAt,omitempty"`
	WaitReason    string     `json:"waitReason,omitempty"`
	WaitStartedAt *time.Time `json:"waitStartedAt,omitempty"`

	// CurrentStepStartedAt marks when the execution entered CurrentStepID,
	// the reference point StepTimeoutMs is measured against.
	CurrentStepStartedAt *time.Time `json:"currentStepStartedAt,omitempty"`

	// ActiveResumeToken is the resume token value currently outstanding
	// for CurrentStepID, if its handler's wait outcome requested one.
	ActiveResumeToken string `json:"activeResumeToken,omitempty"`

	Error *ExecError `json:"error,omitempty"`

	History []HistoryEntry `json:"history,omitempty"`

	TenantID           string `json:"tenantId,omitempty"`
	ParentExecutionID  string `json:"parentExecutionId,omitempty"`
	IdempotencyKey     string `json:"idempotencyKey,omitempty"`

	IdempotencyExpiresAt *time.Time `json:"idempotencyExpiresAt,omitempty"`

	Cancellation  *CancellationInfo `json:"cancellation,omitempty"`
	TimeoutConfig *TimeoutConfig    `json:"timeoutConfig,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the execution, including its context.
// The engine clones on every store write so callers never alias mutable
// state with what was actually persisted.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	out := *e
	out.Context = DeepCopyValue(e.Context).(map[string]any)
	if e.WakeAt != nil {
		t := *e.WakeAt
		out.WakeAt = &t
	}
	if e.WaitStartedAt != nil {
		t := *e.WaitStartedAt
		out.WaitStartedAt = &t
	}
	if e.CurrentStepStartedAt != nil {
		t := *e.CurrentStepStartedAt
		out.CurrentStepStartedAt = &t
	}
	if e.IdempotencyExpiresAt != nil {
		t := *e.IdempotencyExpiresAt
		out.IdempotencyExpiresAt = &t
	}
	if e.Error != nil {
		ec := *e.Error
		ec.Details = DeepCopyValue(e.Error.Details).(map[string]any)
		out.Error = &ec
	}
	if e.History != nil {
		out.History = append([]HistoryEntry(nil), e.History...)
	}
	if e.Cancellation != nil {
		c := *e.Cancellation
		out.Cancellation = &c
	}
	if e.TimeoutConfig != nil {
		tc := *e.TimeoutConfig
		out.TimeoutConfig = &tc
	}
	if e.Metadata != nil {
		out.Metadata = DeepCopyValue(e.Metadata).(map[string]any)
	}
	return &out
}

// JobStatus is a job's position in the claim/heartbeat/complete lifecycle.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Progress is a handler-reported fraction-complete and message, scoped to a
// job's current claim.
type Progress struct {
	Fraction float64 `json:"fraction"`
	Message  string  `json:"message,omitempty"`
}

// Job is a deterministically-keyed, leased unit of stateful work behind a
// step, enabling checkpointed handlers that may be carried out by a runner
// process distinct from the one that enqueued them.
type Job struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"executionId"`
	StepID      string         `json:"stepId"`
	Handler     string         `json:"handler"`
	Status      JobStatus      `json:"status"`
	Input       map[string]any `json:"input"`
	Result      map[string]any `json:"result,omitempty"`
	Error       *ExecError     `json:"error,omitempty"`

	RunnerID    string     `json:"runnerId,omitempty"`
	InstanceID  string     `json:"instanceId,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeatAt,omitempty"`
	HeartbeatMs int64      `json:"heartbeatMs"`

	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"maxAttempts"`

	Checkpoint map[string]any `json:"checkpoint,omitempty"`
	Progress   *Progress      `json:"progress,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Column describes one field of a TableDefinition.
type Column struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// TableDefinition is a user-registered row shape that a Pipe may route
// step output into.
type TableDefinition struct {
	ID        string    `json:"id"`
	Columns   []Column  `json:"columns"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PipeOn names which step outcomes a Pipe fires on.
type PipeOn string

const (
	PipeOnSuccess PipeOn = "success"
	PipeOnFailure PipeOn = "failure"
	PipeOnAlways  PipeOn = "always"
)

// PipeMapping routes one field of a step's output (by dot path) into one
// table column.
type PipeMapping struct {
	SourcePath string `json:"sourcePath"`
	ColumnID   string `json:"columnId"`
}

// Pipe is a declarative, fire-and-forget route from a step's output into a
// table row.
type Pipe struct {
	ID           string         `json:"id"`
	StepID       string         `json:"stepId"`
	On           PipeOn         `json:"on"`
	TableID      string         `json:"tableId"`
	Mappings     []PipeMapping  `json:"mappings"`
	StaticValues map[string]any `json:"staticValues,omitempty"`
}

// WALEntry is a durable record of a pipe insert that failed transiently,
// kept until a successful replay acks it.
type WALEntry struct {
	ID          string         `json:"id"`
	TableID     string         `json:"tableId"`
	TenantID    string         `json:"tenantId,omitempty"`
	Data        map[string]any `json:"data"`
	PipeID      string         `json:"pipeId"`
	ExecutionID string         `json:"executionId"`
	FlowID      string         `json:"flowId"`
	StepID      string         `json:"stepId"`
	Error       string         `json:"error"`
	Attempts    int            `json:"attempts"`
	CreatedAt   time.Time      `json:"createdAt"`
	Acked       bool           `json:"acked"`
}

// TokenStatus is a resume token's position in its one-shot lifecycle.
type TokenStatus string

const (
	TokenActive  TokenStatus = "active"
	TokenUsed    TokenStatus = "used"
	TokenExpired TokenStatus = "expired"
	TokenRevoked TokenStatus = "revoked"
)

// ResumeToken is an opaque one-shot authorization bound to an
// (executionId, stepId) pair, issued when a handler's wait outcome asks
// for one.
type ResumeToken struct {
	Token       string         `json:"token"`
	ExecutionID string         `json:"executionId"`
	StepID      string         `json:"stepId"`
	Status      TokenStatus    `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
	ExpiresAt   *time.Time     `json:"expiresAt,omitempty"`
	UsedAt      *time.Time     `json:"usedAt,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
