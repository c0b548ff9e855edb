package engine

import (
	"context"
	"time"

	"github.com/dshills/flowmonkey-go/store"
)

// Outcome names one of the three tagged variants a Handler's StepResult may
// carry, the same "outcome tag + payload" shape the teacher uses for
// NodeResult (graph/node.go), generalized from a single Delta/Route pair
// into the three outcomes this domain's step handlers return.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeWait    Outcome = "wait"
)

// ResumeTokenRequest asks the engine to mint a resume token when a handler
// returns wait.
type ResumeTokenRequest struct {
	ExpiresAt *time.Time
	Metadata  map[string]any
}

// StepResult is exactly one of success, failure, or wait. Only the fields
// relevant to Outcome are meaningful.
type StepResult struct {
	Outcome Outcome

	// Success
	Output any

	// Failure
	Error *store.ExecError

	// Wait
	WakeAt      time.Time
	WaitReason  string
	ResumeToken *ResumeTokenRequest
	WaitData    map[string]any
}

// Success builds a success StepResult carrying output.
func Success(output any) StepResult {
	return StepResult{Outcome: OutcomeSuccess, Output: output}
}

// Failure builds a failure StepResult from a code, message, and optional
// detail key/value pairs.
func Failure(code, message string, details ...any) StepResult {
	return StepResult{Outcome: OutcomeFailure, Error: newError(code, message, details...)}
}

// Wait builds a wait StepResult that suspends the execution until wakeAt,
// optionally requesting a resume token.
func Wait(wakeAt time.Time, waitReason string, token *ResumeTokenRequest, waitData map[string]any) StepResult {
	return StepResult{
		Outcome:     OutcomeWait,
		WakeAt:      wakeAt,
		WaitReason:  waitReason,
		ResumeToken: token,
		WaitData:    waitData,
	}
}

// CancellationSignal lets a handler observe an in-flight cancel() between
// its own suspension points.
type CancellationSignal interface {
	Cancelled() bool
	Done() <-chan struct{}
}

// CheckpointManager lets a stateful handler persist and recover progress
// across claim/retry cycles, scoped to the job backing the current step
// (see jobs.Manager). A handler invoked for a step with no backing job
// receives a no-op implementation.
type CheckpointManager interface {
	Save(ctx context.Context, checkpoint map[string]any) error
	Get(ctx context.Context) (map[string]any, error)
	UpdateProgress(ctx context.Context, progress store.Progress) error
}

// TokenManager is the single injection path for resume-token operations a
// handler may need (SUPPLEMENTED FEATURES Open Question c: always via
// HandlerParams.Tokens, never pulled from context).
type TokenManager interface {
	Get(ctx context.Context, token string) (*store.ResumeToken, error)
	Revoke(ctx context.Context, token string) error
}

// ContextView exposes get/set/has/delete/getAll helpers over an
// execution's context, matching the step handler contract's
// `context (with get/set/has/delete/getAll)` parameter. Writes are staged
// in-memory; the engine commits the backing map after the handler returns.
type ContextView interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Has(key string) bool
	Delete(key string)
	GetAll() map[string]any
}

// ExecutionView exposes the read-only execution identity a handler may
// need without granting it direct access to the full mutable record.
type ExecutionView struct {
	ID                string
	FlowID            string
	TenantID          string
	ParentExecutionID string
}

// HandlerParams is passed to Handler.Execute for a single step invocation.
type HandlerParams struct {
	Input        any
	Step         store.Step
	Execution    ExecutionView
	Context      ContextView
	Cancellation CancellationSignal
	Checkpoint   CheckpointManager
	Tokens       TokenManager
}

// Handler is the polymorphic capability the engine invokes for a step's
// handler type, the direct analogue of the teacher's Node[S] interface
// (graph/node.go) generalized from a typed-state Delta/Route result into
// the three-outcome StepResult this domain uses.
type Handler interface {
	Execute(ctx context.Context, params HandlerParams) StepResult
}

// HandlerFunc adapts a plain function to the Handler interface, the same
// "function as interface" pattern the teacher uses for NodeFunc.
type HandlerFunc func(ctx context.Context, params HandlerParams) StepResult

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, params HandlerParams) StepResult {
	return f(ctx, params)
}

var _ Handler = HandlerFunc(nil)
