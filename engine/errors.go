package engine

import (
	"errors"

	"github.com/dshills/flowmonkey-go/store"
)

// ErrLockContention is returned by Tick when another holder currently owns
// the execution's advisory lock. It is a transient signal, never a
// failure of the execution (spec §7 Propagation policy): the caller may
// simply retry.
var ErrLockContention = errors.New("engine: lock contention, retry tick")

// ErrNotWaiting is returned by Resume when the execution is not currently
// in the waiting status.
var ErrNotWaiting = errors.New("engine: execution is not waiting")

// Error code taxonomy. Every engine-originated failure carries one of these
// stable codes plus a human message, mirroring the teacher's EngineError
// (graph/engine.go) generalized from a single Code/Message pair into the
// full taxonomy this domain needs.
const (
	// Configuration
	CodeFlowNotFound         = "FLOW_NOT_FOUND"
	CodeStepNotFound         = "STEP_NOT_FOUND"
	CodeHandlerNotFound      = "HANDLER_NOT_FOUND"
	CodePipeValidationFailed = "PIPE_VALIDATION_FAILED"

	// Input
	CodeInputKeyMissing        = "INPUT_KEY_MISSING"
	CodeInputPathMissing       = "INPUT_PATH_MISSING"
	CodeInputTemplateUnresolved = "INPUT_TEMPLATE_UNRESOLVED"
	CodeContextKeyLimit        = "CONTEXT_KEY_LIMIT"
	CodeContextSizeLimit       = "CONTEXT_SIZE_LIMIT"
	CodeContextDepthLimit      = "CONTEXT_DEPTH_LIMIT"

	// State
	CodeInvalidExecutionState = "INVALID_EXECUTION_STATE"
	CodeIdempotencyConflict   = "IDEMPOTENCY_CONFLICT"
	CodeLockContention        = "LOCK_CONTENTION"
	CodeMaxStepsExceeded      = "MAX_STEPS_EXCEEDED"

	// Time
	CodeExecutionTimeout = "EXECUTION_TIMEOUT"
	CodeWaitTimeout      = "WAIT_TIMEOUT"
	CodeStepTimeout      = "STEP_TIMEOUT"

	// Token
	CodeTokenNotFound     = "TOKEN_NOT_FOUND"
	CodeTokenAlreadyUsed  = "TOKEN_ALREADY_USED"
	CodeTokenExpired      = "TOKEN_EXPIRED"
	CodeTokenRevoked      = "TOKEN_REVOKED"

	// Job
	CodeJobStalled          = "JOB_STALLED"
	CodeJobExceededAttempts = "JOB_EXCEEDED_ATTEMPTS"
	CodeNoHandler           = "NO_HANDLER"
)

// newError builds a *store.ExecError, the engine's one error shape (see
// store.ExecError.Error), with optional key/value detail pairs.
func newError(code, message string, details ...any) *store.ExecError {
	e := &store.ExecError{Code: code, Message: message}
	if len(details) > 0 {
		e.Details = make(map[string]any, len(details)/2)
		for i := 0; i+1 < len(details); i += 2 {
			key, _ := details[i].(string)
			e.Details[key] = details[i+1]
		}
	}
	return e
}
