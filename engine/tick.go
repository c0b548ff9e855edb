package engine

import (
	"context"
	"time"

	"github.com/dshills/flowmonkey-go/jobs"
	"github.com/dshills/flowmonkey-go/pipes"
	"github.com/dshills/flowmonkey-go/store"
	"github.com/dshills/flowmonkey-go/tokens"
)

// TickResult is Tick's (and Run's) return value.
type TickResult struct {
	Done   bool
	Status store.Status
	WakeAt *time.Time
	Error  *store.ExecError
}

// Tick advances executionID by exactly one step (spec §4.1 Tick
// algorithm). It is idempotent against terminal states and returns
// ErrLockContention, a transient signal, if another holder currently owns
// the execution's advisory lock.
func (e *Engine) Tick(ctx context.Context, executionID string) (*TickResult, error) {
	return e.tick(ctx, executionID, false)
}

// tick is Tick's body. With simulateTime set, a waiting execution's WakeAt
// counts as elapsed even when it lies in the future (Run's SimulateTime).
func (e *Engine) tick(ctx context.Context, executionID string, simulateTime bool) (*TickResult, error) {
	exec, err := e.executions.Load(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if exec.Status.Terminal() {
		return &TickResult{Done: true, Status: exec.Status, Error: exec.Error}, nil
	}

	if exec.Status == store.StatusCancelling {
		return e.finalizeCancellation(ctx, exec)
	}

	release, acquired, err := e.executions.AcquireLock(ctx, exec.ID, e.cfg.lockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrLockContention
	}
	defer release()

	// Reload under the lock: another tick may have advanced (or
	// cancelled) the execution between our first Load and acquiring it.
	exec, err = e.executions.Load(ctx, exec.ID)
	if err != nil {
		return nil, err
	}
	if exec.Status.Terminal() {
		return &TickResult{Done: true, Status: exec.Status, Error: exec.Error}, nil
	}
	if exec.Status == store.StatusCancelling {
		return e.finalizeCancellation(ctx, exec)
	}

	now := e.cfg.now()

	if res, handled, err := e.checkTimeouts(ctx, exec, now); handled {
		return res, err
	}

	flow, err := e.flows.Get(ctx, exec.FlowID, exec.FlowVersion)
	if err != nil {
		return e.failExecution(ctx, exec, newError(CodeFlowNotFound, "flow version no longer registered"))
	}

	if exec.Status == store.StatusWaiting && exec.WakeAt != nil && (simulateTime || !exec.WakeAt.After(now)) {
		return e.advanceFromWait(ctx, exec, flow, map[string]any{}, false)
	}
	if exec.Status == store.StatusWaiting {
		return &TickResult{Status: exec.Status, WakeAt: exec.WakeAt}, nil
	}

	return e.advanceStep(ctx, exec, flow, now)
}

// checkTimeouts enforces the three independent timeout budgets at this
// tick boundary (spec §5 Timeouts). handled is true when a timeout fired
// and the tick is already complete.
func (e *Engine) checkTimeouts(ctx context.Context, exec *store.Execution, now time.Time) (*TickResult, bool, error) {
	tc := exec.TimeoutConfig
	if tc == nil {
		return nil, false, nil
	}
	if tc.ExecutionTimeoutMs > 0 {
		deadline := exec.CreatedAt.Add(time.Duration(tc.ExecutionTimeoutMs) * time.Millisecond)
		if now.After(deadline) {
			res, err := e.failExecution(ctx, exec, newError(CodeExecutionTimeout, "execution exceeded its execution timeout budget"))
			return res, true, err
		}
	}
	if exec.Status == store.StatusWaiting && tc.WaitTimeoutMs > 0 && exec.WaitStartedAt != nil {
		deadline := exec.WaitStartedAt.Add(time.Duration(tc.WaitTimeoutMs) * time.Millisecond)
		if now.After(deadline) {
			res, err := e.failExecution(ctx, exec, newError(CodeWaitTimeout, "execution exceeded its wait timeout budget"))
			return res, true, err
		}
	}
	if exec.Status == store.StatusRunning && tc.StepTimeoutMs > 0 && exec.CurrentStepStartedAt != nil {
		deadline := exec.CurrentStepStartedAt.Add(time.Duration(tc.StepTimeoutMs) * time.Millisecond)
		if now.After(deadline) {
			res, err := e.failExecution(ctx, exec, newError(CodeStepTimeout, "step exceeded its step timeout budget"))
			return res, true, err
		}
	}
	return nil, false, nil
}

func (e *Engine) failExecution(ctx context.Context, exec *store.Execution, execErr *store.ExecError) (*TickResult, error) {
	exec.Status = store.StatusFailed
	exec.Error = execErr
	exec.UpdatedAt = e.cfg.now()
	if err := e.executions.Save(ctx, exec); err != nil {
		return nil, err
	}
	e.emit(ctx, store.Event{Type: "execution.failed", ExecutionID: exec.ID, FlowID: exec.FlowID, StepID: exec.CurrentStepID, At: exec.UpdatedAt})
	return &TickResult{Done: true, Status: exec.Status, Error: execErr}, nil
}

func (e *Engine) finalizeCancellation(ctx context.Context, exec *store.Execution) (*TickResult, error) {
	exec.Status = store.StatusCancelled
	exec.UpdatedAt = e.cfg.now()
	if err := e.executions.Save(ctx, exec); err != nil {
		return nil, err
	}
	e.emit(ctx, store.Event{Type: "execution.cancelled", ExecutionID: exec.ID, FlowID: exec.FlowID, At: exec.UpdatedAt})
	return &TickResult{Done: true, Status: exec.Status}, nil
}

// advanceStep performs the load->guard->resolve->invoke->apply sequence
// (spec §4.1 steps 4-9) for an execution currently sitting at a runnable
// step (pending or running, or running again after a resume).
func (e *Engine) advanceStep(ctx context.Context, exec *store.Execution, flow *store.Flow, now time.Time) (*TickResult, error) {
	step, ok := flow.Steps[exec.CurrentStepID]
	if !ok {
		return e.failExecution(ctx, exec, newError(CodeStepNotFound, "current step not found in flow", "stepId", exec.CurrentStepID))
	}

	if exec.Status == store.StatusPending {
		exec.Status = store.StatusRunning
	}
	exec.CurrentStepStartedAt = &now

	input, err := ResolveInput(step.Input, exec.Context)
	if err != nil {
		if execErr, ok := err.(*store.ExecError); ok {
			return e.failExecution(ctx, exec, execErr)
		}
		return e.failExecution(ctx, exec, newError(CodeInputKeyMissing, err.Error()))
	}

	descriptor, rawHandler, ok := e.handlers.Get(step.Type)
	_ = descriptor
	if !ok {
		return e.failExecution(ctx, exec, newError(CodeHandlerNotFound, "unknown handler type", "type", step.Type))
	}
	handler, ok := rawHandler.(Handler)
	if !ok {
		return e.failExecution(ctx, exec, newError(CodeHandlerNotFound, "registered handler does not implement engine.Handler", "type", step.Type))
	}

	e.emit(ctx, store.Event{Type: "step.started", ExecutionID: exec.ID, FlowID: exec.FlowID, StepID: step.ID, At: now})
	if exec.StepCount == 0 {
		e.emit(ctx, store.Event{Type: "execution.started", ExecutionID: exec.ID, FlowID: exec.FlowID, At: now})
	}

	claim, release := e.claimJobFor(ctx, exec, step, input)
	if release != nil {
		defer release()
	}

	params := HandlerParams{
		Input: input,
		Step:  step,
		Execution: ExecutionView{
			ID:                exec.ID,
			FlowID:            exec.FlowID,
			TenantID:          exec.TenantID,
			ParentExecutionID: exec.ParentExecutionID,
		},
		Context:      &contextView{data: exec.Context},
		Cancellation: ctxCancellationSignal{ctx: ctx},
		Checkpoint:   e.checkpointManagerFor(claim),
		Tokens:       e.tokenManager(),
	}

	result := handler.Execute(ctx, params)
	completedAt := e.cfg.now()
	exec.StepCount++

	return e.applyOutcome(ctx, exec, flow, step, result, now, completedAt)
}

// claimJobFor binds the step to a deterministically-keyed job when the
// Engine has a JobStore wired, so a handler using HandlerParams.Checkpoint
// gets real lease-scoped persistence instead of a no-op. A claim failure
// (the job already being claimed elsewhere, which cannot happen while we
// hold the execution lock, or already terminal) degrades to a no-op
// checkpoint rather than failing the step.
func (e *Engine) claimJobFor(ctx context.Context, exec *store.Execution, step store.Step, input any) (*jobs.ClaimHandle, func()) {
	if e.jobsMgr == nil {
		return nil, nil
	}
	inputMap, ok := input.(map[string]any)
	if !ok {
		inputMap = map[string]any{"value": input}
	}
	_, claim, ok, err := e.jobsMgr.EnsureClaimed(ctx, exec.ID, step.ID, step.Type, inputMap, "engine-inline")
	if err != nil || !ok {
		return nil, nil
	}
	return claim, func() {}
}

// applyOutcome is spec §4.1 steps 6-9 for whichever of the three
// StepResult variants the handler returned.
func (e *Engine) applyOutcome(ctx context.Context, exec *store.Execution, flow *store.Flow, step store.Step, result StepResult, startedAt, completedAt time.Time) (*TickResult, error) {
	switch result.Outcome {
	case OutcomeSuccess:
		return e.applySuccess(ctx, exec, flow, step, result, startedAt, completedAt)
	case OutcomeFailure:
		return e.applyFailure(ctx, exec, flow, step, result, startedAt, completedAt)
	case OutcomeWait:
		return e.applyWait(ctx, exec, step, result, startedAt, completedAt)
	default:
		return e.failExecution(ctx, exec, newError(CodeInvalidExecutionState, "handler returned an unrecognized outcome"))
	}
}

func (e *Engine) applySuccess(ctx context.Context, exec *store.Execution, flow *store.Flow, step store.Step, result StepResult, startedAt, completedAt time.Time) (*TickResult, error) {
	if step.OutputKey != "" {
		if err := store.SetContextPath(exec.Context, step.OutputKey, store.DeepCopyValue(result.Output)); err != nil {
			return e.failExecution(ctx, exec, newError(CodeInvalidExecutionState, "writing step output", "outputKey", step.OutputKey, "cause", err.Error()))
		}
	}
	if err := store.ValidateContext(exec.Context, e.cfg.contextLimits); err != nil {
		return e.failExecution(ctx, exec, err.(*store.ExecError))
	}

	e.recordHistory(exec, step, "success", nil, startedAt, completedAt)
	e.runPipes(ctx, flow, exec, step, true, result.Output)

	transition, hasTransition := step.Transitions[store.OnSuccess]
	e.applyTransition(exec, transition, hasTransition)
	exec.UpdatedAt = completedAt

	if err := e.executions.Save(ctx, exec); err != nil {
		return nil, err
	}
	e.emit(ctx, store.Event{Type: "step.completed", ExecutionID: exec.ID, FlowID: exec.FlowID, StepID: step.ID, DurationMs: completedAt.Sub(startedAt).Milliseconds(), At: completedAt})
	e.emitTerminalOrContinuing(ctx, exec, completedAt)

	return &TickResult{Done: exec.Status.Terminal(), Status: exec.Status, WakeAt: exec.WakeAt}, nil
}

func (e *Engine) applyFailure(ctx context.Context, exec *store.Execution, flow *store.Flow, step store.Step, result StepResult, startedAt, completedAt time.Time) (*TickResult, error) {
	e.recordHistory(exec, step, "failure", result.Error, startedAt, completedAt)
	e.runPipes(ctx, flow, exec, step, false, failureOutput(result.Error))

	transition, hasTransition := step.Transitions[store.OnFailure]
	e.emit(ctx, store.Event{Type: "step.failed", ExecutionID: exec.ID, FlowID: exec.FlowID, StepID: step.ID, DurationMs: completedAt.Sub(startedAt).Milliseconds(), At: completedAt})

	if !hasTransition || transition.Terminal {
		exec.Status = store.StatusFailed
		exec.Error = result.Error
		exec.UpdatedAt = completedAt
		if err := e.executions.Save(ctx, exec); err != nil {
			return nil, err
		}
		e.emit(ctx, store.Event{Type: "execution.failed", ExecutionID: exec.ID, FlowID: exec.FlowID, StepID: step.ID, At: completedAt})
		return &TickResult{Done: true, Status: exec.Status, Error: exec.Error}, nil
	}

	// Recoverable: route to the declared fallback step and keep running.
	exec.CurrentStepID = transition.Target
	exec.Status = store.StatusRunning
	exec.UpdatedAt = completedAt
	if err := e.executions.Save(ctx, exec); err != nil {
		return nil, err
	}
	return &TickResult{Done: false, Status: exec.Status}, nil
}

func failureOutput(execErr *store.ExecError) map[string]any {
	if execErr == nil {
		return map[string]any{}
	}
	return map[string]any{"code": execErr.Code, "message": execErr.Message, "details": execErr.Details}
}

func (e *Engine) applyWait(ctx context.Context, exec *store.Execution, step store.Step, result StepResult, startedAt, completedAt time.Time) (*TickResult, error) {
	exec.Status = store.StatusWaiting
	wakeAt := result.WakeAt
	exec.WakeAt = &wakeAt
	exec.WaitReason = result.WaitReason
	exec.WaitStartedAt = &completedAt
	exec.UpdatedAt = completedAt

	if len(result.WaitData) > 0 {
		for k, v := range result.WaitData {
			exec.Context[k] = store.DeepCopyValue(v)
		}
	}

	if result.ResumeToken != nil && e.tokensMgr != nil {
		tok, err := e.tokensMgr.Generate(ctx, exec.ID, step.ID, result.ResumeToken.ExpiresAt, result.ResumeToken.Metadata)
		if err == nil {
			exec.ActiveResumeToken = tok.Token
		}
	}

	e.recordHistory(exec, step, "wait", nil, startedAt, completedAt)

	if err := e.executions.Save(ctx, exec); err != nil {
		return nil, err
	}
	e.emit(ctx, store.Event{Type: "execution.waiting", ExecutionID: exec.ID, FlowID: exec.FlowID, StepID: step.ID, At: completedAt})

	return &TickResult{Done: false, Status: exec.Status, WakeAt: exec.WakeAt}, nil
}

// applyTransition resolves an onSuccess (or onResume) transition into a
// status/currentStepId mutation: a declared terminal (`null`) transition,
// or the absence of any declared transition, completes the execution;
// otherwise execution continues at the named target.
func (e *Engine) applyTransition(exec *store.Execution, transition store.Transition, hasTransition bool) {
	if !hasTransition || transition.Terminal {
		exec.Status = store.StatusCompleted
		return
	}
	exec.CurrentStepID = transition.Target
	exec.Status = store.StatusRunning
}

func (e *Engine) emitTerminalOrContinuing(ctx context.Context, exec *store.Execution, at time.Time) {
	if exec.Status == store.StatusCompleted {
		e.emit(ctx, store.Event{Type: "execution.completed", ExecutionID: exec.ID, FlowID: exec.FlowID, At: at})
	}
}

func (e *Engine) recordHistory(exec *store.Execution, step store.Step, outcome string, execErr *store.ExecError, startedAt, completedAt time.Time) {
	if !e.cfg.recordHistory {
		return
	}
	exec.History = append(exec.History, store.HistoryEntry{
		StepID:      step.ID,
		Type:        step.Type,
		Outcome:     outcome,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		DurationMs:  completedAt.Sub(startedAt).Milliseconds(),
		Error:       execErr,
	})
}

func (e *Engine) runPipes(ctx context.Context, flow *store.Flow, exec *store.Execution, step store.Step, success bool, output any) {
	if e.pipeEval == nil || len(flow.Pipes) == 0 {
		return
	}
	e.pipeEval.Run(ctx, flow.Pipes, pipes.Outcome{
		ExecutionID: exec.ID,
		FlowID:      exec.FlowID,
		StepID:      step.ID,
		Success:     success,
		Output:      output,
	})
}

// RunOptions configures Run.
type RunOptions struct {
	// SimulateTime causes the loop to ignore a future WakeAt and
	// immediately drive the wake-elapsed path, instead of returning as
	// soon as the execution is waiting.
	SimulateTime bool
}

// Run ticks executionID in a loop until it reaches a terminal status, or
// starts waiting (under SimulateTime: a wait with no WakeAt), or the
// engine's configured max-steps safety bound is hit.
func (e *Engine) Run(ctx context.Context, executionID string, opts RunOptions) (*TickResult, error) {
	steps := 0
	for {
		res, err := e.tick(ctx, executionID, opts.SimulateTime)
		if err != nil {
			return res, err
		}
		if res.Done {
			return res, nil
		}
		if res.Status == store.StatusWaiting && (!opts.SimulateTime || res.WakeAt == nil) {
			return res, nil
		}

		steps++
		if e.cfg.maxSteps > 0 && steps >= e.cfg.maxSteps {
			exec, loadErr := e.executions.Load(ctx, executionID)
			if loadErr != nil {
				return res, loadErr
			}
			return e.failExecution(ctx, exec, newError(CodeMaxStepsExceeded, "run() exceeded the configured max-steps bound"))
		}
	}
}

// Resume transitions a waiting execution to running, honoring an optional
// resume token, and immediately drives the waiting step's onResume (or
// onSuccess) transition with data merged into context (spec §4.1 resume).
func (e *Engine) Resume(ctx context.Context, executionID string, data map[string]any, token string) (*store.Execution, error) {
	exec, err := e.executions.Load(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != store.StatusWaiting {
		return nil, ErrNotWaiting
	}

	if token != "" {
		if e.tokensMgr == nil {
			return nil, newError(CodeTokenNotFound, "no resume-token store configured")
		}
		valid, reason := e.tokensMgr.ValidateAndMarkUsed(ctx, token)
		if !valid {
			return nil, tokenError(reason)
		}
	}

	flow, err := e.flows.Get(ctx, exec.FlowID, exec.FlowVersion)
	if err != nil {
		return nil, newError(CodeFlowNotFound, "flow version no longer registered")
	}

	res, err := e.advanceFromWait(ctx, exec, flow, data, true)
	if err != nil {
		return nil, err
	}
	_ = res
	return e.executions.Load(ctx, executionID)
}

func tokenError(reason tokens.Reason) error {
	switch reason {
	case tokens.ReasonUsed:
		return newError(CodeTokenAlreadyUsed, "resume token already used")
	case tokens.ReasonRevoked:
		return newError(CodeTokenRevoked, "resume token was revoked")
	case tokens.ReasonExpired:
		return newError(CodeTokenExpired, "resume token expired")
	default:
		return newError(CodeTokenNotFound, "resume token not found")
	}
}

// advanceFromWait applies a Resume (explicit, data+token) or a wake-time
// elapse (implicit, empty data) to a waiting execution: merge data,
// clear the wait fields, and drive the waiting step's onResume (falling
// back to onSuccess) transition — without re-invoking the step's handler.
func (e *Engine) advanceFromWait(ctx context.Context, exec *store.Execution, flow *store.Flow, data map[string]any, explicit bool) (*TickResult, error) {
	step, ok := flow.Steps[exec.CurrentStepID]
	if !ok {
		return e.failExecution(ctx, exec, newError(CodeStepNotFound, "current step not found in flow", "stepId", exec.CurrentStepID))
	}

	startedAt := exec.CreatedAt
	if exec.WaitStartedAt != nil {
		startedAt = *exec.WaitStartedAt
	}
	now := e.cfg.now()

	target := step.OutputKey
	if target == "" {
		target = conventionalResumeKey
	}
	if err := store.SetContextPath(exec.Context, target, store.DeepCopyValue(data)); err != nil {
		return e.failExecution(ctx, exec, newError(CodeInvalidExecutionState, "writing resume data", "outputKey", target, "cause", err.Error()))
	}

	exec.WakeAt = nil
	exec.WaitReason = ""
	exec.WaitStartedAt = nil
	exec.ActiveResumeToken = ""
	exec.Status = store.StatusRunning
	exec.StepCount++

	e.recordHistory(exec, step, "resume", nil, startedAt, now)
	e.runPipes(ctx, flow, exec, step, true, data)

	transition, hasTransition := step.Transitions[store.OnResume]
	if !hasTransition {
		transition, hasTransition = step.Transitions[store.OnSuccess]
	}
	e.applyTransition(exec, transition, hasTransition)
	exec.UpdatedAt = now

	if err := e.executions.Save(ctx, exec); err != nil {
		return nil, err
	}

	e.emit(ctx, store.Event{Type: "execution.resumed", ExecutionID: exec.ID, FlowID: exec.FlowID, StepID: step.ID, At: now})
	e.emitTerminalOrContinuing(ctx, exec, now)

	return &TickResult{Done: exec.Status.Terminal(), Status: exec.Status, WakeAt: exec.WakeAt}, nil
}

// CancelResult is Cancel's return value.
type CancelResult struct {
	Cancelled         bool
	PreviousStatus    store.Status
	TokensInvalidated int
}

// Cancel marks executionID cancelling (finalized to cancelled by the next
// Tick, spec §4.1 state table), invalidates every outstanding resume token
// it holds, and cascades cancellation to every execution recorded as its
// child (spec §4.1 cancel, testable property 7). It is a no-op on an
// execution already in a terminal status.
func (e *Engine) Cancel(ctx context.Context, executionID, source, reason string) (*CancelResult, error) {
	exec, err := e.executions.Load(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status.Terminal() {
		return &CancelResult{Cancelled: false, PreviousStatus: exec.Status}, nil
	}

	release, acquired, err := e.executions.AcquireLock(ctx, exec.ID, e.cfg.lockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrLockContention
	}
	defer release()

	// Reload under the lock: a concurrent Tick may have advanced (or
	// already finalized a prior cancellation of) the execution between
	// our first Load and acquiring it.
	exec, err = e.executions.Load(ctx, exec.ID)
	if err != nil {
		return nil, err
	}
	if exec.Status.Terminal() {
		return &CancelResult{Cancelled: false, PreviousStatus: exec.Status}, nil
	}

	previous := exec.Status
	now := e.cfg.now()
	exec.Status = store.StatusCancelling
	exec.Cancellation = &store.CancellationInfo{Source: source, Reason: reason, CancelledAt: now}
	exec.UpdatedAt = now
	if err := e.executions.Save(ctx, exec); err != nil {
		return nil, err
	}
	e.emit(ctx, store.Event{Type: "execution.cancelling", ExecutionID: exec.ID, FlowID: exec.FlowID, At: now})

	invalidated := 0
	if e.tokensMgr != nil {
		invalidated, _ = e.tokensMgr.RevokeAll(ctx, exec.ID)
	}

	children, err := e.executions.FindChildren(ctx, exec.ID)
	if err == nil {
		for _, child := range children {
			if child.Status.Terminal() {
				continue
			}
			_, _ = e.Cancel(ctx, child.ID, "parent", reason)
		}
	}

	return &CancelResult{Cancelled: true, PreviousStatus: previous, TokensInvalidated: invalidated}, nil
}
