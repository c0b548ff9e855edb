// Package engine implements the execution engine: the single-step advance
// loop (Tick), its Run/Resume/Cancel/Create/Get surface, input resolution,
// flow validation, and the Handler contract those operations invoke
// against. It is the direct analogue of the teacher's graph.Engine[S]
// (graph/engine.go), generalized from a typed, reducer-merged state
// machine running entirely in one process to the spec's untyped
// map[string]any context advanced one store-durable tick at a time,
// safely resumable by any process sharing the store.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/flowmonkey-go/jobs"
	"github.com/dshills/flowmonkey-go/pipes"
	"github.com/dshills/flowmonkey-go/store"
	"github.com/dshills/flowmonkey-go/tokens"
)

// conventionalResumeKey is where Resume's data lands in an execution's
// context when the waiting step declared no OutputKey (spec §4.1 resume).
const conventionalResumeKey = "resumeData"

// Engine coordinates Create/Tick/Run/Resume/Cancel/Get against a set of
// store interfaces, generalizing the teacher's single in-memory
// reducer-and-store loop into the spec's durable, lock-guarded advance.
type Engine struct {
	executions store.ExecutionStore
	flows      store.FlowRegistry
	handlers   store.HandlerRegistry

	jobsMgr   *jobs.Manager
	tokensMgr *tokens.Manager
	pipeEval  *pipes.Evaluator

	cfg engineConfig
}

// New builds an Engine over the given store interfaces. handlers must be
// populated (via HandlerRegistry.Register) with every type any flow
// passed to Create references; ValidateFlow is the gate that enforces
// this at registration time, not here.
func New(executions store.ExecutionStore, flows store.FlowRegistry, handlers store.HandlerRegistry, opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	e := &Engine{
		executions: executions,
		flows:      flows,
		handlers:   handlers,
		cfg:        cfg,
	}
	if cfg.jobs != nil {
		e.jobsMgr = jobs.NewManager(cfg.jobs)
	}
	if cfg.tokens != nil {
		e.tokensMgr = tokens.NewManager(cfg.tokens)
	}
	if cfg.pipeTables != nil && cfg.pipeWAL != nil {
		e.pipeEval = pipes.New(cfg.pipeTables, cfg.pipeWAL, cfg.dispatcher)
	}
	return e, nil
}

// CreateOptions configures Create. Zero value is valid: it creates an
// execution pinned to the flow's highest registered version, with no
// tenant, parent, idempotency key or timeout budgets.
type CreateOptions struct {
	// Version pins a specific flow version. Empty means the highest
	// registered version.
	Version string

	TenantID          string
	ParentExecutionID string

	// IdempotencyKey, when set, collapses repeated Create calls sharing
	// (flowId, key) into the first execution created, within the window
	// IdempotencyWindowMs describes.
	IdempotencyKey string

	// IdempotencyWindowMs is a pointer so the zero value can mean "use the
	// default 24h window" while an explicit 0 means "don't persist the
	// key at all" (spec §4.1 Create: "0 = no persistence of the key").
	IdempotencyWindowMs *int64

	TimeoutConfig *store.TimeoutConfig
	Metadata      map[string]any
}

// CreateResult is Create's return value.
type CreateResult struct {
	Execution      *store.Execution
	Created        bool
	IdempotencyHit bool
}

const defaultIdempotencyWindow = 24 * time.Hour

// Create creates a new execution of flowID, or returns the existing live
// one when opts.IdempotencyKey matches an unexpired prior call (testable
// property 3: idempotent creation).
func (e *Engine) Create(ctx context.Context, flowID string, initialContext map[string]any, opts CreateOptions) (*CreateResult, error) {
	flow, err := e.resolveFlow(ctx, flowID, opts.Version)
	if err != nil {
		return nil, err
	}

	if opts.IdempotencyKey != "" {
		existing, err := e.executions.FindByIdempotencyKey(ctx, flowID, opts.IdempotencyKey)
		if err == nil {
			return &CreateResult{Execution: existing, Created: false, IdempotencyHit: true}, nil
		}
	}

	if initialContext == nil {
		initialContext = map[string]any{}
	}
	if err := store.ValidateContext(initialContext, e.cfg.contextLimits); err != nil {
		return nil, err
	}

	now := e.cfg.now()
	exec := &store.Execution{
		ID:                uuid.NewString(),
		FlowID:            flow.ID,
		FlowVersion:       flow.Version,
		CurrentStepID:     flow.InitialStepID,
		Status:            store.StatusPending,
		Context:           store.DeepCopyValue(initialContext).(map[string]any),
		CreatedAt:         now,
		UpdatedAt:         now,
		TenantID:          opts.TenantID,
		ParentExecutionID: opts.ParentExecutionID,
		TimeoutConfig:     opts.TimeoutConfig,
		Metadata:          opts.Metadata,
	}

	if opts.IdempotencyKey != "" {
		window := defaultIdempotencyWindow
		if opts.IdempotencyWindowMs != nil {
			window = time.Duration(*opts.IdempotencyWindowMs) * time.Millisecond
		}
		if window > 0 {
			exec.IdempotencyKey = opts.IdempotencyKey
			expiry := now.Add(window)
			exec.IdempotencyExpiresAt = &expiry
		}
	}

	if err := e.executions.Save(ctx, exec); err != nil {
		return nil, err
	}
	e.emit(ctx, store.Event{Type: "execution.created", ExecutionID: exec.ID, FlowID: exec.FlowID, At: now})

	return &CreateResult{Execution: exec, Created: true, IdempotencyHit: false}, nil
}

// Get reads an execution straight through the store.
func (e *Engine) Get(ctx context.Context, executionID string) (*store.Execution, error) {
	return e.executions.Load(ctx, executionID)
}

func (e *Engine) resolveFlow(ctx context.Context, flowID, version string) (*store.Flow, error) {
	if version != "" {
		flow, err := e.flows.Get(ctx, flowID, version)
		if err != nil {
			return nil, newError(CodeFlowNotFound, fmt.Sprintf("flow %s version %s not found", flowID, version))
		}
		return flow, nil
	}
	flow, err := e.flows.LatestOf(ctx, flowID)
	if err != nil {
		return nil, newError(CodeFlowNotFound, fmt.Sprintf("flow %s not found", flowID))
	}
	return flow, nil
}

func (e *Engine) emit(ctx context.Context, event store.Event) {
	if e.cfg.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.At.IsZero() {
		event.At = e.cfg.now()
	}
	e.cfg.dispatcher.Emit(ctx, event)
}

// contextView is the ContextView a handler sees during one invocation. It
// mutates exec.Context directly: the execution is already a private,
// cloned working copy for the duration of a tick (store.ExecutionStore.Load
// returns a clone), so there is nothing else for an in-flight write to
// alias.
type contextView struct {
	data map[string]any
}

func (c *contextView) Get(key string) (any, bool) { v, ok := c.data[key]; return v, ok }
func (c *contextView) Set(key string, value any)  { c.data[key] = value }
func (c *contextView) Has(key string) bool        { _, ok := c.data[key]; return ok }
func (c *contextView) Delete(key string)          { delete(c.data, key) }
func (c *contextView) GetAll() map[string]any     { return c.data }

var _ ContextView = (*contextView)(nil)

// ctxCancellationSignal adapts the ctx passed into Tick to the
// CancellationSignal a handler receives, so an honoring handler can
// observe the caller's own cancellation the same way it would any other
// context.Context-based deadline.
type ctxCancellationSignal struct {
	ctx context.Context
}

func (s ctxCancellationSignal) Cancelled() bool       { return s.ctx.Err() != nil }
func (s ctxCancellationSignal) Done() <-chan struct{} { return s.ctx.Done() }

var _ CancellationSignal = ctxCancellationSignal{}

// noopCheckpoint is the CheckpointManager a handler receives when the
// Engine has no store.JobStore wired (WithJobs was never called).
type noopCheckpoint struct{}

func (noopCheckpoint) Save(context.Context, map[string]any) error          { return nil }
func (noopCheckpoint) Get(context.Context) (map[string]any, error)        { return nil, nil }
func (noopCheckpoint) UpdateProgress(context.Context, store.Progress) error { return nil }

var _ CheckpointManager = noopCheckpoint{}

// claimCheckpoint adapts a jobs.ClaimHandle to CheckpointManager.
type claimCheckpoint struct {
	claim *jobs.ClaimHandle
}

func (c claimCheckpoint) Save(ctx context.Context, checkpoint map[string]any) error {
	return c.claim.SaveCheckpoint(ctx, checkpoint)
}
func (c claimCheckpoint) Get(ctx context.Context) (map[string]any, error) {
	return c.claim.GetCheckpoint(ctx)
}
func (c claimCheckpoint) UpdateProgress(ctx context.Context, progress store.Progress) error {
	return c.claim.UpdateProgress(ctx, progress)
}

var _ CheckpointManager = claimCheckpoint{}

// tokenAdapter restricts a *tokens.Manager to the read/revoke surface a
// handler is allowed: generation and resume-time validation stay internal
// to the engine's tick and Resume paths.
type tokenAdapter struct {
	mgr *tokens.Manager
}

func (t tokenAdapter) Get(ctx context.Context, token string) (*store.ResumeToken, error) {
	return t.mgr.Get(ctx, token)
}
func (t tokenAdapter) Revoke(ctx context.Context, token string) error {
	return t.mgr.Revoke(ctx, token)
}

// noopTokens is the TokenManager a handler receives when the Engine has
// no store.ResumeTokenStore wired (WithResumeTokens was never called).
type noopTokens struct{}

func (noopTokens) Get(context.Context, string) (*store.ResumeToken, error) {
	return nil, newError(CodeTokenNotFound, "no resume-token store configured")
}
func (noopTokens) Revoke(context.Context, string) error { return nil }

var _ TokenManager = noopTokens{}

func (e *Engine) checkpointManagerFor(claim *jobs.ClaimHandle) CheckpointManager {
	if claim == nil {
		return noopCheckpoint{}
	}
	return claimCheckpoint{claim: claim}
}

func (e *Engine) tokenManager() TokenManager {
	if e.tokensMgr == nil {
		return noopTokens{}
	}
	return tokenAdapter{mgr: e.tokensMgr}
}
