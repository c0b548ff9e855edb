package jobs

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/flowmonkey-go/store"
)

// Executor carries out one claimed job's work and reports a terminal
// result. It is deliberately decoupled from any handler-dispatch
// abstraction so this package never depends on the engine package;
// callers that want to execute engine.Handler-backed jobs supply an
// Executor closure that performs the lookup and invocation themselves.
type Executor func(ctx context.Context, job *store.Job, claim *ClaimHandle) (result map[string]any, execErr *store.ExecError)

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// Runner implements the poll/claim/execute/heartbeat loop spec.md §4.2
// describes: list pending jobs, try to claim each, spawn execution,
// complete or fail, and back off exponentially when every candidate job
// was claimed by someone else first.
type Runner struct {
	manager    *Manager
	execute    Executor
	runnerID   string
	batchSize  int
	pollEvery  time.Duration
	maxBackoff time.Duration
}

// NewRunner returns a Runner polling manager for pending jobs under
// runnerID, executing claimed jobs with execute.
func NewRunner(manager *Manager, runnerID string, execute Executor, opts ...RunnerOption) *Runner {
	r := &Runner{
		manager:    manager,
		execute:    execute,
		runnerID:   runnerID,
		batchSize:  16,
		pollEvery:  500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithBatchSize bounds how many pending jobs a single poll considers.
func WithBatchSize(n int) RunnerOption {
	return func(r *Runner) { r.batchSize = n }
}

// WithPollInterval sets the delay between polls when work was found.
func WithPollInterval(d time.Duration) RunnerOption {
	return func(r *Runner) { r.pollEvery = d }
}

// WithMaxBackoff bounds the exponential backoff applied when a poll
// claims nothing (every candidate was stolen by another runner).
func WithMaxBackoff(d time.Duration) RunnerOption {
	return func(r *Runner) { r.maxBackoff = d }
}

// Run polls until ctx is cancelled. Each poll claims as many of the
// returned pending jobs as it can and executes them concurrently via
// errgroup, then sleeps before the next poll — longer if nothing was
// claimed, to avoid hammering a saturated store.
func (r *Runner) Run(ctx context.Context) error {
	backoff := r.pollEvery
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		claimedAny, err := r.pollOnce(ctx)
		if err != nil {
			return err
		}

		if claimedAny {
			backoff = r.pollEvery
		} else {
			backoff = nextBackoff(backoff, r.maxBackoff)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func (r *Runner) pollOnce(ctx context.Context) (bool, error) {
	pending, err := r.manager.ListPending(ctx, r.batchSize)
	if err != nil {
		return false, err
	}
	if len(pending) == 0 {
		return false, nil
	}

	group, gctx := errgroup.WithContext(ctx)
	claimedAny := false
	for _, job := range pending {
		job := job
		job, claim, ok, err := r.manager.Claim(ctx, job.ID, r.runnerID)
		if err != nil {
			return claimedAny, err
		}
		if !ok {
			continue
		}
		claimedAny = true
		group.Go(func() error {
			return r.runOne(gctx, job, claim)
		})
	}

	return claimedAny, group.Wait()
}

func (r *Runner) runOne(ctx context.Context, job *store.Job, claim *ClaimHandle) error {
	if job.HeartbeatMs > 0 {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			ticker := time.NewTicker(time.Duration(job.HeartbeatMs) * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					_ = claim.Heartbeat(ctx)
				}
			}
		}()
	}
	result, execErr := r.execute(ctx, job, claim)
	if execErr != nil {
		_, err := claim.Fail(ctx, execErr)
		return err
	}
	_, err := claim.Complete(ctx, result)
	return err
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		next = max
	}
	jitter := time.Duration(rand.Int63n(int64(next) / 4 + 1))
	return next + jitter
}
