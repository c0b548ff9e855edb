package engine

import (
	"time"

	"github.com/dshills/flowmonkey-go/store"
)

// Option is a functional option for configuring an Engine, the same
// pattern as the teacher's graph.Option (graph/options.go).
type Option func(*engineConfig) error

type engineConfig struct {
	lockTTL        time.Duration
	maxSteps       int
	recordHistory  bool
	contextLimits  store.ContextLimits
	dispatcher     store.EventSink
	tokens         store.ResumeTokenStore
	contextStorage store.ContextStorage
	jobs           store.JobStore
	pipeTables     store.TableStore
	pipeWAL        store.WriteAheadLog
	now            func() time.Time
}

func defaultConfig() engineConfig {
	return engineConfig{
		lockTTL:       5 * time.Second,
		maxSteps:      0,
		recordHistory: true,
		contextLimits: store.DefaultContextLimits,
		now:           time.Now,
	}
}

// WithLockTTL sets the advisory per-execution lock's time-to-live. Default
// 5s.
func WithLockTTL(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.lockTTL = d
		return nil
	}
}

// WithMaxSteps caps the number of ticks run() will perform before
// returning MAX_STEPS_EXCEEDED. Default 0 (no limit).
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		cfg.maxSteps = n
		return nil
	}
}

// WithHistory toggles per-tick history recording. Default true.
func WithHistory(enabled bool) Option {
	return func(cfg *engineConfig) error {
		cfg.recordHistory = enabled
		return nil
	}
}

// WithContextLimits overrides the default key-count/size/depth caps
// enforced on every execution's context.
func WithContextLimits(limits store.ContextLimits) Option {
	return func(cfg *engineConfig) error {
		cfg.contextLimits = limits
		return nil
	}
}

// WithEventSink subscribes a store.EventSink to receive every lifecycle
// event the engine emits. events.Dispatcher is not a store.EventSink (its
// Emit takes no context); an events.SinkFunc can forward to one.
func WithEventSink(sink store.EventSink) Option {
	return func(cfg *engineConfig) error {
		cfg.dispatcher = sink
		return nil
	}
}

// WithResumeTokens wires a store.ResumeTokenStore so wait outcomes that
// request a token, and resume calls that present one, are honored.
// Without this option, token requests are ignored and any token presented
// to Resume is rejected as TOKEN_NOT_FOUND.
func WithResumeTokens(tokens store.ResumeTokenStore) Option {
	return func(cfg *engineConfig) error {
		cfg.tokens = tokens
		return nil
	}
}

// WithContextStorage records a side store for large context values. The
// engine does not read from or write to it: with or without this option,
// step outputs larger than store.LargeValueThreshold stay inline in the
// context, no LargeValueRef is written, and only the context size cap
// applies.
func WithContextStorage(storage store.ContextStorage) Option {
	return func(cfg *engineConfig) error {
		cfg.contextStorage = storage
		return nil
	}
}

// WithJobs wires a store.JobStore so steps are run behind a
// deterministically-keyed, leased job, giving their handlers a working
// CheckpointManager via HandlerParams.Checkpoint. Without this option,
// handlers receive a no-op CheckpointManager.
func WithJobs(jobStore store.JobStore) Option {
	return func(cfg *engineConfig) error {
		cfg.jobs = jobStore
		return nil
	}
}

// WithPipes wires a TableStore and WriteAheadLog so a flow's declared
// Pipes fire on matching step outcomes. Without this option, Pipes
// declared on a registered flow are never evaluated.
func WithPipes(tables store.TableStore, wal store.WriteAheadLog) Option {
	return func(cfg *engineConfig) error {
		cfg.pipeTables = tables
		cfg.pipeWAL = wal
		return nil
	}
}

// WithClock overrides the engine's time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(cfg *engineConfig) error {
		cfg.now = now
		return nil
	}
}
