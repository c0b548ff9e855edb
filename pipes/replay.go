package pipes

import (
	"context"
	"math/rand"
	"time"

	"github.com/dshills/flowmonkey-go/store"
)

// replayLockKey is the LockProvider resource key the replay worker holds
// for the duration of one pass, so two concurrent replay processes never
// double-insert the same WAL entry.
const replayLockKey = "pipes.wal-replay"

// Replayer periodically drains unacked WriteAheadLog entries, retrying
// their table insert once per pass with bounded exponential backoff
// between passes, acking on success and compacting acked entries afterward
// (spec.md §4.3 WAL replay).
type Replayer struct {
	wal        store.WriteAheadLog
	tables     store.TableStore
	locks      store.LockProvider
	sink       store.EventSink
	batchSize  int
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	now        func() time.Time
}

// ReplayerOption configures a Replayer.
type ReplayerOption func(*Replayer)

// NewReplayer returns a Replayer over wal and tables, guarded by locks.
func NewReplayer(wal store.WriteAheadLog, tables store.TableStore, locks store.LockProvider, sink store.EventSink, opts ...ReplayerOption) *Replayer {
	r := &Replayer{
		wal:        wal,
		tables:     tables,
		locks:      locks,
		sink:       sink,
		batchSize:  50,
		maxRetries: 8,
		baseDelay:  time.Second,
		maxDelay:   time.Minute,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithBatchSize bounds how many WAL entries one pass considers.
func WithBatchSize(n int) ReplayerOption { return func(r *Replayer) { r.batchSize = n } }

// WithMaxRetries caps attempts per entry before it is left unacked for
// manual inspection rather than retried forever.
func WithMaxRetries(n int) ReplayerOption { return func(r *Replayer) { r.maxRetries = n } }

// RunOnce performs a single replay pass: lock, read pending entries whose
// attempts haven't been exhausted, retry each insert, ack successes,
// compact, release. Returns the number of entries successfully acked.
func (r *Replayer) RunOnce(ctx context.Context) (acked int, err error) {
	release, acquired, err := r.locks.Acquire(ctx, replayLockKey, 30*time.Second)
	if err != nil {
		return 0, err
	}
	if !acquired {
		return 0, nil
	}
	defer release()

	entries, err := r.wal.ReadPending(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	for _, entry := range entries {
		if entry.Attempts >= r.maxRetries {
			continue
		}
		if _, insertErr := r.tables.Insert(ctx, entry.TableID, entry.Data); insertErr == nil {
			if ackErr := r.wal.Ack(ctx, entry.ID); ackErr == nil {
				acked++
				r.emit(ctx, "pipe.inserted", entry)
			}
		} else {
			_, _ = r.wal.IncrementAttempts(ctx, entry.ID)
		}
	}

	if _, compactErr := r.wal.Compact(ctx); compactErr != nil {
		return acked, compactErr
	}
	return acked, nil
}

// Run calls RunOnce on an exponentially-backed-off interval (reset to
// baseDelay whenever a pass acks at least one entry) until ctx is
// cancelled.
func (r *Replayer) Run(ctx context.Context) error {
	delay := r.baseDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		acked, err := r.RunOnce(ctx)
		if err != nil {
			return err
		}

		if acked > 0 {
			delay = r.baseDelay
		} else {
			delay = nextDelay(delay, r.maxDelay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func nextDelay(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		next = max
	}
	jitter := time.Duration(rand.Int63n(int64(next)/4 + 1))
	return next + jitter
}

func (r *Replayer) emit(ctx context.Context, eventType string, entry *store.WALEntry) {
	if r.sink == nil {
		return
	}
	r.sink.Emit(ctx, store.Event{
		Type:        eventType,
		ExecutionID: entry.ExecutionID,
		FlowID:      entry.FlowID,
		StepID:      entry.StepID,
		PipeID:      entry.PipeID,
		At:          r.now(),
	})
}
