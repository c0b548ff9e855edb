package jobs

import (
	"context"
	"time"
)

// Reaper periodically scans for stalled job claims (a running job whose
// heartbeat is overdue) and resets those with attempts remaining, so a
// crashed runner's work is eventually retried by another (spec §4.2
// Reaper).
type Reaper struct {
	manager *Manager
	batch   int
}

// NewReaper returns a Reaper driving manager, scanning up to batch
// stalled jobs per sweep.
func NewReaper(manager *Manager, batch int) *Reaper {
	if batch <= 0 {
		batch = 100
	}
	return &Reaper{manager: manager, batch: batch}
}

// SweepOnce handles every currently-stalled job it finds, up to the
// configured batch size, through ResetStalled (back to pending, or failed
// once its attempts are used up), and returns how many it handled.
func (r *Reaper) SweepOnce(ctx context.Context, now time.Time) (int, error) {
	stalled, err := r.manager.FindStalled(ctx, now, r.batch)
	if err != nil {
		return 0, err
	}
	for _, job := range stalled {
		if err := r.manager.ResetStalled(ctx, job.ID); err != nil {
			return 0, err
		}
	}
	return len(stalled), nil
}

// Run sweeps on interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if _, err := r.SweepOnce(ctx, now); err != nil {
				return err
			}
		}
	}
}
