package sqlbackend

import (
	"context"
	"fmt"
	"time"
)

// LockProvider is a relational store.LockProvider backed by the shared
// `locks` table: one row per key, with an expiry column, for collaborators
// (such as the WAL replay worker) that lock a resource key
// instead of a single execution.
type LockProvider struct {
	db *Store
}

// NewLockProvider wraps db for the store.LockProvider contract.
func NewLockProvider(db *Store) *LockProvider {
	return &LockProvider{db: db}
}

// Acquire implements store.LockProvider.
func (l *LockProvider) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	return acquireLock(ctx, l.db, key, ttl)
}

// acquireLock is the shared primitive behind both LockProvider.Acquire and
// ExecutionStore.AcquireLock: delete any lock row past its expiry, then
// attempt to insert a fresh one. A primary-key collision means another
// holder currently owns the lock.
func acquireLock(ctx context.Context, db *Store, key string, ttl time.Duration) (func(), bool, error) {
	now := db.now()
	expiresAt := now.Add(ttl)

	if _, err := db.db.ExecContext(ctx, `
		DELETE FROM locks WHERE lock_key = ? AND expires_at <= ?`, key, formatTime(now)); err != nil {
		return nil, false, fmt.Errorf("sqlbackend: expiring stale lock: %w", err)
	}

	if _, err := db.db.ExecContext(ctx, `INSERT INTO locks (lock_key, expires_at) VALUES (?, ?)`,
		key, formatTime(expiresAt)); err != nil {
		return nil, false, nil // unique-constraint violation: lock is held
	}

	release := func() {
		_, _ = db.db.ExecContext(context.Background(), `DELETE FROM locks WHERE lock_key = ?`, key)
	}
	return release, true, nil
}
