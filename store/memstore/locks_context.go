package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/flowmonkey-go/store"
)

// LockProvider is a general-purpose in-memory advisory lock, independent of
// ExecutionStore's own per-execution lock, for collaborators such as the
// WAL replay worker and job reaper that lock a resource key instead of an
// execution id.
type LockProvider struct {
	mu    sync.Mutex
	locks map[string]time.Time
}

// NewLockProvider returns an empty in-memory lock provider.
func NewLockProvider() *LockProvider {
	return &LockProvider{locks: make(map[string]time.Time)}
}

func (l *LockProvider) Acquire(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	now := time.Now()
	if expiry, held := l.locks[key]; held && expiry.After(now) {
		l.mu.Unlock()
		return nil, false, nil
	}
	l.locks[key] = now.Add(ttl)
	l.mu.Unlock()

	release := func() {
		l.mu.Lock()
		delete(l.locks, key)
		l.mu.Unlock()
	}
	return release, true, nil
}

var _ store.LockProvider = (*LockProvider)(nil)

// ContextStorage is an in-memory side store for large context values, keyed
// by (executionId, key).
type ContextStorage struct {
	mu   sync.RWMutex
	vals map[string]any
}

// NewContextStorage returns an empty in-memory context side store.
func NewContextStorage() *ContextStorage {
	return &ContextStorage{vals: make(map[string]any)}
}

func sideKey(executionID, key string) string { return executionID + "\x00" + key }

func (c *ContextStorage) Put(_ context.Context, executionID, key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals[sideKey(executionID, key)] = store.DeepCopyValue(value)
	return nil
}

func (c *ContextStorage) Get(_ context.Context, executionID, key string) (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vals[sideKey(executionID, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return store.DeepCopyValue(v), nil
}

func (c *ContextStorage) Delete(_ context.Context, executionID, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.vals, sideKey(executionID, key))
	return nil
}

var _ store.ContextStorage = (*ContextStorage)(nil)
