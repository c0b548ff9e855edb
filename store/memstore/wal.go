package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/dshills/flowmonkey-go/store"
	"github.com/google/uuid"
)

// WriteAheadLog is an in-memory store.WriteAheadLog.
type WriteAheadLog struct {
	mu      sync.Mutex
	entries map[string]*store.WALEntry
}

// NewWriteAheadLog returns an empty in-memory write-ahead log.
func NewWriteAheadLog() *WriteAheadLog {
	return &WriteAheadLog{entries: make(map[string]*store.WALEntry)}
}

func (w *WriteAheadLog) Append(_ context.Context, entry *store.WALEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	cp := *entry
	cp.Data = store.DeepCopyValue(entry.Data).(map[string]any)
	w.entries[cp.ID] = &cp
	return nil
}

func (w *WriteAheadLog) ReadPending(_ context.Context, limit int) ([]*store.WALEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []*store.WALEntry
	for _, e := range w.entries {
		if !e.Acked {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (w *WriteAheadLog) IncrementAttempts(_ context.Context, id string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entries[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	e.Attempts++
	return e.Attempts, nil
}

func (w *WriteAheadLog) Ack(_ context.Context, id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entries[id]
	if !ok {
		return store.ErrNotFound
	}
	e.Acked = true
	return nil
}

func (w *WriteAheadLog) Compact(_ context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	removed := 0
	for id, e := range w.entries {
		if e.Acked {
			delete(w.entries, id)
			removed++
		}
	}
	return removed, nil
}

var _ store.WriteAheadLog = (*WriteAheadLog)(nil)
