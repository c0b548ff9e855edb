package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/flowmonkey-go/store"
	"github.com/google/uuid"
)

// TableRegistry is an in-memory store.TableRegistry.
type TableRegistry struct {
	mu     sync.RWMutex
	tables map[string]*store.TableDefinition
}

// NewTableRegistry returns an empty in-memory table registry.
func NewTableRegistry() *TableRegistry {
	return &TableRegistry{tables: make(map[string]*store.TableDefinition)}
}

func (r *TableRegistry) Register(_ context.Context, table *store.TableDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tables[table.ID]; exists {
		return fmt.Errorf("%w: table %s already registered", store.ErrConflict, table.ID)
	}
	r.tables[table.ID] = table
	return nil
}

func (r *TableRegistry) Get(_ context.Context, tableID string) (*store.TableDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tables[tableID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t, nil
}

func (r *TableRegistry) List(_ context.Context) ([]*store.TableDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*store.TableDefinition, 0, len(r.tables))
	for _, t := range r.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var _ store.TableRegistry = (*TableRegistry)(nil)

// TableStore is an in-memory store.TableStore: free-form rows keyed by
// table id, filterable by the same operators the relational backend
// supports.
type TableStore struct {
	mu   sync.RWMutex
	rows map[string][]rowRecord
}

type rowRecord struct {
	id  string
	row map[string]any
}

// NewTableStore returns an empty in-memory table row store.
func NewTableStore() *TableStore {
	return &TableStore{rows: make(map[string][]rowRecord)}
}

func (t *TableStore) Insert(_ context.Context, tableID string, row map[string]any) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := uuid.NewString()
	t.rows[tableID] = append(t.rows[tableID], rowRecord{id: id, row: store.DeepCopyValue(row).(map[string]any)})
	return id, nil
}

func (t *TableStore) Query(_ context.Context, tableID string, filters []store.Filter, limit int) ([]map[string]any, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []map[string]any
	for _, rec := range t.rows[tableID] {
		if matchesAll(rec.row, filters) {
			out = append(out, store.DeepCopyValue(rec.row).(map[string]any))
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matchesAll(row map[string]any, filters []store.Filter) bool {
	for _, f := range filters {
		if !matchesOne(row[f.Column], f) {
			return false
		}
	}
	return true
}

func matchesOne(value any, f store.Filter) bool {
	switch f.Op {
	case store.OpEq:
		return compareEqual(value, f.Value)
	case store.OpNeq:
		return !compareEqual(value, f.Value)
	case store.OpGt:
		c, ok := compareOrdered(value, f.Value)
		return ok && c > 0
	case store.OpGte:
		c, ok := compareOrdered(value, f.Value)
		return ok && c >= 0
	case store.OpLt:
		c, ok := compareOrdered(value, f.Value)
		return ok && c < 0
	case store.OpLte:
		c, ok := compareOrdered(value, f.Value)
		return ok && c <= 0
	case store.OpLike:
		s, ok1 := value.(string)
		pattern, ok2 := f.Value.(string)
		if !ok1 || !ok2 {
			return false
		}
		return strings.Contains(s, strings.Trim(pattern, "%"))
	case store.OpIn:
		values, ok := f.Value.([]any)
		if !ok {
			return false
		}
		for _, v := range values {
			if compareEqual(value, v) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func compareEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func compareOrdered(a, b any) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	default:
		return 0, true
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

var _ store.TableStore = (*TableStore)(nil)
