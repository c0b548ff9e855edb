package sqlbackend

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dshills/flowmonkey-go/store"
	"github.com/google/uuid"
)

// TableRegistry is a relational store.TableRegistry: the column schema for
// each user-registered data-store table a Pipe can route rows into.
type TableRegistry struct {
	db *Store
}

// NewTableRegistry wraps db for the store.TableRegistry contract.
func NewTableRegistry(db *Store) *TableRegistry {
	return &TableRegistry{db: db}
}

// Register implements store.TableRegistry. Re-registering an existing
// table id is rejected, matching the in-memory registry's ErrConflict
// behavior.
func (r *TableRegistry) Register(ctx context.Context, table *store.TableDefinition) error {
	columnsJSON, err := marshalJSON(table.Columns)
	if err != nil {
		return fmt.Errorf("sqlbackend: marshal columns: %w", err)
	}
	now := formatTime(r.db.now())
	res, err := r.db.db.ExecContext(ctx, `
		INSERT INTO table_definitions (table_id, columns_json, created_at, updated_at)
		SELECT ?, ?, ?, ? WHERE NOT EXISTS (SELECT 1 FROM table_definitions WHERE table_id = ?)`,
		table.ID, columnsJSON, now, now, table.ID)
	if err != nil {
		return fmt.Errorf("sqlbackend: register table: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: table %s already registered", store.ErrConflict, table.ID)
	}
	return nil
}

// Get implements store.TableRegistry.
func (r *TableRegistry) Get(ctx context.Context, tableID string) (*store.TableDefinition, error) {
	row := r.db.db.QueryRowContext(ctx, `
		SELECT table_id, columns_json, created_at, updated_at FROM table_definitions WHERE table_id = ?`, tableID)
	return scanTableDefinition(row)
}

// List implements store.TableRegistry.
func (r *TableRegistry) List(ctx context.Context) ([]*store.TableDefinition, error) {
	rows, err := r.db.db.QueryContext(ctx, `
		SELECT table_id, columns_json, created_at, updated_at FROM table_definitions ORDER BY table_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlbackend: list tables: %w", err)
	}
	defer rows.Close()

	var out []*store.TableDefinition
	for rows.Next() {
		def, err := scanTableDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

var _ store.TableRegistry = (*TableRegistry)(nil)

func scanTableDefinition(row rowScanner) (*store.TableDefinition, error) {
	var (
		id, columnsJSON, createdAt, updatedAt string
	)
	if err := row.Scan(&id, &columnsJSON, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlbackend: scan table definition: %w", err)
	}
	def := &store.TableDefinition{ID: id, CreatedAt: parseTime(createdAt), UpdatedAt: parseTime(updatedAt)}
	if err := unmarshalJSON(&columnsJSON, &def.Columns); err != nil {
		return nil, fmt.Errorf("sqlbackend: decode columns: %w", err)
	}
	return def, nil
}

// TableStore is a relational store.TableStore: free-form JSON rows routed
// into tables by pipes, filterable in Go after a broad per-table fetch
// since row shape varies per table and isn't modeled as SQL columns.
type TableStore struct {
	db *Store
}

// NewTableStore wraps db for the store.TableStore contract.
func NewTableStore(db *Store) *TableStore {
	return &TableStore{db: db}
}

// Insert implements store.TableStore.
func (t *TableStore) Insert(ctx context.Context, tableID string, row map[string]any) (string, error) {
	rowJSON, err := store.CanonicalJSON(row)
	if err != nil {
		return "", fmt.Errorf("sqlbackend: marshal row: %w", err)
	}
	id := uuid.NewString()
	_, err = t.db.db.ExecContext(ctx, `
		INSERT INTO table_rows (row_id, table_id, row_json, created_at) VALUES (?, ?, ?, ?)`,
		id, tableID, string(rowJSON), formatTime(t.db.now()))
	if err != nil {
		return "", fmt.Errorf("sqlbackend: insert row: %w", err)
	}
	return id, nil
}

// Query implements store.TableStore. Filters are applied in Go since rows
// are opaque JSON blobs; this mirrors the in-memory implementation's
// matching logic exactly so behavior is identical across both backends.
func (t *TableStore) Query(ctx context.Context, tableID string, filters []store.Filter, limit int) ([]map[string]any, error) {
	rows, err := t.db.db.QueryContext(ctx, `
		SELECT row_json FROM table_rows WHERE table_id = ? ORDER BY created_at ASC`, tableID)
	if err != nil {
		return nil, fmt.Errorf("sqlbackend: query rows: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var rowJSON string
		if err := rows.Scan(&rowJSON); err != nil {
			return nil, fmt.Errorf("sqlbackend: scan row: %w", err)
		}
		var row map[string]any
		if err := unmarshalJSON(&rowJSON, &row); err != nil {
			return nil, fmt.Errorf("sqlbackend: decode row: %w", err)
		}
		if matchesAll(row, filters) {
			out = append(out, row)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

var _ store.TableStore = (*TableStore)(nil)

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
