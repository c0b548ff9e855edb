package sqlbackend

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dshills/flowmonkey-go/store"
)

// ContextStorage is a relational store.ContextStorage: a side store for
// large context values, keyed by (executionId, key), held in the
// context_blobs table apart from the executions.context column.
type ContextStorage struct {
	db *Store
}

// NewContextStorage wraps db for the store.ContextStorage contract.
func NewContextStorage(db *Store) *ContextStorage {
	return &ContextStorage{db: db}
}

// Put implements store.ContextStorage.
func (c *ContextStorage) Put(ctx context.Context, executionID, key string, value any) error {
	valueJSON, err := store.CanonicalJSON(value)
	if err != nil {
		return fmt.Errorf("sqlbackend: marshal context value: %w", err)
	}
	query := `
		INSERT INTO context_blobs (execution_id, context_key, value_json) VALUES (?, ?, ?) ` +
		c.db.upsertSuffix([]string{"execution_id", "context_key"}, []string{"value_json"})
	_, err = c.db.db.ExecContext(ctx, query, executionID, key, string(valueJSON))
	if err != nil {
		return fmt.Errorf("sqlbackend: put context value: %w", err)
	}
	return nil
}

// Get implements store.ContextStorage.
func (c *ContextStorage) Get(ctx context.Context, executionID, key string) (any, error) {
	row := c.db.db.QueryRowContext(ctx, `
		SELECT value_json FROM context_blobs WHERE execution_id = ? AND context_key = ?`, executionID, key)
	var valueJSON string
	if err := row.Scan(&valueJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlbackend: scan context value: %w", err)
	}
	var value any
	if err := unmarshalJSON(&valueJSON, &value); err != nil {
		return nil, fmt.Errorf("sqlbackend: decode context value: %w", err)
	}
	return value, nil
}

// Delete implements store.ContextStorage.
func (c *ContextStorage) Delete(ctx context.Context, executionID, key string) error {
	_, err := c.db.db.ExecContext(ctx, `
		DELETE FROM context_blobs WHERE execution_id = ? AND context_key = ?`, executionID, key)
	if err != nil {
		return fmt.Errorf("sqlbackend: delete context value: %w", err)
	}
	return nil
}

var _ store.ContextStorage = (*ContextStorage)(nil)
