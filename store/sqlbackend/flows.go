package sqlbackend

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dshills/flowmonkey-go/store"
)

// FlowRegistry is a relational store.FlowRegistry. Flow definitions are
// immutable per (flowId, version); re-registering an existing pair is
// rejected, matching the in-memory registry's ErrConflict behavior.
type FlowRegistry struct {
	db *Store
}

// NewFlowRegistry wraps db for the store.FlowRegistry contract.
func NewFlowRegistry(db *Store) *FlowRegistry {
	return &FlowRegistry{db: db}
}

// Register implements store.FlowRegistry.
func (r *FlowRegistry) Register(ctx context.Context, flow *store.Flow) error {
	body, err := store.CanonicalJSON(flow)
	if err != nil {
		return fmt.Errorf("sqlbackend: marshal flow: %w", err)
	}

	res, err := r.db.db.ExecContext(ctx, `
		INSERT INTO flows (flow_id, version, definition_json, created_at)
		SELECT ?, ?, ?, ? WHERE NOT EXISTS (SELECT 1 FROM flows WHERE flow_id = ? AND version = ?)`,
		flow.ID, flow.Version, string(body), formatTime(r.db.now()), flow.ID, flow.Version)
	if err != nil {
		return fmt.Errorf("sqlbackend: register flow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: flow %s@%s already registered", store.ErrConflict, flow.ID, flow.Version)
	}
	return nil
}

// Get implements store.FlowRegistry.
func (r *FlowRegistry) Get(ctx context.Context, id, version string) (*store.Flow, error) {
	row := r.db.db.QueryRowContext(ctx, `
		SELECT definition_json FROM flows WHERE flow_id = ? AND version = ?`, id, version)
	return scanFlow(row)
}

// LatestOf implements store.FlowRegistry: the most recently registered
// version for a flow id, ordered by insertion time rather than any
// semver-ish parsing of the version string.
func (r *FlowRegistry) LatestOf(ctx context.Context, id string) (*store.Flow, error) {
	row := r.db.db.QueryRowContext(ctx, `
		SELECT definition_json FROM flows WHERE flow_id = ? ORDER BY created_at DESC LIMIT 1`, id)
	return scanFlow(row)
}

// Versions implements store.FlowRegistry.
func (r *FlowRegistry) Versions(ctx context.Context, id string) ([]string, error) {
	rows, err := r.db.db.QueryContext(ctx, `
		SELECT version FROM flows WHERE flow_id = ? ORDER BY created_at ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlbackend: list flow versions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("sqlbackend: scan flow version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

var _ store.FlowRegistry = (*FlowRegistry)(nil)

func scanFlow(row rowScanner) (*store.Flow, error) {
	var body string
	if err := row.Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlbackend: scan flow: %w", err)
	}
	var flow store.Flow
	if err := unmarshalJSON(&body, &flow); err != nil {
		return nil, fmt.Errorf("sqlbackend: decode flow: %w", err)
	}
	return &flow, nil
}
