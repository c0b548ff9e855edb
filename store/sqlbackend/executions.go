package sqlbackend

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dshills/flowmonkey-go/store"
)

const executionColumns = `id, flow_id, flow_version, current_step_id, status, context, step_count,
	created_at, updated_at, wake_at, wait_reason, wait_started_at,
	current_step_started_at, active_resume_token, error_json, history_json,
	tenant_id, parent_execution_id, idempotency_key, idempotency_expires_at,
	cancellation_json, timeout_config_json, metadata_json`

// ExecutionStore is a relational store.ExecutionStore, the direct
// descendant of the teacher's SQLiteStore/MySQLStore execution table
// handling (graph/store/sqlite.go, graph/store/mysql.go) narrowed from a
// generic workflow-state blob to this engine's Execution shape.
type ExecutionStore struct {
	db *Store
}

// NewExecutionStore wraps db for the store.ExecutionStore contract.
func NewExecutionStore(db *Store) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// Load implements store.ExecutionStore.
func (s *ExecutionStore) Load(ctx context.Context, id string) (*store.Execution, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	return scanExecution(row)
}

// Save implements store.ExecutionStore: a full upsert of the execution
// record, one write per tick.
func (s *ExecutionStore) Save(ctx context.Context, exec *store.Execution) error {
	contextJSON, err := store.CanonicalJSON(exec.Context)
	if err != nil {
		return fmt.Errorf("sqlbackend: marshal context: %w", err)
	}
	errorJSON, err := marshalJSON(exec.Error)
	if err != nil {
		return err
	}
	historyJSON, err := marshalJSON(exec.History)
	if err != nil {
		return err
	}
	cancellationJSON, err := marshalJSON(exec.Cancellation)
	if err != nil {
		return err
	}
	timeoutJSON, err := marshalJSON(exec.TimeoutConfig)
	if err != nil {
		return err
	}
	metadataJSON, err := marshalJSON(exec.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO executions (` + executionColumns + `)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?) ` +
		s.db.upsertSuffix([]string{"id"}, []string{
			"flow_id", "flow_version", "current_step_id", "status", "context", "step_count",
			"updated_at", "wake_at", "wait_reason", "wait_started_at",
			"current_step_started_at", "active_resume_token", "error_json", "history_json",
			"tenant_id", "parent_execution_id", "idempotency_key", "idempotency_expires_at",
			"cancellation_json", "timeout_config_json", "metadata_json",
		})

	_, err = s.db.db.ExecContext(ctx, query,
		exec.ID, exec.FlowID, exec.FlowVersion, exec.CurrentStepID, string(exec.Status),
		string(contextJSON), exec.StepCount,
		formatTime(exec.CreatedAt), formatTime(exec.UpdatedAt),
		formatTimePtr(exec.WakeAt), nullString(exec.WaitReason), formatTimePtr(exec.WaitStartedAt),
		formatTimePtr(exec.CurrentStepStartedAt), nullString(exec.ActiveResumeToken),
		errorJSON, historyJSON,
		nullString(exec.TenantID), nullString(exec.ParentExecutionID),
		nullString(exec.IdempotencyKey), formatTimePtr(exec.IdempotencyExpiresAt),
		cancellationJSON, timeoutJSON, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("sqlbackend: save execution: %w", err)
	}
	return nil
}

// Delete implements store.ExecutionStore.
func (s *ExecutionStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.db.ExecContext(ctx, `DELETE FROM executions WHERE id = ?`, id)
	return err
}

// ListByStatus implements store.ExecutionStore.
func (s *ExecutionStore) ListByStatus(ctx context.Context, status store.Status, limit int) ([]*store.Execution, error) {
	return s.queryExecutions(ctx, `
		SELECT `+executionColumns+`
		FROM executions WHERE status = ? ORDER BY created_at ASC LIMIT ?`, string(status), limit)
}

// ListWakeReady implements store.ExecutionStore.
func (s *ExecutionStore) ListWakeReady(ctx context.Context, now time.Time, limit int) ([]*store.Execution, error) {
	return s.queryExecutions(ctx, `
		SELECT `+executionColumns+`
		FROM executions WHERE status = ? AND wake_at IS NOT NULL AND wake_at <= ?
		ORDER BY wake_at ASC LIMIT ?`, string(store.StatusWaiting), formatTime(now), limit)
}

// FindByIdempotencyKey implements store.ExecutionStore.
func (s *ExecutionStore) FindByIdempotencyKey(ctx context.Context, flowID, key string) (*store.Execution, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT `+executionColumns+`
		FROM executions WHERE flow_id = ? AND idempotency_key = ?
			AND (idempotency_expires_at IS NULL OR idempotency_expires_at >= ?)
		ORDER BY created_at DESC LIMIT 1`, flowID, key, formatTime(s.db.now()))
	return scanExecution(row)
}

// FindChildren implements store.ExecutionStore.
func (s *ExecutionStore) FindChildren(ctx context.Context, parentID string) ([]*store.Execution, error) {
	return s.queryExecutions(ctx, `
		SELECT `+executionColumns+`
		FROM executions WHERE parent_execution_id = ? ORDER BY created_at ASC`, parentID)
}

// AcquireLock implements store.ExecutionStore using the shared `locks`
// table, the same shape the teacher's stores use for advisory locking,
// namespaced under an "execution:" prefix so it shares the table with the
// standalone LockProvider without colliding on keys.
func (s *ExecutionStore) AcquireLock(ctx context.Context, id string, ttl time.Duration) (func(), bool, error) {
	return acquireLock(ctx, s.db, "execution:"+id, ttl)
}

func (s *ExecutionStore) queryExecutions(ctx context.Context, query string, args ...any) ([]*store.Execution, error) {
	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlbackend: query executions: %w", err)
	}
	defer rows.Close()

	var out []*store.Execution
	for rows.Next() {
		exec, err := scanExecutionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

var _ store.ExecutionStore = (*ExecutionStore)(nil)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*store.Execution, error) {
	return scanExecutionRow(row)
}

func scanExecutionRow(row rowScanner) (*store.Execution, error) {
	var (
		exec                                                  store.Execution
		status, contextJSON                                   string
		createdAt, updatedAt                                  string
		wakeAt, waitStartedAt, stepStartedAt, idempotencyExp  sql.NullString
		waitReason, activeToken, tenantID, parentID, idemKey  sql.NullString
		errorJSON, historyJSON, cancellationJSON, timeoutJSON sql.NullString
		metadataJSON                                          sql.NullString
	)
	if err := row.Scan(
		&exec.ID, &exec.FlowID, &exec.FlowVersion, &exec.CurrentStepID, &status, &contextJSON,
		&exec.StepCount, &createdAt, &updatedAt, &wakeAt, &waitReason, &waitStartedAt,
		&stepStartedAt, &activeToken, &errorJSON, &historyJSON,
		&tenantID, &parentID, &idemKey, &idempotencyExp,
		&cancellationJSON, &timeoutJSON, &metadataJSON,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlbackend: scan execution: %w", err)
	}

	exec.Status = store.Status(status)
	exec.CreatedAt = parseTime(createdAt)
	exec.UpdatedAt = parseTime(updatedAt)
	exec.WakeAt = parseTimePtr(wakeAt)
	exec.WaitReason = waitReason.String
	exec.WaitStartedAt = parseTimePtr(waitStartedAt)
	exec.CurrentStepStartedAt = parseTimePtr(stepStartedAt)
	exec.ActiveResumeToken = activeToken.String
	exec.TenantID = tenantID.String
	exec.ParentExecutionID = parentID.String
	exec.IdempotencyKey = idemKey.String
	exec.IdempotencyExpiresAt = parseTimePtr(idempotencyExp)

	if err := unmarshalJSON(strPtr(contextJSON), &exec.Context); err != nil {
		return nil, fmt.Errorf("sqlbackend: decode context: %w", err)
	}
	if err := unmarshalJSON(nullStringPtr(errorJSON), &exec.Error); err != nil {
		return nil, fmt.Errorf("sqlbackend: decode error: %w", err)
	}
	if err := unmarshalJSON(nullStringPtr(historyJSON), &exec.History); err != nil {
		return nil, fmt.Errorf("sqlbackend: decode history: %w", err)
	}
	if err := unmarshalJSON(nullStringPtr(cancellationJSON), &exec.Cancellation); err != nil {
		return nil, fmt.Errorf("sqlbackend: decode cancellation: %w", err)
	}
	if err := unmarshalJSON(nullStringPtr(timeoutJSON), &exec.TimeoutConfig); err != nil {
		return nil, fmt.Errorf("sqlbackend: decode timeout config: %w", err)
	}
	if err := unmarshalJSON(nullStringPtr(metadataJSON), &exec.Metadata); err != nil {
		return nil, fmt.Errorf("sqlbackend: decode metadata: %w", err)
	}
	return &exec, nil
}

func strPtr(s string) *string { return &s }

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
