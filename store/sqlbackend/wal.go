package sqlbackend

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dshills/flowmonkey-go/store"
	"github.com/google/uuid"
)

const walColumns = `id, table_id, tenant_id, data_json, pipe_id, execution_id, flow_id, step_id,
	error_message, attempts, created_at, acked`

// WriteAheadLog is a relational store.WriteAheadLog: durable record of
// pipe inserts that failed transiently, replayed until acked or given up
// on past its attempt budget.
type WriteAheadLog struct {
	db *Store
}

// NewWriteAheadLog wraps db for the store.WriteAheadLog contract.
func NewWriteAheadLog(db *Store) *WriteAheadLog {
	return &WriteAheadLog{db: db}
}

// Append implements store.WriteAheadLog.
func (w *WriteAheadLog) Append(ctx context.Context, entry *store.WALEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	dataJSON, err := store.CanonicalJSON(entry.Data)
	if err != nil {
		return fmt.Errorf("sqlbackend: marshal wal data: %w", err)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = w.db.now()
	}
	_, err = w.db.db.ExecContext(ctx, `
		INSERT INTO wal_entries (`+walColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		entry.ID, entry.TableID, nullString(entry.TenantID), string(dataJSON), entry.PipeID,
		entry.ExecutionID, entry.FlowID, entry.StepID, entry.Error, entry.Attempts,
		formatTime(entry.CreatedAt), boolToInt(entry.Acked))
	if err != nil {
		return fmt.Errorf("sqlbackend: append wal entry: %w", err)
	}
	return nil
}

// ReadPending implements store.WriteAheadLog.
func (w *WriteAheadLog) ReadPending(ctx context.Context, limit int) ([]*store.WALEntry, error) {
	rows, err := w.db.db.QueryContext(ctx, `
		SELECT `+walColumns+` FROM wal_entries WHERE acked = 0 ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlbackend: read pending wal entries: %w", err)
	}
	defer rows.Close()

	var out []*store.WALEntry
	for rows.Next() {
		e, err := scanWALEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// IncrementAttempts implements store.WriteAheadLog.
func (w *WriteAheadLog) IncrementAttempts(ctx context.Context, id string) (int, error) {
	res, err := w.db.db.ExecContext(ctx, `UPDATE wal_entries SET attempts = attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("sqlbackend: increment wal attempts: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, store.ErrNotFound
	}
	row := w.db.db.QueryRowContext(ctx, `SELECT attempts FROM wal_entries WHERE id = ?`, id)
	var attempts int
	if err := row.Scan(&attempts); err != nil {
		return 0, fmt.Errorf("sqlbackend: read wal attempts: %w", err)
	}
	return attempts, nil
}

// Ack implements store.WriteAheadLog.
func (w *WriteAheadLog) Ack(ctx context.Context, id string) error {
	res, err := w.db.db.ExecContext(ctx, `UPDATE wal_entries SET acked = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlbackend: ack wal entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Compact implements store.WriteAheadLog.
func (w *WriteAheadLog) Compact(ctx context.Context) (int, error) {
	res, err := w.db.db.ExecContext(ctx, `DELETE FROM wal_entries WHERE acked = 1`)
	if err != nil {
		return 0, fmt.Errorf("sqlbackend: compact wal: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

var _ store.WriteAheadLog = (*WriteAheadLog)(nil)

func scanWALEntry(row rowScanner) (*store.WALEntry, error) {
	var (
		e                                        store.WALEntry
		tenantID                                 sql.NullString
		dataJSON, createdAt                      string
		acked                                    int
	)
	if err := row.Scan(
		&e.ID, &e.TableID, &tenantID, &dataJSON, &e.PipeID, &e.ExecutionID, &e.FlowID, &e.StepID,
		&e.Error, &e.Attempts, &createdAt, &acked,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlbackend: scan wal entry: %w", err)
	}
	e.TenantID = tenantID.String
	e.CreatedAt = parseTime(createdAt)
	e.Acked = acked != 0
	if err := unmarshalJSON(&dataJSON, &e.Data); err != nil {
		return nil, fmt.Errorf("sqlbackend: decode wal data: %w", err)
	}
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
