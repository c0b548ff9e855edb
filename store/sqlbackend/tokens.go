package sqlbackend

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dshills/flowmonkey-go/store"
)

const tokenColumns = `token, execution_id, step_id, status, created_at, expires_at, used_at, metadata_json`

// ResumeTokenStore is a relational store.ResumeTokenStore: one-shot
// authorization to resume a waiting execution.
type ResumeTokenStore struct {
	db *Store
}

// NewResumeTokenStore wraps db for the store.ResumeTokenStore contract.
func NewResumeTokenStore(db *Store) *ResumeTokenStore {
	return &ResumeTokenStore{db: db}
}

// Generate implements store.ResumeTokenStore.
func (s *ResumeTokenStore) Generate(ctx context.Context, token *store.ResumeToken) error {
	metadataJSON, err := marshalJSON(token.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO resume_tokens (`+tokenColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		token.Token, token.ExecutionID, token.StepID, string(token.Status),
		formatTime(token.CreatedAt), formatTimePtr(token.ExpiresAt), formatTimePtr(token.UsedAt),
		metadataJSON)
	if err != nil {
		return fmt.Errorf("sqlbackend: generate resume token: %w", err)
	}
	return nil
}

// Get implements store.ResumeTokenStore.
func (s *ResumeTokenStore) Get(ctx context.Context, tokenValue string) (*store.ResumeToken, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM resume_tokens WHERE token = ?`, tokenValue)
	return scanResumeToken(row)
}

// MarkUsed implements store.ResumeTokenStore: one-shot, guarded by the
// token currently being active.
func (s *ResumeTokenStore) MarkUsed(ctx context.Context, tokenValue string) (bool, error) {
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE resume_tokens SET status = ?, used_at = ? WHERE token = ? AND status = ?`,
		string(store.TokenUsed), formatTime(s.db.now()), tokenValue, string(store.TokenActive))
	if err != nil {
		return false, fmt.Errorf("sqlbackend: mark resume token used: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Revoke implements store.ResumeTokenStore.
func (s *ResumeTokenStore) Revoke(ctx context.Context, tokenValue string) error {
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE resume_tokens SET status = ? WHERE token = ? AND status = ?`,
		string(store.TokenRevoked), tokenValue, string(store.TokenActive))
	if err != nil {
		return fmt.Errorf("sqlbackend: revoke resume token: %w", err)
	}
	_, _ = res.RowsAffected()
	// Revoking a non-active or absent token is a no-op; confirm the token
	// exists at all so callers still see ErrNotFound for a bad value.
	if _, err := s.Get(ctx, tokenValue); err != nil {
		return err
	}
	return nil
}

// ListByExecution implements store.ResumeTokenStore.
func (s *ResumeTokenStore) ListByExecution(ctx context.Context, executionID string) ([]*store.ResumeToken, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT `+tokenColumns+` FROM resume_tokens WHERE execution_id = ? ORDER BY created_at ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("sqlbackend: list resume tokens: %w", err)
	}
	defer rows.Close()

	var out []*store.ResumeToken
	for rows.Next() {
		t, err := scanResumeToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CleanupExpired implements store.ResumeTokenStore.
func (s *ResumeTokenStore) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE resume_tokens SET status = ?
		WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?`,
		string(store.TokenExpired), string(store.TokenActive), formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("sqlbackend: cleanup expired resume tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

var _ store.ResumeTokenStore = (*ResumeTokenStore)(nil)

func scanResumeToken(row rowScanner) (*store.ResumeToken, error) {
	var (
		token, executionID, stepID, status, createdAt string
		expiresAt, usedAt, metadataJSON               sql.NullString
	)
	if err := row.Scan(&token, &executionID, &stepID, &status, &createdAt, &expiresAt, &usedAt, &metadataJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlbackend: scan resume token: %w", err)
	}
	t := &store.ResumeToken{
		Token:       token,
		ExecutionID: executionID,
		StepID:      stepID,
		Status:      store.TokenStatus(status),
		CreatedAt:   parseTime(createdAt),
		ExpiresAt:   parseTimePtr(expiresAt),
		UsedAt:      parseTimePtr(usedAt),
	}
	if err := unmarshalJSON(nullStringPtr(metadataJSON), &t.Metadata); err != nil {
		return nil, fmt.Errorf("sqlbackend: decode resume token metadata: %w", err)
	}
	return t, nil
}
