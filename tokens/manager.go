// Package tokens issues and validates the opaque, one-shot resume tokens a
// waiting execution's handler may request, wrapping a store.ResumeTokenStore
// with the generation policy and validation reasons spec.md §4.4 describes.
// This is the single injection path HandlerParams.Tokens and engine.Resume
// both go through (SUPPLEMENTED FEATURES Open Question c).
package tokens

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"time"

	"github.com/dshills/flowmonkey-go/store"
)

// Reason names why Validate rejected a token.
type Reason string

const (
	ReasonNotFound Reason = "not_found"
	ReasonUsed     Reason = "used"
	ReasonRevoked  Reason = "revoked"
	ReasonExpired  Reason = "expired"
)

// tokenBytes is the entropy width of a generated token: 32 bytes is 256
// bits, the floor spec.md §4.4 sets.
const tokenBytes = 32

// Manager wraps a store.ResumeTokenStore with token minting and the
// validate/markUsed-atomically semantics engine.Resume needs.
type Manager struct {
	store store.ResumeTokenStore
	now   func() time.Time
}

// NewManager returns a Manager backed by tokenStore.
func NewManager(tokenStore store.ResumeTokenStore) *Manager {
	return &Manager{store: tokenStore, now: time.Now}
}

// Generate mints a cryptographically random, URL-safe token bound to
// (executionID, stepID) and persists it active.
func (m *Manager) Generate(ctx context.Context, executionID, stepID string, expiresAt *time.Time, metadata map[string]any) (*store.ResumeToken, error) {
	value, err := randomToken()
	if err != nil {
		return nil, err
	}
	tok := &store.ResumeToken{
		Token:       value,
		ExecutionID: executionID,
		StepID:      stepID,
		Status:      store.TokenActive,
		CreatedAt:   m.now(),
		ExpiresAt:   expiresAt,
		Metadata:    metadata,
	}
	if err := m.store.Generate(ctx, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

func randomToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Get returns the token record as-is, with no status evaluation.
func (m *Manager) Get(ctx context.Context, value string) (*store.ResumeToken, error) {
	return m.store.Get(ctx, value)
}

// Validate reports whether value is usable right now, without mutating it.
// subtle.ConstantTimeCompare guards the lookup key comparison a caller-supplied
// value is matched against; tokens are not signed, so this is the only
// defense against timing side channels on the comparison itself (the
// store lookup is index-keyed and out of scope for this guarantee).
func (m *Manager) Validate(ctx context.Context, value string) (valid bool, reason Reason) {
	tok, err := m.store.Get(ctx, value)
	if err != nil {
		return false, ReasonNotFound
	}
	if subtle.ConstantTimeCompare([]byte(tok.Token), []byte(value)) != 1 {
		return false, ReasonNotFound
	}
	switch tok.Status {
	case store.TokenUsed:
		return false, ReasonUsed
	case store.TokenRevoked:
		return false, ReasonRevoked
	case store.TokenExpired:
		return false, ReasonExpired
	}
	if tok.ExpiresAt != nil && tok.ExpiresAt.Before(m.now()) {
		return false, ReasonExpired
	}
	return true, ""
}

// ValidateAndMarkUsed atomically validates value and, if valid, marks it
// used. Two concurrent callers racing the same token converge on exactly
// one success; the loser sees TOKEN_ALREADY_USED (testable property 6).
func (m *Manager) ValidateAndMarkUsed(ctx context.Context, value string) (valid bool, reason Reason) {
	valid, reason = m.Validate(ctx, value)
	if !valid {
		return false, reason
	}
	ok, err := m.store.MarkUsed(ctx, value)
	if err != nil || !ok {
		// Lost the race to a concurrent resume between Validate and
		// MarkUsed; re-validate to report the now-current reason.
		return m.Validate(ctx, value)
	}
	return true, ""
}

// Revoke transitions an active token to revoked. Used for individual
// revocation and, in bulk via RevokeAll, on cancellation.
func (m *Manager) Revoke(ctx context.Context, value string) error {
	return m.store.Revoke(ctx, value)
}

// RevokeAll revokes every active token issued for executionID, called when
// an execution is cancelled.
func (m *Manager) RevokeAll(ctx context.Context, executionID string) (int, error) {
	toks, err := m.store.ListByExecution(ctx, executionID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, tok := range toks {
		if tok.Status != store.TokenActive {
			continue
		}
		if err := m.store.Revoke(ctx, tok.Token); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// ListByExecution returns every token ever issued for executionID.
func (m *Manager) ListByExecution(ctx context.Context, executionID string) ([]*store.ResumeToken, error) {
	return m.store.ListByExecution(ctx, executionID)
}

// CleanupExpired bulk-transitions expired active tokens to expired,
// intended to be called periodically by a janitor task.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	return m.store.CleanupExpired(ctx, m.now())
}
