package tokens

import (
	"context"
	"testing"
	"time"

	"github.com/dshills/flowmonkey-go/store"
	"github.com/dshills/flowmonkey-go/store/memstore"
)

func newManager() *Manager {
	return NewManager(memstore.NewResumeTokenStore())
}

func TestGenerateProducesDistinctHighEntropyTokens(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	a, err := m.Generate(ctx, "exec-1", "step-1", nil, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := m.Generate(ctx, "exec-1", "step-1", nil, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if a.Token == b.Token {
		t.Fatalf("expected distinct tokens, got same value twice")
	}
	if len(a.Token) < 32 {
		t.Fatalf("token looks too short for 256 bits of entropy: %d chars", len(a.Token))
	}
}

func TestValidateAndMarkUsedIsOneShot(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	tok, err := m.Generate(ctx, "exec-1", "step-1", nil, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	valid, reason := m.ValidateAndMarkUsed(ctx, tok.Token)
	if !valid || reason != "" {
		t.Fatalf("first use: valid=%v reason=%v", valid, reason)
	}

	valid, reason = m.ValidateAndMarkUsed(ctx, tok.Token)
	if valid || reason != ReasonUsed {
		t.Fatalf("second use: valid=%v reason=%v, want reason=used", valid, reason)
	}
}

func TestValidateReportsExpired(t *testing.T) {
	m := newManager()
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)

	tok, err := m.Generate(ctx, "exec-1", "step-1", &past, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	valid, reason := m.Validate(ctx, tok.Token)
	if valid || reason != ReasonExpired {
		t.Fatalf("valid=%v reason=%v, want reason=expired", valid, reason)
	}
}

func TestValidateUnknownTokenIsNotFound(t *testing.T) {
	m := newManager()
	valid, reason := m.Validate(context.Background(), "does-not-exist")
	if valid || reason != ReasonNotFound {
		t.Fatalf("valid=%v reason=%v, want reason=not_found", valid, reason)
	}
}

func TestRevokeAllOnCancellation(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	a, _ := m.Generate(ctx, "exec-1", "step-1", nil, nil)
	b, _ := m.Generate(ctx, "exec-1", "step-2", nil, nil)
	_, _ = m.Generate(ctx, "exec-2", "step-1", nil, nil)

	n, err := m.RevokeAll(ctx, "exec-1")
	if err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("revoked %d tokens, want 2", n)
	}

	for _, tok := range []*store.ResumeToken{a, b} {
		valid, reason := m.Validate(ctx, tok.Token)
		if valid || reason != ReasonRevoked {
			t.Fatalf("token %s: valid=%v reason=%v, want revoked", tok.Token, valid, reason)
		}
	}
}

func TestCleanupExpiredBulkTransitions(t *testing.T) {
	m := newManager()
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	_, _ = m.Generate(ctx, "exec-1", "step-1", &past, nil)
	_, _ = m.Generate(ctx, "exec-1", "step-2", &past, nil)
	_, _ = m.Generate(ctx, "exec-1", "step-3", nil, nil)

	n, err := m.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if n != 2 {
		t.Fatalf("cleaned up %d tokens, want 2", n)
	}
}
