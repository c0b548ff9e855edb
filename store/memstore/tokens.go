package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dshills/flowmonkey-go/store"
)

// ResumeTokenStore is an in-memory store.ResumeTokenStore.
type ResumeTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*store.ResumeToken
}

// NewResumeTokenStore returns an empty in-memory resume-token store.
func NewResumeTokenStore() *ResumeTokenStore {
	return &ResumeTokenStore{tokens: make(map[string]*store.ResumeToken)}
}

func (s *ResumeTokenStore) Generate(_ context.Context, token *store.ResumeToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *token
	s.tokens[cp.Token] = &cp
	return nil
}

func (s *ResumeTokenStore) Get(_ context.Context, tokenValue string) (*store.ResumeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenValue]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *ResumeTokenStore) MarkUsed(_ context.Context, tokenValue string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenValue]
	if !ok {
		return false, store.ErrNotFound
	}
	if t.Status != store.TokenActive {
		return false, nil
	}
	now := time.Now()
	t.Status = store.TokenUsed
	t.UsedAt = &now
	return true, nil
}

func (s *ResumeTokenStore) Revoke(_ context.Context, tokenValue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenValue]
	if !ok {
		return store.ErrNotFound
	}
	if t.Status == store.TokenActive {
		t.Status = store.TokenRevoked
	}
	return nil
}

func (s *ResumeTokenStore) ListByExecution(_ context.Context, executionID string) ([]*store.ResumeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.ResumeToken
	for _, t := range s.tokens {
		if t.ExecutionID == executionID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *ResumeTokenStore) CleanupExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, t := range s.tokens {
		if t.Status == store.TokenActive && t.ExpiresAt != nil && t.ExpiresAt.Before(now) {
			t.Status = store.TokenExpired
			count++
		}
	}
	return count, nil
}

var _ store.ResumeTokenStore = (*ResumeTokenStore)(nil)
