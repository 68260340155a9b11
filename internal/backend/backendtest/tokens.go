package backendtest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/trialiq/console/internal/backend"
)

// TokenStore is an in-memory backend.TokenStore.
type TokenStore struct {
	key string

	mu     sync.Mutex
	tokens backend.Tokens
	clears atomic.Int32
}

// NewTokenStore returns a store holding t.
func NewTokenStore(key string, t backend.Tokens) *TokenStore {
	return &TokenStore{key: key, tokens: t}
}

func (s *TokenStore) Key() string { return s.key }

func (s *TokenStore) Tokens(ctx context.Context) (backend.Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens, nil
}

func (s *TokenStore) SetTokens(ctx context.Context, t backend.Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = t
	return nil
}

func (s *TokenStore) ClearTokens(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = backend.Tokens{}
	s.clears.Add(1)
	return nil
}

// Clears counts ClearTokens calls.
func (s *TokenStore) Clears() int { return int(s.clears.Load()) }
