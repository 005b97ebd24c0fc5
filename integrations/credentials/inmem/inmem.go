// Package inmem provides an in-memory implementation of credentials.Store.
//
// The in-memory store is intended for tests and local development. Secrets
// live in process memory only and are lost on restart.
package inmem

import (
	"context"
	"sync"

	"github.com/quorumhq/agentrun/integrations"
	"github.com/quorumhq/agentrun/integrations/credentials"
)

// Store implements credentials.Store in memory.
type Store struct {
	mu    sync.RWMutex
	creds map[integrations.Provider]credentials.Credential
}

// New returns a new in-memory credential store.
func New() *Store {
	return &Store{creds: make(map[integrations.Provider]credentials.Credential)}
}

// Get implements credentials.Store.
func (s *Store) Get(_ context.Context, provider integrations.Provider) (credentials.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[provider]
	if !ok {
		return credentials.Credential{}, &credentials.NotFoundError{Provider: provider}
	}
	return cred, nil
}

// Set implements credentials.Store.
func (s *Store) Set(_ context.Context, provider integrations.Provider, cred credentials.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[provider] = cred
	return nil
}
