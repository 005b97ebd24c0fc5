// Package inmem provides the in-memory memory store used by tests and
// single-process deployments.
package inmem

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quorumhq/agentrun/runtime/agent/memory"
)

// Store is a map-backed memory.Store. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries []*memory.Entry
	now     func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{now: time.Now}
}

// Save implements memory.Store.
func (s *Store) Save(_ context.Context, e *memory.Entry) error {
	if e == nil {
		return errors.New("entry is required")
	}
	if e.AgentID == "" {
		return errors.New("agent ID is required")
	}
	if e.Text == "" {
		return errors.New("entry text is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = uuid.NewString()
	e.CreatedAt = s.now().UTC()
	stored := *e
	stored.Tags = slices.Clone(e.Tags)
	s.entries = append(s.entries, &stored)
	return nil
}

// Search implements memory.Store. Results are newest first.
func (s *Store) Search(_ context.Context, q memory.Query) ([]*memory.Entry, error) {
	if q.AgentID == "" {
		return nil, errors.New("agent ID is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*memory.Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if !matches(e, q) {
			continue
		}
		cp := *e
		cp.Tags = slices.Clone(e.Tags)
		out = append(out, &cp)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func matches(e *memory.Entry, q memory.Query) bool {
	if e.AgentID != q.AgentID {
		return false
	}
	if q.Text != "" && !strings.Contains(strings.ToLower(e.Text), strings.ToLower(q.Text)) {
		return false
	}
	if q.Tag != "" && !slices.Contains(e.Tags, q.Tag) {
		return false
	}
	return true
}
