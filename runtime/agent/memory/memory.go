// Package memory defines durable agent memory: free-form entries an agent
// saves during runs and searches in later ones. Backends live in subpackages
// and under features/memory.
package memory

import (
	"context"
	"time"
)

type (
	// Entry is one remembered fact.
	Entry struct {
		// ID is the store-assigned identifier.
		ID string `json:"id"`
		// AgentID scopes the entry to an agent.
		AgentID string `json:"agent_id"`
		// Text is the remembered content.
		Text string `json:"text"`
		// Tags classify the entry for filtered search.
		Tags []string `json:"tags,omitempty"`
		// CreatedAt is the save time.
		CreatedAt time.Time `json:"created_at"`
	}

	// Query filters a memory search. Zero-valued fields match everything.
	Query struct {
		// AgentID scopes the search. Required.
		AgentID string
		// Text matches entries containing the substring, case-insensitive.
		Text string
		// Tag restricts matches to entries carrying the tag.
		Tag string
		// Limit bounds the result count. Zero means no bound.
		Limit int
	}

	// Store persists and searches memory entries.
	Store interface {
		// Save persists the entry, assigning its ID and CreatedAt.
		Save(ctx context.Context, e *Entry) error
		// Search returns matching entries, newest first.
		Search(ctx context.Context, q Query) ([]*Entry, error)
	}
)
