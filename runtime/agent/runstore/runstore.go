// Package runstore provides an append-only event log for agent runs.
//
// The run store is the canonical source of truth for run introspection.
// Observers append events as runs execute and callers list them using opaque
// cursors.
package runstore

import (
	"context"
	"encoding/json"
	"time"
)

type (
	// EventType classifies a run event.
	EventType string

	// Event is a single immutable run event appended to the run store.
	//
	// Store implementations assign the ID when persisting the event. IDs are
	// opaque, monotonically ordered within a run, and suitable for
	// cursor-based pagination.
	Event struct {
		// ID is the store-assigned opaque identifier for this event.
		ID string
		// RunID is the identifier of the run this event belongs to.
		RunID string
		// AgentID is the identifier of the agent that produced the event.
		AgentID string
		// Type is the event type.
		Type EventType
		// Payload is the canonical JSON-encoded payload for the event.
		Payload json.RawMessage
		// Timestamp is the event time.
		Timestamp time.Time
	}

	// Page is a forward page of run events.
	Page struct {
		// Events are ordered oldest-first.
		Events []*Event
		// NextCursor is the cursor to use to fetch the next page.
		// It is empty when there are no further events.
		NextCursor string
	}

	// Store is an append-only event store for run introspection.
	//
	// Implementations must provide stable ordering within a run. Cursor
	// values are store-owned and opaque to callers.
	Store interface {
		// Append stores the event in the run store. Implementations assign
		// the event ID and persist the payload verbatim. Failures surface to
		// callers so observers can fail fast when canonical logging is
		// unavailable.
		Append(ctx context.Context, e *Event) error

		// List returns the next forward page of events for the given run ID.
		// Cursor is an opaque value returned by a previous List (or empty to
		// start from the beginning). Limit must be greater than zero.
		List(ctx context.Context, runID string, cursor string, limit int) (Page, error)
	}
)

const (
	// EventRunStarted records the beginning of a run.
	EventRunStarted EventType = "run_started"
	// EventToolObserved records a nested tool execution.
	EventToolObserved EventType = "tool_observed"
	// EventRunFinished records a successful terminal transition.
	EventRunFinished EventType = "run_finished"
	// EventRunFailed records a failed terminal transition.
	EventRunFailed EventType = "run_failed"
)
