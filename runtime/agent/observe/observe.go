// Package observe wraps agent runs and nested tool executions in a
// start/observe/finish-or-fail/shutdown lifecycle.
//
// Backends are interchangeable implementations of the Observer capability
// set: the no-op backend performs no I/O, the OTEL backend maps runs to
// spans, and the store backend buffers observations into a runstore.Store.
// All backends enforce the same run state machine so misuse is caught
// regardless of which backend is configured.
package observe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quorumhq/agentrun/runtime/agent/toolerrors"
	"github.com/quorumhq/agentrun/runtime/agent/tools"
)

type (
	// Handle is the opaque capability token returned by Start. Every
	// subsequent call for the same run requires it. Handles map into a
	// run-state table rather than live object references so stale or invalid
	// handles are rejected explicitly.
	Handle string

	// RunInput describes the run being started.
	RunInput struct {
		// RunID is the caller-assigned run identifier. Generated when empty.
		RunID string
		// AgentID identifies the agent executing the run.
		AgentID string
		// Input is the JSON-encoded agent input.
		Input json.RawMessage
	}

	// ToolObservation records one nested tool execution within a run.
	ToolObservation struct {
		// Tool is the executed tool name.
		Tool tools.Ident
		// ToolCallID identifies the invocation.
		ToolCallID string
		// Input is a summary of the tool payload.
		Input json.RawMessage
		// Result is the success payload, nil on failure.
		Result json.RawMessage
		// Error is the structured failure, nil on success.
		Error *toolerrors.ToolError
		// Duration is the wall-clock execution time.
		Duration time.Duration
	}

	// RunResult carries the final agent result recorded by Finish.
	RunResult struct {
		// Output is the JSON-encoded agent output.
		Output json.RawMessage
	}

	// Observer is the run observation capability set. Any backend
	// implementing it is interchangeable; the rest of the system depends only
	// on this contract, never on a concrete backend.
	Observer interface {
		// Start transitions a fresh run to running and returns its handle.
		// It must be called exactly once per run.
		Start(ctx context.Context, in RunInput) (Handle, error)
		// ObserveTool records a tool execution against a running run.
		// Observations for a given handle are retained in call order.
		ObserveTool(ctx context.Context, h Handle, obs ToolObservation) error
		// Finish transitions a running run to finished with its result.
		Finish(ctx context.Context, h Handle, res RunResult) error
		// Fail transitions a running run to failed with the fault that ended
		// it. Callers must invoke Fail before propagating a run-ending fault
		// upward so every failed run is recorded exactly once.
		Fail(ctx context.Context, h Handle, runErr error) error
		// Shutdown flushes buffered observations and releases backend
		// resources. It is process-wide, idempotent, and safe to call even if
		// no run was ever started.
		Shutdown(ctx context.Context) error
	}
)

// ErrShutDown is returned by lifecycle calls made after Shutdown.
var ErrShutDown = errors.New("observer is shut down")

// UnknownHandleError reports a call with a handle that does not map to any
// known run. This is a programmer error, not a recoverable runtime condition.
type UnknownHandleError struct {
	Handle Handle
}

// Error implements the error interface.
func (e *UnknownHandleError) Error() string {
	return fmt.Sprintf("unknown run handle %q", e.Handle)
}

// StateError reports a lifecycle call against a run in the wrong state, such
// as ObserveTool after Finish or a second terminal transition.
type StateError struct {
	Handle Handle
	Op     string
	State  string
}

// Error implements the error interface.
func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s run %q in state %s", e.Op, e.Handle, e.State)
}

type runState int

const (
	stateRunning runState = iota
	stateFinished
	stateFailed
)

func (s runState) String() string {
	switch s {
	case stateRunning:
		return "running"
	case stateFinished:
		return "finished"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// runTable implements the run state machine shared by all backends:
// NotStarted -> Running -> {Finished, Failed}, with a process-wide shutdown
// latch. Backends embed it and layer their I/O on top.
type runTable struct {
	mu   sync.Mutex
	runs map[Handle]runState
	down bool
}

func newRunTable() *runTable {
	return &runTable{runs: make(map[Handle]runState)}
}

// begin allocates a handle for a fresh running run.
func (t *runTable) begin() (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.down {
		return "", ErrShutDown
	}
	h := Handle(uuid.NewString())
	t.runs[h] = stateRunning
	return h, nil
}

// observe validates that h names a running run.
func (t *runTable) observe(h Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.down {
		return ErrShutDown
	}
	state, ok := t.runs[h]
	if !ok {
		return &UnknownHandleError{Handle: h}
	}
	if state != stateRunning {
		return &StateError{Handle: h, Op: "observe tool on", State: state.String()}
	}
	return nil
}

// terminate moves a running run to the given terminal state. Finish and Fail
// are mutually exclusive per handle: exactly one terminal transition wins.
func (t *runTable) terminate(h Handle, to runState, op string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.down {
		return ErrShutDown
	}
	state, ok := t.runs[h]
	if !ok {
		return &UnknownHandleError{Handle: h}
	}
	if state != stateRunning {
		return &StateError{Handle: h, Op: op, State: state.String()}
	}
	t.runs[h] = to
	return nil
}

// close latches the shutdown state. It returns true on the first call only.
func (t *runTable) close() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.down {
		return false
	}
	t.down = true
	return true
}
