// Package tools exposes the shared tool contract: definitions, invocation
// contexts, and results. Hosts implement Tool for each capability they expose
// to agents (web search, HTTP calls, memory ops, messaging, human approval)
// and register the implementations with the tool registry at startup.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/quorumhq/agentrun/integrations"
	"github.com/quorumhq/agentrun/runtime/agent/toolerrors"
)

type (
	// Definition describes a registered tool. Definitions are immutable once
	// registered.
	Definition struct {
		// Name is the unique tool identifier.
		Name Ident
		// Description provides human-readable context for planners and tooling.
		Description string
		// Schema contains the JSON schema for the tool payload. Empty means
		// the tool accepts any payload.
		Schema []byte
		// Tags carries optional capability labels used by policy or UI layers.
		Tags []string
	}

	// Tool is the contract every executable capability satisfies.
	Tool interface {
		// Describe returns the tool definition.
		Describe() Definition
		// Execute runs the tool against the invocation payload. The context
		// carries the invocation-scoped cancellation signal; tools observing
		// cancellation must stop promptly and return a cancelled result rather
		// than a generic execution error. A non-nil error reports an internal
		// fault; tool-level failures travel in Result.Error.
		Execute(ctx context.Context, inv *Invocation) (*Result, error)
	}

	// Invocation carries per-call data. It is created fresh for each call by
	// the executor, owned solely by that call, and discarded when the call
	// completes.
	Invocation struct {
		// RunID identifies the agent run requesting the call.
		RunID string
		// AgentID identifies the requesting agent.
		AgentID string
		// ToolCallID uniquely identifies this invocation.
		ToolCallID string
		// Payload is the validated JSON payload for the tool.
		Payload json.RawMessage
		// Integrations resolves provider integrations for tools that call
		// external services. Nil when the host configured none.
		Integrations *integrations.Registry
		// StartedAt is the invocation start time.
		StartedAt time.Time
	}

	// Result is the discriminated outcome of a tool execution: either a
	// success payload or a structured failure. There is no partial or
	// streaming result.
	Result struct {
		// Payload holds the success value. Nil when Error is set.
		Payload json.RawMessage `json:"payload,omitempty"`
		// Error holds the structured failure. Nil on success.
		Error *toolerrors.ToolError `json:"error,omitempty"`
	}
)

// OK returns a success result carrying the given raw payload.
func OK(payload json.RawMessage) *Result {
	return &Result{Payload: payload}
}

// OKValue marshals v and returns a success result. It returns an error when v
// cannot be marshaled so tools surface encoding faults instead of panicking.
func OKValue(v any) (*Result, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Result{Payload: b}, nil
}

// Fail returns a failure result with the given kind and message.
func Fail(kind toolerrors.Kind, message string) *Result {
	return &Result{Error: toolerrors.New(kind, message)}
}

// FailErr returns a failure result wrapping err.
func FailErr(kind toolerrors.Kind, message string, err error) *Result {
	return &Result{Error: toolerrors.NewWithCause(kind, message, err)}
}

// Cancelled returns a failure result tagged as cancelled so callers can
// distinguish "tool failed" from "caller gave up".
func Cancelled(message string) *Result {
	if message == "" {
		message = "tool execution cancelled"
	}
	return &Result{Error: toolerrors.New(toolerrors.KindCancelled, message)}
}

// IsCancelled reports whether the result carries a cancelled failure.
func (r *Result) IsCancelled() bool {
	return r != nil && r.Error != nil && r.Error.IsCancelled()
}

// IsContextError reports whether err is a context cancellation or deadline
// error. Tools use it to map backend failures to cancelled results.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
