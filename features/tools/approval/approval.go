// Package approval exposes a human-in-the-loop gate as a tool. Execution
// blocks until a decider approves or rejects the request; cancelling the run
// releases the wait.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/quorumhq/agentrun/runtime/agent/toolerrors"
	"github.com/quorumhq/agentrun/runtime/agent/tools"
)

// Name is the registered tool identifier.
const Name tools.Ident = "request_approval"

var schema = []byte(`{
	"type": "object",
	"properties": {
		"action": {"type": "string", "minLength": 1},
		"reason": {"type": "string"}
	},
	"required": ["action"],
	"additionalProperties": false
}`)

type (
	// Request describes the action awaiting a decision.
	Request struct {
		// ID uniquely identifies the request.
		ID string `json:"id"`
		// RunID is the requesting run.
		RunID string `json:"run_id"`
		// AgentID is the requesting agent.
		AgentID string `json:"agent_id"`
		// Action is the operation the agent wants to perform.
		Action string `json:"action"`
		// Reason is the agent's justification, if any.
		Reason string `json:"reason,omitempty"`
		// RequestedAt is the request time.
		RequestedAt time.Time `json:"requested_at"`
	}

	// Decision is the outcome of a request.
	Decision struct {
		// Approved reports whether the action may proceed.
		Approved bool `json:"approved"`
		// DecidedBy identifies the deciding principal.
		DecidedBy string `json:"decided_by,omitempty"`
		// Note carries the decider's comment, if any.
		Note string `json:"note,omitempty"`
	}

	// Decider resolves approval requests. Decide blocks until a decision is
	// available or ctx is cancelled.
	Decider interface {
		Decide(ctx context.Context, req Request) (Decision, error)
	}

	// Tool gates agent actions behind a decider.
	Tool struct {
		decider Decider
		now     func() time.Time
	}

	// Option configures the tool.
	Option func(*Tool)

	request struct {
		Action string `json:"action"`
		Reason string `json:"reason"`
	}
)

// WithClock overrides the request timestamp clock.
func WithClock(now func() time.Time) Option {
	return func(t *Tool) {
		t.now = now
	}
}

// New returns the approval tool backed by decider.
func New(decider Decider, opts ...Option) (*Tool, error) {
	if decider == nil {
		return nil, errors.New("decider is required")
	}
	t := &Tool{decider: decider, now: time.Now}
	for _, o := range opts {
		if o != nil {
			o(t)
		}
	}
	return t, nil
}

// Describe implements tools.Tool.
func (t *Tool) Describe() tools.Definition {
	return tools.Definition{
		Name:        Name,
		Description: "Request human approval before performing a sensitive action. Blocks until decided.",
		Schema:      schema,
		Tags:        []string{"human"},
	}
}

// Execute implements tools.Tool.
func (t *Tool) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	var req request
	if err := json.Unmarshal(inv.Payload, &req); err != nil {
		return tools.FailErr(toolerrors.KindInvalidInput, "decode approval payload", err), nil
	}

	decision, err := t.decider.Decide(ctx, Request{
		ID:          uuid.NewString(),
		RunID:       inv.RunID,
		AgentID:     inv.AgentID,
		Action:      req.Action,
		Reason:      req.Reason,
		RequestedAt: t.now().UTC(),
	})
	if err != nil {
		if tools.IsContextError(err) {
			return tools.Cancelled("approval wait cancelled"), nil
		}
		return tools.FailErr(toolerrors.KindExecution, "resolve approval", err), nil
	}
	return tools.OKValue(decision)
}
