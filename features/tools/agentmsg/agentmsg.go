// Package agentmsg exposes an agent-to-agent messaging tool. Messages travel
// over per-agent Pulse streams so recipients can consume them with an
// ordinary stream subscriber, live or after the fact.
package agentmsg

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/quorumhq/agentrun/features/stream/pulse"
	"github.com/quorumhq/agentrun/runtime/agent/toolerrors"
	"github.com/quorumhq/agentrun/runtime/agent/tools"
)

// Name is the registered tool identifier.
const Name tools.Ident = "agent_message"

// eventName is the stream event name messages are published under.
const eventName = "agent_message"

var schema = []byte(`{
	"type": "object",
	"properties": {
		"to": {"type": "string", "minLength": 1},
		"text": {"type": "string", "minLength": 1}
	},
	"required": ["to", "text"],
	"additionalProperties": false
}`)

type (
	// Tool publishes messages to other agents' streams.
	Tool struct {
		client pulse.Client
		now    func() time.Time
	}

	// Option configures the tool.
	Option func(*Tool)

	request struct {
		To   string `json:"to"`
		Text string `json:"text"`
	}

	// Message is the payload published to the recipient's stream.
	Message struct {
		From   string    `json:"from"`
		RunID  string    `json:"run_id"`
		Text   string    `json:"text"`
		SentAt time.Time `json:"sent_at"`
	}

	response struct {
		EventID string `json:"event_id"`
	}
)

// WithClock overrides the message timestamp clock.
func WithClock(now func() time.Time) Option {
	return func(t *Tool) {
		t.now = now
	}
}

// New returns the messaging tool publishing through client.
func New(client pulse.Client, opts ...Option) (*Tool, error) {
	if client == nil {
		return nil, errors.New("pulse client is required")
	}
	t := &Tool{client: client, now: time.Now}
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
		Description: "Send a message to another agent. Delivery is asynchronous via the recipient's stream.",
		Schema:      schema,
		Tags:        []string{"messaging"},
	}
}

// Execute implements tools.Tool.
func (t *Tool) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	var req request
	if err := json.Unmarshal(inv.Payload, &req); err != nil {
		return tools.FailErr(toolerrors.KindInvalidInput, "decode message payload", err), nil
	}

	stream, err := t.client.Stream(pulse.AgentStreamName(req.To))
	if err != nil {
		return tools.FailErr(toolerrors.KindUnavailable, "open recipient stream", err), nil
	}
	payload, err := json.Marshal(Message{
		From:   inv.AgentID,
		RunID:  inv.RunID,
		Text:   req.Text,
		SentAt: t.now().UTC(),
	})
	if err != nil {
		return tools.FailErr(toolerrors.KindExecution, "encode message", err), nil
	}
	id, err := stream.Add(ctx, eventName, payload)
	if err != nil {
		if tools.IsContextError(err) {
			return tools.Cancelled("message publish cancelled"), nil
		}
		return tools.FailErr(toolerrors.KindUnavailable, "publish message", err), nil
	}
	return tools.OKValue(response{EventID: id})
}
