package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type (
	// SinkOptions configures the event sink.
	SinkOptions struct {
		// Client publishes the events. Required.
		Client Client
		// StreamName derives the target stream from an event. Defaults to
		// RunStreamName of the event's run.
		StreamName func(Envelope) (string, error)
	}

	// EventSink publishes run events into Pulse streams. Safe for concurrent
	// Publish calls.
	EventSink struct {
		client     Client
		streamName func(Envelope) (string, error)
	}

	// Envelope wraps a run event for transmission over Pulse streams.
	Envelope struct {
		// Type identifies the event kind (e.g. "tool_observed").
		Type string `json:"type"`
		// RunID links the event to its run.
		RunID string `json:"run_id"`
		// AgentID identifies the agent that produced the event.
		AgentID string `json:"agent_id,omitempty"`
		// Timestamp records when the event was published (UTC).
		Timestamp time.Time `json:"timestamp"`
		// Payload carries the event-specific data, if any.
		Payload json.RawMessage `json:"payload,omitempty"`
	}
)

// NewEventSink constructs a Pulse-backed event sink.
func NewEventSink(opts SinkOptions) (*EventSink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	s := &EventSink{
		client:     opts.Client,
		streamName: defaultStreamName,
	}
	if opts.StreamName != nil {
		s.streamName = opts.StreamName
	}
	return s, nil
}

// Publish writes the envelope to its derived stream. The envelope timestamp
// is set to the current time when zero.
func (s *EventSink) Publish(ctx context.Context, env Envelope) error {
	if env.RunID == "" {
		return errors.New("envelope missing run id")
	}
	if env.Type == "" {
		return errors.New("envelope missing event type")
	}
	name, err := s.streamName(env)
	if err != nil {
		return err
	}
	handle, err := s.client.Stream(name)
	if err != nil {
		return err
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = handle.Add(ctx, env.Type, payload)
	return err
}

// Close releases resources owned by the underlying client.
func (s *EventSink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

func defaultStreamName(env Envelope) (string, error) {
	return RunStreamName(env.RunID), nil
}
