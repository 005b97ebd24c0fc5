package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"goa.design/pulse/streaming"
)

type (
	// Handler processes one decoded run event. Returning an error leaves the
	// event unacknowledged so the consumer group can redeliver it.
	Handler func(ctx context.Context, env Envelope) error

	// Subscriber drains a consumer group and dispatches decoded envelopes to
	// a handler. Create one per stream with NewSubscriber and run it with
	// Run; Run returns when the context is cancelled or the sink channel
	// closes.
	Subscriber struct {
		sink    Sink
		handler Handler
	}
)

// NewSubscriber attaches a handler to the consumer group named group on the
// stream.
func NewSubscriber(ctx context.Context, stream Stream, group string, handler Handler) (*Subscriber, error) {
	if stream == nil {
		return nil, errors.New("stream is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	sink, err := stream.NewSink(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("create sink: %w", err)
	}
	return &Subscriber{sink: sink, handler: handler}, nil
}

// Run consumes events until ctx is cancelled or the subscription channel
// closes. Events whose handler succeeds are acknowledged; failed or
// undecodable events are left pending for redelivery.
func (s *Subscriber) Run(ctx context.Context) error {
	defer s.sink.Close(ctx)
	events := s.sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := s.dispatch(ctx, ev); err != nil {
				continue
			}
			if err := s.sink.Ack(ctx, ev); err != nil {
				return fmt.Errorf("ack event %s: %w", ev.ID, err)
			}
		}
	}
}

func (s *Subscriber) dispatch(ctx context.Context, ev *streaming.Event) error {
	var env Envelope
	if err := json.Unmarshal(ev.Payload, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	return s.handler(ctx, env)
}
