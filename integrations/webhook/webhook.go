// Package webhook verifies and routes inbound provider webhooks to the
// owning integration. Verification happens before any provider code sees the
// payload; unverified deliveries are never forwarded.
package webhook

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/quorumhq/agentrun/integrations"
	"github.com/quorumhq/agentrun/runtime/agent/telemetry"
)

type (
	// Dispatcher routes verified deliveries to their integrations. Delivery
	// retry is the sending provider's responsibility; the dispatcher performs
	// none. Idempotent handling is a per-integration property, documented by
	// each implementation rather than enforced here.
	Dispatcher struct {
		registry *integrations.Registry
		logger   telemetry.Logger
		tracer   telemetry.Tracer
	}

	// Option configures a Dispatcher.
	Option func(*Dispatcher)

	// VerificationError reports a delivery whose authenticity check failed.
	// The delivery is terminal: it is never forwarded to the integration.
	VerificationError struct {
		// Provider is the claimed sending provider.
		Provider integrations.Provider
		// Cause is the verification failure.
		Cause error
	}
)

// Error implements the error interface.
func (e *VerificationError) Error() string {
	return fmt.Sprintf("webhook verification failed for provider %q: %v", e.Provider, e.Cause)
}

// Unwrap returns the verification failure.
func (e *VerificationError) Unwrap() error { return e.Cause }

// WithLogger configures the dispatcher logger. When nil, the dispatcher uses
// a noop logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithTracer configures the dispatcher tracer. When nil, the dispatcher uses
// a noop tracer.
func WithTracer(tracer telemetry.Tracer) Option {
	return func(d *Dispatcher) {
		d.tracer = tracer
	}
}

// NewDispatcher returns a Dispatcher routing into registry.
func NewDispatcher(registry *integrations.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		logger:   telemetry.NewNoopLogger(),
		tracer:   telemetry.NewNoopTracer(),
	}
	for _, o := range opts {
		if o != nil {
			o(d)
		}
	}
	return d
}

// Dispatch identifies the owning integration, verifies the delivery, and
// delegates handling. Unknown providers surface as
// *integrations.NotConfiguredError; failed verification as
// *VerificationError. The integration's handling result or fault propagates
// unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, delivery integrations.WebhookDelivery) error {
	ctx, span := d.tracer.Start(
		ctx,
		"webhook.dispatch",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("webhook.provider", delivery.Provider.String()),
			attribute.String("webhook.delivery_id", delivery.DeliveryID),
		),
	)
	defer span.End()

	integration, err := d.registry.Get(delivery.Provider)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown webhook provider")
		return err
	}

	if err := integration.VerifyWebhook(delivery); err != nil {
		verr := &VerificationError{Provider: delivery.Provider, Cause: err}
		span.RecordError(verr)
		span.SetStatus(codes.Error, "webhook verification failed")
		d.logger.Warn(ctx, "rejected unverified webhook",
			"provider", delivery.Provider.String(),
			"delivery_id", delivery.DeliveryID,
			"err", err,
		)
		return verr
	}

	if err := integration.HandleWebhook(ctx, delivery); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook handling failed")
		return err
	}
	span.SetStatus(codes.Ok, "ok")
	return nil
}
