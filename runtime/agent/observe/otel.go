package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/quorumhq/agentrun/runtime/agent/telemetry"
)

// otelObserver maps each run to a tracing span and each tool observation to a
// span event. Spans end on the terminal transition; Shutdown ends any spans
// still open so the exporter can flush them.
type otelObserver struct {
	table  *runTable
	tracer telemetry.Tracer

	mu    sync.Mutex
	spans map[Handle]telemetry.Span
}

// NewOTEL returns an Observer that records runs as OTEL spans through the
// provided tracer. A nil tracer falls back to the noop tracer, which keeps
// the lifecycle contract intact without emitting telemetry.
func NewOTEL(tracer telemetry.Tracer) Observer {
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &otelObserver{
		table:  newRunTable(),
		tracer: tracer,
		spans:  make(map[Handle]telemetry.Span),
	}
}

// Start implements Observer.
func (o *otelObserver) Start(ctx context.Context, in RunInput) (Handle, error) {
	h, err := o.table.begin()
	if err != nil {
		return "", err
	}
	_, span := o.tracer.Start(
		ctx,
		"agent.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("agent.run_id", in.RunID),
			attribute.String("agent.id", in.AgentID),
		),
	)
	o.mu.Lock()
	o.spans[h] = span
	o.mu.Unlock()
	return h, nil
}

// ObserveTool implements Observer.
func (o *otelObserver) ObserveTool(_ context.Context, h Handle, obs ToolObservation) error {
	if err := o.table.observe(h); err != nil {
		return err
	}
	span := o.span(h)
	if span == nil {
		return nil
	}
	attrs := []any{
		"tool.name", obs.Tool.String(),
		"tool.call_id", obs.ToolCallID,
		"tool.duration_ms", obs.Duration.Milliseconds(),
	}
	if obs.Error != nil {
		attrs = append(attrs, "tool.error", obs.Error.Message, "tool.error_kind", string(obs.Error.Kind))
	}
	span.AddEvent("agent.tool_executed", attrs...)
	return nil
}

// Finish implements Observer.
func (o *otelObserver) Finish(_ context.Context, h Handle, _ RunResult) error {
	if err := o.table.terminate(h, stateFinished, "finish"); err != nil {
		return err
	}
	if span := o.take(h); span != nil {
		span.SetStatus(codes.Ok, "run finished")
		span.End()
	}
	return nil
}

// Fail implements Observer.
func (o *otelObserver) Fail(_ context.Context, h Handle, runErr error) error {
	if err := o.table.terminate(h, stateFailed, "fail"); err != nil {
		return err
	}
	if span := o.take(h); span != nil {
		if runErr != nil {
			span.RecordError(runErr)
		}
		span.SetStatus(codes.Error, "run failed")
		span.End()
	}
	return nil
}

// Shutdown implements Observer. Open spans for runs that never reached a
// terminal transition are ended so the exporter can flush them.
func (o *otelObserver) Shutdown(context.Context) error {
	if !o.table.close() {
		return nil
	}
	o.mu.Lock()
	spans := o.spans
	o.spans = make(map[Handle]telemetry.Span)
	o.mu.Unlock()
	for _, span := range spans {
		span.SetStatus(codes.Error, "run abandoned at shutdown")
		span.End()
	}
	return nil
}

func (o *otelObserver) span(h Handle) telemetry.Span {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.spans[h]
}

func (o *otelObserver) take(h Handle) telemetry.Span {
	o.mu.Lock()
	defer o.mu.Unlock()
	span := o.spans[h]
	delete(o.spans, h)
	return span
}
