// Package executor provides registry-backed tool execution. It resolves a
// requested tool by name, validates the payload against the tool schema,
// invokes the tool with an invocation-scoped context, and normalizes every
// failure into a typed error attributable to a specific tool.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/quorumhq/agentrun/integrations"
	"github.com/quorumhq/agentrun/runtime/agent/observe"
	"github.com/quorumhq/agentrun/runtime/agent/telemetry"
	"github.com/quorumhq/agentrun/runtime/agent/toolerrors"
	"github.com/quorumhq/agentrun/runtime/agent/tools"
)

type (
	// Resolver resolves tool names to implementations. *toolregistry.Registry
	// satisfies it; tests provide lightweight fakes.
	Resolver interface {
		Get(name tools.Ident) (tools.Tool, tools.Definition, error)
	}

	// Executor executes tools resolved through a Resolver. The executor
	// itself is side-effect-free bookkeeping: all side effects belong to the
	// invoked tools.
	Executor struct {
		resolver     Resolver
		integrations *integrations.Registry
		observer     observe.Observer
		logger       telemetry.Logger
		tracer       telemetry.Tracer

		mu      sync.Mutex
		schemas map[tools.Ident]*jsonschema.Schema
	}

	// CallMeta carries the identifiers scoping a single tool call.
	CallMeta struct {
		// RunID identifies the requesting agent run.
		RunID string
		// AgentID identifies the requesting agent.
		AgentID string
		// ToolCallID identifies this invocation. Generated when empty.
		ToolCallID string
		// Run is the observation handle for the enclosing run. When set, the
		// executor reports the call outcome via the configured observer.
		Run observe.Handle
	}

	// Option configures an Executor.
	Option func(*Executor)

	// InvalidInputError reports a payload that failed schema validation. The
	// tool was never invoked.
	InvalidInputError struct {
		// Tool is the tool whose schema rejected the payload.
		Tool tools.Ident
		// Cause is the validation failure.
		Cause error
	}

	// ExecutionError wraps a fault raised inside a tool so callers always
	// receive a typed failure naming the offending tool.
	ExecutionError struct {
		// Tool is the tool that faulted.
		Tool tools.Ident
		// Cause is the underlying fault.
		Cause error
	}
)

// Error implements the error interface.
func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input for tool %q: %v", e.Tool, e.Cause)
}

// Unwrap returns the validation failure.
func (e *InvalidInputError) Unwrap() error { return e.Cause }

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %q execution failed: %v", e.Tool, e.Cause)
}

// Unwrap returns the underlying fault.
func (e *ExecutionError) Unwrap() error { return e.Cause }

// WithIntegrations grants executed tools access to the provider integration
// registry through their invocation context.
func WithIntegrations(reg *integrations.Registry) Option {
	return func(e *Executor) {
		e.integrations = reg
	}
}

// WithObserver configures the run observer the executor reports tool outcomes
// to. When nil, outcomes are not reported.
func WithObserver(obs observe.Observer) Option {
	return func(e *Executor) {
		e.observer = obs
	}
}

// WithLogger configures the executor logger. When nil, the executor uses a
// noop logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithTracer configures the executor tracer. When nil, the executor uses a
// noop tracer.
func WithTracer(tracer telemetry.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

// New returns an Executor resolving tools through resolver.
func New(resolver Resolver, opts ...Option) *Executor {
	e := &Executor{
		resolver: resolver,
		logger:   telemetry.NewNoopLogger(),
		tracer:   telemetry.NewNoopTracer(),
		schemas:  make(map[tools.Ident]*jsonschema.Schema),
	}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	return e
}

// Execute resolves name, validates payload against the tool schema, and
// invokes the tool with a context scoped to this call only.
//
// Lookup and validation failures surface as *toolregistry.NotFoundError and
// *InvalidInputError without invoking the tool. Tool-internal faults
// (returned errors and panics alike) surface as *ExecutionError naming the
// tool. Cancellation surfaces as a success-shaped result tagged cancelled so
// callers can distinguish "tool failed" from "caller gave up". On success the
// tool result is returned unchanged.
func (e *Executor) Execute(ctx context.Context, name tools.Ident, payload json.RawMessage, meta *CallMeta) (*tools.Result, error) {
	if meta == nil {
		meta = &CallMeta{}
	}
	if meta.ToolCallID == "" {
		meta.ToolCallID = uuid.NewString()
	}

	ctx, span := e.tracer.Start(
		ctx,
		"tool.execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("tool.name", name.String()),
			attribute.String("tool.run_id", meta.RunID),
			attribute.String("tool.call_id", meta.ToolCallID),
		),
	)
	defer span.End()

	tool, def, err := e.resolver.Get(name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool resolution failed")
		e.observeOutcome(ctx, meta, name, payload, nil, toolerrors.FromError(err), 0)
		return nil, err
	}

	if err := e.validate(name, def, payload); err != nil {
		ierr := &InvalidInputError{Tool: name, Cause: err}
		span.RecordError(ierr)
		span.SetStatus(codes.Error, "tool input validation failed")
		e.observeOutcome(ctx, meta, name, payload, nil, toolerrors.NewWithCause(toolerrors.KindInvalidInput, ierr.Error(), err), 0)
		return nil, ierr
	}

	inv := &tools.Invocation{
		RunID:        meta.RunID,
		AgentID:      meta.AgentID,
		ToolCallID:   meta.ToolCallID,
		Payload:      payload,
		Integrations: e.integrations,
		StartedAt:    time.Now().UTC(),
	}

	result, err := e.invoke(ctx, tool, inv)
	duration := time.Since(inv.StartedAt)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Tools should return a cancelled result themselves; normalize
			// the ones that surface the context error instead.
			result = tools.Cancelled(err.Error())
			e.observeOutcome(ctx, meta, name, payload, nil, result.Error, duration)
			span.SetStatus(codes.Error, "tool execution cancelled")
			return result, nil
		}
		xerr := &ExecutionError{Tool: name, Cause: err}
		span.RecordError(xerr)
		span.SetStatus(codes.Error, "tool execution failed")
		e.logger.Error(ctx, "tool execution failed",
			"tool", name.String(),
			"run_id", meta.RunID,
			"tool_call_id", meta.ToolCallID,
			"err", err,
		)
		e.observeOutcome(ctx, meta, name, payload, nil, toolerrors.NewWithCause(toolerrors.KindExecution, xerr.Error(), err), duration)
		return nil, xerr
	}
	if result == nil {
		result = tools.OK(nil)
	}

	e.observeOutcome(ctx, meta, name, payload, result.Payload, result.Error, duration)
	if result.Error != nil {
		span.SetStatus(codes.Error, "tool returned failure result")
	} else {
		span.SetStatus(codes.Ok, "ok")
	}
	return result, nil
}

// invoke runs the tool, converting panics into errors so arbitrary faults
// never escape the executor.
func (e *Executor) invoke(ctx context.Context, tool tools.Tool, inv *tools.Invocation) (result *tools.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return tool.Execute(ctx, inv)
}

// validate checks payload against the tool's input schema. Tools with no
// schema accept any payload.
func (e *Executor) validate(name tools.Ident, def tools.Definition, payload json.RawMessage) error {
	if len(def.Schema) == 0 {
		return nil
	}
	schema, err := e.schema(name, def)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	return schema.Validate(doc)
}

// schema returns the compiled schema for the tool, compiling it on first use.
// Definitions are immutable once registered so the cache never invalidates.
func (e *Executor) schema(name tools.Ident, def tools.Definition) (*jsonschema.Schema, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.schemas[name]; ok {
		return s, nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(def.Schema))
	if err != nil {
		return nil, fmt.Errorf("tool schema is not valid JSON: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	resource := fmt.Sprintf("tool://%s/schema.json", name)
	if err := compiler.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("add tool schema resource: %w", err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile tool schema: %w", err)
	}
	e.schemas[name] = schema
	return schema, nil
}

// observeOutcome reports the call outcome to the run observer. Observation
// failures are contract violations on the caller side; they are logged, not
// propagated, so they cannot mask the tool outcome.
func (e *Executor) observeOutcome(ctx context.Context, meta *CallMeta, name tools.Ident, input, result json.RawMessage, terr *toolerrors.ToolError, duration time.Duration) {
	if e.observer == nil || meta.Run == "" {
		return
	}
	err := e.observer.ObserveTool(ctx, meta.Run, observe.ToolObservation{
		Tool:       name,
		ToolCallID: meta.ToolCallID,
		Input:      input,
		Result:     result,
		Error:      terr,
		Duration:   duration,
	})
	if err != nil {
		e.logger.Error(ctx, "tool observation rejected",
			"tool", name.String(),
			"run_id", meta.RunID,
			"tool_call_id", meta.ToolCallID,
			"err", err,
		)
	}
}
