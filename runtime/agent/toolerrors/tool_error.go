// Package toolerrors provides structured error types for tool invocation
// failures. ToolError preserves error chains and supports errors.Is/As while
// remaining serializable for observation records and wire transport.
package toolerrors

import (
	"errors"
	"fmt"
)

// Kind classifies a tool failure so callers can react without parsing messages.
type Kind string

const (
	// KindExecution marks a fault raised inside the tool implementation.
	KindExecution Kind = "execution"
	// KindInvalidInput marks a payload that did not satisfy the tool schema.
	KindInvalidInput Kind = "invalid_input"
	// KindCancelled marks a tool that stopped because the caller gave up.
	// Callers use it to distinguish "tool failed" from "caller cancelled".
	KindCancelled Kind = "cancelled"
	// KindUnavailable marks a tool whose backing service could not be reached.
	KindUnavailable Kind = "unavailable"
)

// ToolError represents a structured tool failure that preserves message,
// classification, and causal context while still implementing the standard
// error interface. Tool errors may be nested via Cause to retain diagnostics
// across retries and agent-as-tool hops.
type ToolError struct {
	// Message is the human-readable summary of the failure.
	Message string `json:"message"`
	// Kind classifies the failure.
	Kind Kind `json:"kind"`
	// Cause links to the underlying tool error, enabling chains with errors.Is/As.
	Cause *ToolError `json:"cause,omitempty"`
}

// New constructs a ToolError with the provided kind and message. Use when the
// failure does not wrap an underlying error but still requires structured
// reporting.
func New(kind Kind, message string) *ToolError {
	if message == "" {
		message = "tool error"
	}
	if kind == "" {
		kind = KindExecution
	}
	return &ToolError{Message: message, Kind: kind}
}

// NewWithCause constructs a ToolError that wraps an underlying error. The
// cause is converted into a ToolError chain so metadata survives serialization
// while still supporting errors.Is/As through Unwrap.
func NewWithCause(kind Kind, message string, cause error) *ToolError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &ToolError{
		Message: message,
		Kind:    kind,
		Cause:   FromError(cause),
	}
}

// FromError converts an arbitrary error into a ToolError chain.
func FromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{
		Message: err.Error(),
		Kind:    KindExecution,
		Cause:   FromError(errors.Unwrap(err)),
	}
}

// Errorf formats according to a format specifier and returns the string as an
// execution-kind ToolError.
func Errorf(format string, args ...any) *ToolError {
	return New(KindExecution, fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying tool error to support errors.Is/As.
func (e *ToolError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// IsCancelled reports whether any error in the chain carries KindCancelled.
func (e *ToolError) IsCancelled() bool {
	for cur := e; cur != nil; cur = cur.Cause {
		if cur.Kind == KindCancelled {
			return true
		}
	}
	return false
}
