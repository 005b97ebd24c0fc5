package toolerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsKindAndMessage(t *testing.T) {
	t.Parallel()

	err := New("", "")
	require.NotNil(t, err)
	assert.Equal(t, KindExecution, err.Kind)
	assert.Equal(t, "tool error", err.Message)
}

func TestFromErrorPreservesChain(t *testing.T) {
	t.Parallel()

	root := errors.New("connection reset")
	wrapped := fmt.Errorf("fetch page: %w", root)

	te := FromError(wrapped)
	require.NotNil(t, te)
	assert.Equal(t, "fetch page: connection reset", te.Message)
	require.NotNil(t, te.Cause)
	assert.Equal(t, "connection reset", te.Cause.Message)
}

func TestFromErrorReturnsExistingToolError(t *testing.T) {
	t.Parallel()

	orig := New(KindCancelled, "stopped")
	wrapped := fmt.Errorf("outer: %w", orig)

	te := FromError(wrapped)
	assert.Same(t, orig, te)
}

func TestNewWithCauseSupportsErrorsAs(t *testing.T) {
	t.Parallel()

	cause := New(KindInvalidInput, "missing field")
	err := NewWithCause(KindExecution, "call failed", cause)

	var te *ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "call failed", te.Message)
	assert.Equal(t, "missing field", te.Cause.Message)
}

func TestIsCancelledWalksChain(t *testing.T) {
	t.Parallel()

	inner := New(KindCancelled, "caller gave up")
	outer := NewWithCause(KindExecution, "tool stopped", inner)

	assert.True(t, outer.IsCancelled())
	assert.False(t, New(KindExecution, "boom").IsCancelled())
}
