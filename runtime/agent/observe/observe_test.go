package observe

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumhq/agentrun/runtime/agent/runstore"
	"github.com/quorumhq/agentrun/runtime/agent/runstore/inmem"
	"github.com/quorumhq/agentrun/runtime/agent/toolerrors"
	"github.com/quorumhq/agentrun/runtime/agent/tools"
)

// backends under test share one lifecycle contract; every backend must pass
// the same state machine checks.
func backends(t *testing.T) map[string]Observer {
	t.Helper()
	store, err := NewStore(inmem.New())
	require.NoError(t, err)
	return map[string]Observer{
		"noop":  Noop(),
		"otel":  NewOTEL(nil),
		"store": store,
	}
}

func TestObserveToolRequiresRunningRun(t *testing.T) {
	t.Parallel()

	for name, obs := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			// Unknown handle before any start.
			err := obs.ObserveTool(ctx, "bogus", ToolObservation{Tool: "echo"})
			var unknown *UnknownHandleError
			require.ErrorAs(t, err, &unknown)

			h, err := obs.Start(ctx, RunInput{RunID: "run-1", AgentID: "agent"})
			require.NoError(t, err)
			require.NoError(t, obs.ObserveTool(ctx, h, ToolObservation{Tool: "echo"}))

			require.NoError(t, obs.Finish(ctx, h, RunResult{}))

			// Observation after the terminal transition is a contract violation.
			err = obs.ObserveTool(ctx, h, ToolObservation{Tool: "echo"})
			var state *StateError
			require.ErrorAs(t, err, &state)
		})
	}
}

func TestFinishAndFailAreMutuallyExclusive(t *testing.T) {
	t.Parallel()

	for name, obs := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			h, err := obs.Start(ctx, RunInput{RunID: "run-a"})
			require.NoError(t, err)
			require.NoError(t, obs.Finish(ctx, h, RunResult{}))

			var state *StateError
			require.ErrorAs(t, obs.Fail(ctx, h, errors.New("late")), &state)
			require.ErrorAs(t, obs.Finish(ctx, h, RunResult{}), &state)

			h2, err := obs.Start(ctx, RunInput{RunID: "run-b"})
			require.NoError(t, err)
			require.NoError(t, obs.Fail(ctx, h2, errors.New("boom")))
			require.ErrorAs(t, obs.Finish(ctx, h2, RunResult{}), &state)
		})
	}
}

func TestShutdownIsIdempotentAndTerminal(t *testing.T) {
	t.Parallel()

	for name, obs := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			// Safe with no prior activity, and repeatable.
			require.NoError(t, obs.Shutdown(ctx))
			require.NoError(t, obs.Shutdown(ctx))

			_, err := obs.Start(ctx, RunInput{RunID: "run"})
			require.ErrorIs(t, err, ErrShutDown)
		})
	}
}

func TestHandlesAreDistinctPerRun(t *testing.T) {
	t.Parallel()

	obs := Noop()
	ctx := context.Background()

	h1, err := obs.Start(ctx, RunInput{RunID: "one"})
	require.NoError(t, err)
	h2, err := obs.Start(ctx, RunInput{RunID: "two"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	require.NoError(t, obs.Finish(ctx, h1, RunResult{}))
	// h2 is unaffected by h1's terminal transition.
	require.NoError(t, obs.ObserveTool(ctx, h2, ToolObservation{Tool: "echo"}))
	require.NoError(t, obs.Fail(ctx, h2, errors.New("boom")))
}

func TestStoreObserverFlushesInOrderOnFinish(t *testing.T) {
	t.Parallel()

	store := inmem.New()
	obs, err := NewStore(store)
	require.NoError(t, err)
	ctx := context.Background()

	h, err := obs.Start(ctx, RunInput{RunID: "run-1", AgentID: "agent", Input: json.RawMessage(`{"goal":"demo"}`)})
	require.NoError(t, err)

	// Nothing is persisted until the terminal transition.
	page, err := store.List(ctx, "run-1", "", 10)
	require.NoError(t, err)
	require.Empty(t, page.Events)

	for i, tool := range []string{"web_search", "http_request"} {
		require.NoError(t, obs.ObserveTool(ctx, h, ToolObservation{
			Tool:       tools.Ident(tool),
			ToolCallID: tool + "-call",
			Duration:   time.Duration(i+1) * time.Millisecond,
		}))
	}
	require.NoError(t, obs.Finish(ctx, h, RunResult{Output: json.RawMessage(`"done"`)}))

	page, err = store.List(ctx, "run-1", "", 10)
	require.NoError(t, err)
	require.Len(t, page.Events, 4)
	assert.Equal(t, runstore.EventRunStarted, page.Events[0].Type)
	assert.Equal(t, runstore.EventToolObserved, page.Events[1].Type)
	assert.Equal(t, runstore.EventToolObserved, page.Events[2].Type)
	assert.Equal(t, runstore.EventRunFinished, page.Events[3].Type)

	var first toolObservedPayload
	require.NoError(t, json.Unmarshal(page.Events[1].Payload, &first))
	assert.Equal(t, "web_search", first.Tool)
}

func TestStoreObserverRecordsFailure(t *testing.T) {
	t.Parallel()

	store := inmem.New()
	obs, err := NewStore(store)
	require.NoError(t, err)
	ctx := context.Background()

	h, err := obs.Start(ctx, RunInput{RunID: "run-x"})
	require.NoError(t, err)
	require.NoError(t, obs.ObserveTool(ctx, h, ToolObservation{
		Tool:  "http_request",
		Error: toolerrors.New(toolerrors.KindExecution, "503 from upstream"),
	}))
	require.NoError(t, obs.Fail(ctx, h, errors.New("run aborted")))

	page, err := store.List(ctx, "run-x", "", 10)
	require.NoError(t, err)
	require.Len(t, page.Events, 3)
	assert.Equal(t, runstore.EventRunFailed, page.Events[2].Type)
	assert.Contains(t, string(page.Events[2].Payload), "run aborted")
}

func TestStoreObserverShutdownFlushesOpenRuns(t *testing.T) {
	t.Parallel()

	store := inmem.New()
	obs, err := NewStore(store)
	require.NoError(t, err)
	ctx := context.Background()

	h, err := obs.Start(ctx, RunInput{RunID: "run-open"})
	require.NoError(t, err)
	require.NoError(t, obs.ObserveTool(ctx, h, ToolObservation{Tool: "memory_store"}))

	require.NoError(t, obs.Shutdown(ctx))

	page, err := store.List(ctx, "run-open", "", 10)
	require.NoError(t, err)
	// Buffered events flushed without a terminal event.
	require.Len(t, page.Events, 2)
	assert.Equal(t, runstore.EventRunStarted, page.Events[0].Type)
	assert.Equal(t, runstore.EventToolObserved, page.Events[1].Type)
}

func TestFactorySelectsBackend(t *testing.T) {
	t.Parallel()

	obs, err := New(Config{})
	require.NoError(t, err)
	require.NotNil(t, obs)

	obs, err = New(Config{Backend: BackendOTEL})
	require.NoError(t, err)
	require.NotNil(t, obs)

	obs, err = New(Config{Backend: BackendStore, Store: inmem.New()})
	require.NoError(t, err)
	require.NotNil(t, obs)

	_, err = New(Config{Backend: BackendStore})
	require.Error(t, err)

	_, err = New(Config{Backend: "jaeger"})
	require.Error(t, err)
}
