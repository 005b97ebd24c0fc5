package observe

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/quorumhq/agentrun/runtime/agent/runstore"
	"github.com/quorumhq/agentrun/runtime/agent/toolerrors"
)

type (
	// storeObserver buffers run events in memory and flushes them to a
	// runstore.Store on the terminal transition. Runs still open at Shutdown
	// are flushed as-is so no observation is lost on process termination.
	storeObserver struct {
		table *runTable
		store runstore.Store
		now   func() time.Time

		mu   sync.Mutex
		runs map[Handle]*bufferedRun
	}

	bufferedRun struct {
		runID   string
		agentID string
		events  []*runstore.Event
	}

	toolObservedPayload struct {
		Tool       string                `json:"tool"`
		ToolCallID string                `json:"tool_call_id,omitempty"`
		Input      json.RawMessage       `json:"input,omitempty"`
		Result     json.RawMessage       `json:"result,omitempty"`
		Error      *toolerrors.ToolError `json:"error,omitempty"`
		DurationMs int64                 `json:"duration_ms"`
	}
)

// NewStore returns an Observer that records run events into the given store.
func NewStore(store runstore.Store) (Observer, error) {
	if store == nil {
		return nil, fmt.Errorf("run store is required")
	}
	return &storeObserver{
		table: newRunTable(),
		store: store,
		now:   time.Now,
		runs:  make(map[Handle]*bufferedRun),
	}, nil
}

// Start implements Observer.
func (o *storeObserver) Start(_ context.Context, in RunInput) (Handle, error) {
	h, err := o.table.begin()
	if err != nil {
		return "", err
	}
	runID := in.RunID
	if runID == "" {
		runID = string(h)
	}
	run := &bufferedRun{runID: runID, agentID: in.AgentID}
	run.events = append(run.events, &runstore.Event{
		RunID:     runID,
		AgentID:   in.AgentID,
		Type:      runstore.EventRunStarted,
		Payload:   in.Input,
		Timestamp: o.now().UTC(),
	})
	o.mu.Lock()
	o.runs[h] = run
	o.mu.Unlock()
	return h, nil
}

// ObserveTool implements Observer. Observations are buffered in call order.
func (o *storeObserver) ObserveTool(_ context.Context, h Handle, obs ToolObservation) error {
	if err := o.table.observe(h); err != nil {
		return err
	}
	payload, err := json.Marshal(toolObservedPayload{
		Tool:       obs.Tool.String(),
		ToolCallID: obs.ToolCallID,
		Input:      obs.Input,
		Result:     obs.Result,
		Error:      obs.Error,
		DurationMs: obs.Duration.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("marshal tool observation: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	run, ok := o.runs[h]
	if !ok {
		return &UnknownHandleError{Handle: h}
	}
	run.events = append(run.events, &runstore.Event{
		RunID:     run.runID,
		AgentID:   run.agentID,
		Type:      runstore.EventToolObserved,
		Payload:   payload,
		Timestamp: o.now().UTC(),
	})
	return nil
}

// Finish implements Observer.
func (o *storeObserver) Finish(ctx context.Context, h Handle, res RunResult) error {
	if err := o.table.terminate(h, stateFinished, "finish"); err != nil {
		return err
	}
	return o.flush(ctx, h, runstore.EventRunFinished, res.Output)
}

// Fail implements Observer.
func (o *storeObserver) Fail(ctx context.Context, h Handle, runErr error) error {
	if err := o.table.terminate(h, stateFailed, "fail"); err != nil {
		return err
	}
	var payload json.RawMessage
	if runErr != nil {
		b, err := json.Marshal(map[string]string{"error": runErr.Error()})
		if err != nil {
			return fmt.Errorf("marshal run failure: %w", err)
		}
		payload = b
	}
	return o.flush(ctx, h, runstore.EventRunFailed, payload)
}

// Shutdown implements Observer. Buffered events of runs that never reached a
// terminal transition are flushed without a terminal event.
func (o *storeObserver) Shutdown(ctx context.Context) error {
	if !o.table.close() {
		return nil
	}
	o.mu.Lock()
	runs := o.runs
	o.runs = make(map[Handle]*bufferedRun)
	o.mu.Unlock()

	var firstErr error
	for _, run := range runs {
		for _, e := range run.events {
			if err := o.store.Append(ctx, e); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// flush appends the buffered run events plus the terminal event to the store.
func (o *storeObserver) flush(ctx context.Context, h Handle, terminal runstore.EventType, payload json.RawMessage) error {
	o.mu.Lock()
	run, ok := o.runs[h]
	delete(o.runs, h)
	o.mu.Unlock()
	if !ok {
		return &UnknownHandleError{Handle: h}
	}

	run.events = append(run.events, &runstore.Event{
		RunID:     run.runID,
		AgentID:   run.agentID,
		Type:      terminal,
		Payload:   payload,
		Timestamp: o.now().UTC(),
	})
	for _, e := range run.events {
		if err := o.store.Append(ctx, e); err != nil {
			return fmt.Errorf("append run event: %w", err)
		}
	}
	return nil
}
