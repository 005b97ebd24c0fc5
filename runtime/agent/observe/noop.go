package observe

import "context"

// noop is the null-object Observer: it satisfies the exact lifecycle contract
// while performing no I/O. Hosts that configure no telemetry backend use it so
// the rest of the system never special-cases "no backend configured".
type noop struct {
	table *runTable
}

// Noop returns a contract-compliant Observer that records nothing. The run
// state machine is still enforced so lifecycle misuse surfaces in tests even
// without a real backend.
func Noop() Observer {
	return &noop{table: newRunTable()}
}

// Start implements Observer.
func (o *noop) Start(_ context.Context, _ RunInput) (Handle, error) {
	return o.table.begin()
}

// ObserveTool implements Observer.
func (o *noop) ObserveTool(_ context.Context, h Handle, _ ToolObservation) error {
	return o.table.observe(h)
}

// Finish implements Observer.
func (o *noop) Finish(_ context.Context, h Handle, _ RunResult) error {
	return o.table.terminate(h, stateFinished, "finish")
}

// Fail implements Observer.
func (o *noop) Fail(_ context.Context, h Handle, _ error) error {
	return o.table.terminate(h, stateFailed, "fail")
}

// Shutdown implements Observer. It is idempotent and safe without prior runs.
func (o *noop) Shutdown(context.Context) error {
	o.table.close()
	return nil
}
