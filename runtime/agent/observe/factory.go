package observe

import (
	"fmt"

	"github.com/quorumhq/agentrun/runtime/agent/runstore"
	"github.com/quorumhq/agentrun/runtime/agent/telemetry"
)

// Backend names accepted by New.
const (
	// BackendNone selects the no-op observer.
	BackendNone = "none"
	// BackendOTEL selects the OTEL span observer.
	BackendOTEL = "otel"
	// BackendStore selects the run-store observer.
	BackendStore = "store"
)

// Config selects and configures a concrete observation backend. The rest of
// the system depends only on the Observer contract, never on which backend
// the factory picked.
type Config struct {
	// Backend is one of "none", "otel", or "store". Empty means "none".
	Backend string
	// Tracer backs the OTEL observer. Ignored by other backends.
	Tracer telemetry.Tracer
	// Store backs the store observer. Ignored by other backends.
	Store runstore.Store
}

// New constructs the Observer named by cfg.Backend.
func New(cfg Config) (Observer, error) {
	switch cfg.Backend {
	case "", BackendNone:
		return Noop(), nil
	case BackendOTEL:
		return NewOTEL(cfg.Tracer), nil
	case BackendStore:
		return NewStore(cfg.Store)
	}
	return nil, fmt.Errorf("unknown observation backend %q", cfg.Backend)
}
