// Package toolregistry maps tool names to their definitions and executable
// implementations. The registry is process-wide: it is populated once during
// startup and read for the remainder of the process lifetime.
package toolregistry

import (
	"fmt"
	"iter"
	"sync"

	"github.com/quorumhq/agentrun/runtime/agent/tools"
)

type (
	// Registry binds tool definitions to their implementations. Registration
	// is expected during a quiescent startup phase only; concurrent Register
	// during active Get calls is undefined behavior by contract. The internal
	// lock exists to keep interleaved reads safe, not to sanction hot
	// registration.
	Registry struct {
		mu      sync.RWMutex
		entries map[tools.Ident]entry
		order   []tools.Ident
	}

	entry struct {
		def  tools.Definition
		tool tools.Tool
	}

	// NotFoundError reports a lookup for an unregistered tool name.
	NotFoundError struct {
		// Name is the unknown tool name.
		Name tools.Ident
	}

	// DuplicateError reports an attempt to register a name twice. The first
	// registration stays intact.
	DuplicateError struct {
		// Name is the already-registered tool name.
		Name tools.Ident
	}
)

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found", e.Name)
}

// Error implements the error interface.
func (e *DuplicateError) Error() string {
	return fmt.Sprintf("tool %q already registered", e.Name)
}

// New returns an empty tool registry.
func New() *Registry {
	return &Registry{entries: make(map[tools.Ident]entry)}
}

// Register binds def to tool. It fails with a DuplicateError when the name is
// already taken, leaving the first registration intact.
func (r *Registry) Register(def tools.Definition, tool tools.Tool) error {
	if def.Name == "" {
		return fmt.Errorf("tool definition name is required")
	}
	if tool == nil {
		return fmt.Errorf("tool implementation is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[def.Name]; ok {
		return &DuplicateError{Name: def.Name}
	}
	r.entries[def.Name] = entry{def: def, tool: tool}
	r.order = append(r.order, def.Name)
	return nil
}

// Get returns the tool and definition bound to name, or a NotFoundError.
func (r *Registry) Get(name tools.Ident) (tools.Tool, tools.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, tools.Definition{}, &NotFoundError{Name: name}
	}
	return e.tool, e.def, nil
}

// Definitions returns a lazy, restartable sequence of registered definitions
// in registration order.
func (r *Registry) Definitions() iter.Seq[tools.Definition] {
	return func(yield func(tools.Definition) bool) {
		r.mu.RLock()
		order := append([]tools.Ident(nil), r.order...)
		r.mu.RUnlock()
		for _, name := range order {
			r.mu.RLock()
			e := r.entries[name]
			r.mu.RUnlock()
			if !yield(e.def) {
				return
			}
		}
	}
}
