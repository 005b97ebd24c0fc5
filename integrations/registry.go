package integrations

import (
	"fmt"
	"iter"
	"sync"
)

// Registry maps provider identifiers to live integration instances. It owns
// the instances for its lifetime. Registration happens during startup; the
// registry provides no contract for safe concurrent mutation during active
// dispatch.
type Registry struct {
	mu           sync.RWMutex
	integrations map[Provider]Integration
	order        []Provider
}

// NewRegistry returns an empty integration registry.
func NewRegistry() *Registry {
	return &Registry{integrations: make(map[Provider]Integration)}
}

// Register binds an integration to its provider identifier. Registering the
// same provider twice is a configuration mistake and returns an error without
// touching the existing binding.
func (r *Registry) Register(integration Integration) error {
	if integration == nil {
		return fmt.Errorf("integration is required")
	}
	provider := integration.Provider()
	if provider == "" {
		return fmt.Errorf("integration provider is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.integrations[provider]; ok {
		return fmt.Errorf("integration already registered for provider %q", provider)
	}
	r.integrations[provider] = integration
	r.order = append(r.order, provider)
	return nil
}

// Get returns the integration registered for the provider or a
// NotConfiguredError when absent.
func (r *Registry) Get(provider Provider) (Integration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	integration, ok := r.integrations[provider]
	if !ok {
		return nil, &NotConfiguredError{Provider: provider}
	}
	return integration, nil
}

// Integrations returns a restartable sequence of registered integrations in
// registration order.
func (r *Registry) Integrations() iter.Seq[Integration] {
	return func(yield func(Integration) bool) {
		r.mu.RLock()
		order := append([]Provider(nil), r.order...)
		r.mu.RUnlock()
		for _, provider := range order {
			r.mu.RLock()
			integration := r.integrations[provider]
			r.mu.RUnlock()
			if !yield(integration) {
				return
			}
		}
	}
}
