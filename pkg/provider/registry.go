// Package provider contains the resource provider registry, per-kind
// attribute schemas, and the in-memory provider used for local runs and
// tests.
package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

// Registry maps resource kinds to providers. It implements
// engine.ProviderRegistry.
type Registry struct {
	mu        sync.RWMutex
	providers map[engine.ResourceKind]engine.Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[engine.ResourceKind]engine.Provider),
	}
}

// Register adds a provider for its kind. Registering the same kind twice is
// an error.
func (r *Registry) Register(p engine.Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := p.Kind()
	if _, exists := r.providers[kind]; exists {
		return fmt.Errorf("provider for kind %q already registered", kind)
	}
	r.providers[kind] = p
	return nil
}

// Get returns the provider for the given kind.
func (r *Registry) Get(kind engine.ResourceKind) (engine.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[kind]
	if !ok {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("no provider registered for kind %q", kind), nil).
			WithCode(engine.ErrCodeInternal)
	}
	return p, nil
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []engine.ResourceKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]engine.ResourceKind, 0, len(r.providers))
	for k := range r.providers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
