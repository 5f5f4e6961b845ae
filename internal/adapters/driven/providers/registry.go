package providers

import (
	"slices"
	"sync"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
	"github.com/custodia-labs/commerce-connect/internal/core/ports/driven"
)

// Ensure Registry implements the interface.
var _ driven.ProviderRegistry = (*Registry)(nil)

// Registry maps platforms to their adapters.
// Platforms whose credentials are not configured are simply not registered.
type Registry struct {
	mu       sync.RWMutex
	adapters map[domain.Platform]driven.ProviderAdapter
}

// NewRegistry creates a registry holding the given adapters.
func NewRegistry(adapters ...driven.ProviderAdapter) *Registry {
	r := &Registry{adapters: make(map[domain.Platform]driven.ProviderAdapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for its platform.
func (r *Registry) Register(adapter driven.ProviderAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Platform()] = adapter
}

// Get returns the adapter for platform.
func (r *Registry) Get(platform domain.Platform) (driven.ProviderAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[platform]
	return a, ok
}

// Platforms returns the registered platforms in a stable order.
func (r *Registry) Platforms() []domain.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Platform, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
