package source

import (
	"fmt"
	"sort"
	"sync"

	"github.com/timmy/storesync/internal/domain"
)

// Factory creates a fresh, uninitialized adapter.
type Factory func() Adapter

// Registry maps platforms to adapter factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[domain.Platform]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[domain.Platform]Factory)}
}

// Register binds a factory to a platform, replacing any previous binding.
func (r *Registry) Register(platform domain.Platform, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[platform] = factory
}

// Supports reports whether an adapter is registered for platform.
func (r *Registry) Supports(platform domain.Platform) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[platform]
	return ok
}

// New creates an adapter for platform, or wraps domain.ErrUnsupportedPlatform.
func (r *Registry) New(platform domain.Platform) (Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[platform]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedPlatform, platform)
	}
	return factory(), nil
}

// Platforms lists registered platforms in name order.
func (r *Registry) Platforms() []domain.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Platform, 0, len(r.factories))
	for p := range r.factories {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
