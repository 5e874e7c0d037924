package provider

import (
	"fmt"
	"sync"
)

// Factory constructs a provider instance.
type Factory func() (Provider, error)

// Registry manages the lifecycle of providers. Factories are registered by
// name; instances are created lazily and cached.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		providers: make(map[string]Provider),
	}
}

// Register adds a provider factory under the given name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Get returns the provider registered under name, instantiating it on first
// use.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	if p, ok := r.providers[name]; ok {
		r.mu.RUnlock()
		return p, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	p, err := f()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize provider %s: %w", name, err)
	}
	r.providers[name] = p
	return p, nil
}
