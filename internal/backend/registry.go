package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a generator from settings.
type Factory func(ctx context.Context, s Settings) (Generator, error)

// Registry holds the generator backends that can be selected by name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a backend factory under the given name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New constructs the generator registered under name.
func (r *Registry) New(ctx context.Context, name string, s Settings) (Generator, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("backend %q is not registered", name)
	}
	g, err := f(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("construct backend %q: %w", name, err)
	}
	return g, nil
}

// List returns the registered backend names, sorted for a stable API response.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
