package breaker

import "sync"

// Registry owns the named breaker instances for the process. Breakers are
// built once at startup by the composition root; there are no package-level
// singletons.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// Register adds a breaker under its dependency name, replacing any previous entry.
func (r *Registry) Register(b *Breaker) {
	if b == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.breakers[b.Name()] = b
}

// Get returns the breaker for a dependency, or nil when none is registered.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.breakers[name]
}

// States snapshots the current state of every registered breaker, keyed by
// dependency name. Used by the health endpoint.
func (r *Registry) States() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make(map[string]string, len(r.breakers))
	for name, b := range r.breakers {
		states[name] = b.State().String()
	}

	return states
}
