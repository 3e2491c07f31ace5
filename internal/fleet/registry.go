package fleet

import (
	"fmt"
	"sync"
)

// Registry is the authoritative mapping from worker name to Handle.
// Only the supervisor registers handles; everything else reads.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handles: make(map[string]*Handle),
	}
}

// Register adds a handle.
func (r *Registry) Register(h *Handle) error {
	if h == nil {
		return fmt.Errorf("cannot register nil worker handle")
	}

	name := h.Name()
	if name == "" {
		return fmt.Errorf("worker handle has empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handles[name]; exists {
		return fmt.Errorf("worker %s already registered", name)
	}

	r.handles[name] = h
	r.order = append(r.order, name)
	return nil
}

// Get returns the handle for name.
func (r *Registry) Get(name string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handles[name]
	return h, ok
}

// All returns every handle in registration order.
func (r *Registry) All() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Handle, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.handles[name])
	}
	return out
}

// ListByCategory returns the handles of a category in registration order.
func (r *Registry) ListByCategory(category string) []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Handle
	for _, name := range r.order {
		if h := r.handles[name]; h.Category() == category {
			out = append(out, h)
		}
	}
	return out
}

// HasCategory reports whether any worker carries the category.
func (r *Registry) HasCategory(category string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, h := range r.handles {
		if h.Category() == category {
			return true
		}
	}
	return false
}

// Names returns the worker names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Clear drops every handle. Used on fleet shutdown only.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handles = make(map[string]*Handle)
	r.order = nil
}
