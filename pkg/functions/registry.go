package functions

import (
	"sync"

	"github.com/fnworks/fnworker/pkg/fnerrors"
)

// entry pairs a descriptor with the handler that executes it.
type entry struct {
	descriptor *Descriptor
	handler    Handler
}

// Registry maps function ids to loaded functions. Registration happens during
// the load phase; Seal makes the registry read-only, after which lookups need
// no synchronization guarantees beyond the mutex it already holds.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	sealed  bool
}

// NewRegistry creates an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a function under its id. Registering a duplicate id or
// registering after Seal is rejected.
func (r *Registry) Register(d *Descriptor, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fnerrors.NewLoadError("registry is sealed, no further loads accepted", nil).
			WithCode(fnerrors.CodeRegistrySealed).
			WithFunction(d.ID)
	}
	if _, exists := r.entries[d.ID]; exists {
		return fnerrors.NewLoadError("function id already registered", nil).
			WithCode(fnerrors.CodeDuplicateFunction).
			WithFunction(d.ID)
	}
	r.entries[d.ID] = entry{descriptor: d, handler: h}
	return nil
}

// Seal marks the end of the load phase. Idempotent.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether the load phase has ended.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Lookup returns the descriptor and handler for a function id.
func (r *Registry) Lookup(id string) (*Descriptor, Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, nil, fnerrors.NewDecodeError("function not loaded", nil).
			WithCode(fnerrors.CodeFunctionNotFound).
			WithFunction(id)
	}
	return e.descriptor, e.handler, nil
}

// Len returns the number of loaded functions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
