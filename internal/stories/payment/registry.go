package payment

import (
	"fmt"
	"slices"
	"sync"

	"github.com/samber/lo"

	"paykit/internal/stories/catalog"
)

// Registry maps method IDs to backends. Backends are registered at start-up.
type Registry struct {
	mu       sync.RWMutex
	backends map[catalog.MethodID]Backend
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[catalog.MethodID]Backend)}
}

func (r *Registry) Register(method catalog.MethodID, backend Backend) error {
	if method == "" || backend == nil {
		return fmt.Errorf("%w: empty method or backend", ErrConfiguration)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.backends[method]; ok {
		return fmt.Errorf("%w: backend for %s already registered", ErrConfiguration, method)
	}
	r.backends[method] = backend
	return nil
}

func (r *Registry) Lookup(method catalog.MethodID) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[method]
	return b, ok
}

// Methods returns the registered method IDs, sorted.
func (r *Registry) Methods() []catalog.MethodID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	methods := lo.Keys(r.backends)
	slices.Sort(methods)
	return methods
}
