package session

import (
	"sort"
	"sync"
)

// Registry is a concurrency-safe index of open sessions, keyed by session id.
type Registry struct {
	mu    sync.RWMutex
	store Store
}

// NewRegistry returns a Registry backed by an InMemoryStore.
func NewRegistry() *Registry {
	return NewRegistryWithStore(NewInMemoryStore())
}

// NewRegistryWithStore returns a Registry that uses the given Store.
func NewRegistryWithStore(store Store) *Registry {
	return &Registry{store: store}
}

// Add stores a newly opened session.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store.Set(s)
}

// Get returns the open session with the given id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.Get(id)
}

// Remove drops the session with the given id and returns it, if any.
func (r *Registry) Remove(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.store.Get(id)
	if !ok {
		return nil, false
	}
	r.store.Delete(id)
	return s, true
}

// RemoveAll drops every session and returns them.
func (r *Registry) RemoveAll() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.store.IDs()
	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.store.Get(id); ok {
			out = append(out, s)
		}
		r.store.Delete(id)
	}
	return out
}

// IDs returns the ids of the open sessions, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.store.IDs()
	sort.Strings(ids)
	return ids
}

// Len returns the number of open sessions. Used for metrics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store.IDs())
}
