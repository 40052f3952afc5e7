package broker

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the set of currently connected subscribers. Broadcasts iterate
// a snapshot, so register and unregister only wait for the copy to finish.
type Registry struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscriber
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		subs: make(map[uuid.UUID]*Subscriber),
	}
}

// Register adds s. It returns false if s is already registered.
func (r *Registry) Register(s *Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.subs[s.id]; exists {
		return false
	}
	r.subs[s.id] = s
	return true
}

// Unregister removes s. Removing a subscriber that is not registered is a no-op
// and returns false.
func (r *Registry) Unregister(s *Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.subs[s.id]; !exists {
		return false
	}
	delete(r.subs, s.id)
	return true
}

// Snapshot returns a point-in-time copy of the registered subscribers.
func (r *Registry) Snapshot() []*Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	return out
}

// Len returns the number of registered subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// drain removes and returns every subscriber.
func (r *Registry) drain() []*Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Subscriber, 0, len(r.subs))
	for id, s := range r.subs {
		out = append(out, s)
		delete(r.subs, id)
	}
	return out
}
