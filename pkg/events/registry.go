package events

import (
	"sync"
)

// Listener receives events from a Registry
type Listener interface {
	Event(ev Event)
}

// ListenerFunc adapts a function to a Listener
type ListenerFunc func(ev Event)

// Event calls f(ev)
func (f ListenerFunc) Event(ev Event) { f(ev) }

// ListenerID identifies a registration
type ListenerID uint64

type subscription struct {
	id       ListenerID
	listener Listener
}

// Registry is an ordered set of listeners.
//
// Thread Safety: All methods are thread-safe. Listeners are invoked without
// the registry lock held, so a listener may add or remove registrations;
// the change applies from the next Publish.
type Registry struct {
	mu     sync.RWMutex
	nextID ListenerID
	subs   []subscription
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers a listener and returns its id
func (r *Registry) Add(l Listener) ListenerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.subs = append(r.subs, subscription{id: r.nextID, listener: l})
	return r.nextID
}

// Remove drops a registration. Unknown ids are ignored.
func (r *Registry) Remove(id ListenerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.subs {
		if s.id == id {
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered listeners
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Publish delivers ev to every listener in registration order
func (r *Registry) Publish(ev Event) {
	r.mu.RLock()
	subs := make([]subscription, len(r.subs))
	copy(subs, r.subs)
	r.mu.RUnlock()

	for _, s := range subs {
		s.listener.Event(ev)
	}
}
