package hub

import "sync"

// Registry keeps one running hub per name.
type Registry struct {
	mu   sync.Mutex
	hubs map[string]*Hub
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{hubs: make(map[string]*Hub)}
}

// Acquire returns the hub for name, starting one if needed. created is
// true when the hub did not exist.
func (r *Registry) Acquire(name string) (h *Hub, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.hubs[name]; ok {
		return h, false
	}
	h = New(name)
	go h.Run()
	r.hubs[name] = h
	return h, true
}

// Get returns the hub for name if it is running.
func (r *Registry) Get(name string) (*Hub, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hubs[name]
	return h, ok
}

// Remove closes and forgets the hub for name.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	h, ok := r.hubs[name]
	delete(r.hubs, name)
	r.mu.Unlock()
	if ok {
		h.Close()
	}
}

// Len returns the number of running hubs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hubs)
}

// CloseAll closes every hub.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	hubs := r.hubs
	r.hubs = make(map[string]*Hub)
	r.mu.Unlock()
	for _, h := range hubs {
		h.Close()
	}
}
