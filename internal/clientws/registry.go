package clientws

import (
	"context"
	"sync"
)

// Registry keeps at most one widget connection per session key.
type Registry struct {
	mu      sync.Mutex
	conns   map[string]*Conn
	changed chan struct{}
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Conn), changed: make(chan struct{})}
}

// Replace sets the connection for a session and closes the previous one if present.
func (r *Registry) Replace(key string, c *Conn) (replaced bool) {
	r.mu.Lock()
	old := r.conns[key]
	r.conns[key] = c
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()

	if old != nil && old != c {
		old.shutdown("replaced")
		replaced = true
	}
	return replaced
}

func (r *Registry) Get(key string) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[key]
}

// Remove drops c if it is still the registered connection for key.
func (r *Registry) Remove(key string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[key] == c {
		delete(r.conns, key)
	}
}

// Wait blocks until a live connection for key is registered.
func (r *Registry) Wait(ctx context.Context, key string) (*Conn, error) {
	for {
		r.mu.Lock()
		c := r.conns[key]
		changed := r.changed
		r.mu.Unlock()
		if c != nil && !c.Closed() {
			return c, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
