package server

import "sync"

// Registry is the shared mapping from Client to its currently owning
// connection. It is the only cross-request mutable structure in the
// dispatch core and is safe for concurrent use. A Registry is built per
// server (or per test) and injected, never ambient.
type Registry struct {
	mu    sync.RWMutex
	conns map[*Client]*Conn
}

// NewRegistry returns an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[*Client]*Conn)}
}

// register records conn as the owner of client.
func (r *Registry) register(client *Client, conn *Conn) {
	r.mu.Lock()
	r.conns[client] = conn
	r.mu.Unlock()
}

// deregister removes the client entry, but only while conn still owns
// it, so a late destroy cannot evict a successor connection.
func (r *Registry) deregister(client *Client, conn *Conn) {
	r.mu.Lock()
	if r.conns[client] == conn {
		delete(r.conns, client)
	}
	r.mu.Unlock()
}

// lookup returns the connection currently owning client.
func (r *Registry) lookup(client *Client) (*Conn, bool) {
	r.mu.RLock()
	conn, ok := r.conns[client]
	r.mu.RUnlock()
	return conn, ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// snapshot returns the currently registered connections. The slice is a
// copy; holding it does not block the registry.
func (r *Registry) snapshot() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	return conns
}
