package websocket

import (
	"sync"

	"github.com/google/uuid"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/metrics"
)

// Registry tracks every open connection by its connection id
// RWMutex: lookups (signal targets, IsOpen) far outnumber registrations
type Registry struct {
	mu    sync.RWMutex
	conns map[string]interfaces.Connection
	max   int
	newID func() string
}

// NewRegistry creates a registry holding at most maxConnections (0 = unbounded)
func NewRegistry(maxConnections int) *Registry {
	return &Registry{
		conns: make(map[string]interfaces.Connection),
		max:   maxConnections,
		newID: uuid.NewString,
	}
}

// Register assigns a fresh connection id and marks the connection open
func (r *Registry) Register(conn interfaces.Connection) (string, error) {
	if conn == nil {
		return "", ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.max > 0 && len(r.conns) >= r.max {
		metrics.RefusedConnections.Inc()
		return "", ErrCapacityExceeded
	}

	id := r.newID()
	for r.conns[id] != nil {
		id = r.newID()
	}
	conn.SetID(id)
	r.conns[id] = conn
	metrics.OpenConnections.Inc()
	return id, nil
}

// Unregister removes id and reports whether this call removed it
// Only the first caller for a given id gets true
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	metrics.OpenConnections.Dec()
	return true
}

// IsOpen reports whether id is currently registered
func (r *Registry) IsOpen(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}

// Get resolves an open connection by id
func (r *Registry) Get(id string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Count returns the number of open connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// AtCapacity reports whether a new registration would be refused
func (r *Registry) AtCapacity() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.max > 0 && len(r.conns) >= r.max
}

// All returns a snapshot of open connections
func (r *Registry) All() []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]interfaces.Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Stats returns registry statistics for monitoring
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"open_connections": len(r.conns),
		"max_connections":  r.max,
	}
}
