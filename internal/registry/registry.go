// Package registry implements the peer manager registry of spec.md §4.7: a
// map of peer-id to connection manager, safe under concurrent connection
// shutdown. Grounded in the teacher's own registry-style maps (rain's
// transfer.transfers guarded by transfersM in transfer.go, and
// jayschwa-tulva's PeerManager.peers): one RWMutex guarding map
// lookup/insert/remove and iteration snapshots.
package registry

import (
	"sync"

	"github.com/go-swarm/swarmpeer/internal/connection"
)

// Registry maps remote peer id to its connection Manager.
type Registry struct {
	mu    sync.RWMutex
	conns map[int32]*connection.Manager
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{conns: make(map[int32]*connection.Manager)}
}

// Add registers a connection manager under its remote peer id.
func (r *Registry) Add(peerID int32, m *connection.Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[peerID] = m
}

// Remove drops a connection manager from the registry.
func (r *Registry) Remove(peerID int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, peerID)
}

// Get returns the connection manager for peerID, if present.
func (r *Registry) Get(peerID int32) (*connection.Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.conns[peerID]
	return m, ok
}

// Has reports whether peerID is a known (registered) remote peer. Used to
// validate inbound handshakes on the accept side, per spec.md §4.4.
func (r *Registry) Has(peerID int32) bool {
	_, ok := r.Get(peerID)
	return ok
}

// Snapshot returns a stable copy of the current peerID -> Manager mapping,
// safe to range over while other goroutines mutate the registry.
func (r *Registry) Snapshot() map[int32]*connection.Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int32]*connection.Manager, len(r.conns))
	for k, v := range r.conns {
		out[k] = v
	}
	return out
}

// Each calls fn for every currently-registered connection manager, using a
// Snapshot so fn may safely trigger connection shutdown without deadlocking
// the registry lock.
func (r *Registry) Each(fn func(peerID int32, m *connection.Manager)) {
	for id, m := range r.Snapshot() {
		fn(id, m)
	}
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
