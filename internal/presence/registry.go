// Package presence tracks which users currently have a live, addressable
// connection. The registry is rebuilt from scratch on restart; it is never
// durable truth.
package presence

import (
	"sort"
	"sync"
)

// Conn is the connection handle the registry maps users to. The registry
// compares handles by identity, so implementations must be pointer-like.
type Conn interface {
	Send(data []byte)
}

// Registry is the single source of truth for who can receive a direct push.
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]Conn
	onChange func(online []string)
}

// NewRegistry creates an empty registry. onChange, if non-nil, is invoked
// with a full online snapshot after every registration or removal.
func NewRegistry(onChange func(online []string)) *Registry {
	return &Registry{
		conns:    make(map[string]Conn),
		onChange: onChange,
	}
}

// Register inserts or overwrites the entry for userID. A reconnect from the
// same user replaces the previous handle: last registration wins.
func (r *Registry) Register(userID string, c Conn) {
	r.mu.Lock()
	r.conns[userID] = c
	online := r.onlineLocked()
	r.mu.Unlock()

	r.notify(online)
}

// Remove deletes the entry for userID only if it still points at c. A stale
// disconnect from a superseded connection must not evict the replacement, so
// removal is compare-and-remove by handle identity, never blind removal by
// key. It reports whether an entry was removed.
func (r *Registry) Remove(userID string, c Conn) bool {
	r.mu.Lock()
	cur, ok := r.conns[userID]
	if !ok || cur != c {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, userID)
	online := r.onlineLocked()
	r.mu.Unlock()

	r.notify(online)
	return true
}

// Lookup returns the live connection for userID, or nil if offline.
func (r *Registry) Lookup(userID string) Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[userID]
}

// Online returns a sorted snapshot of every online user id.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.onlineLocked()
}

func (r *Registry) onlineLocked() []string {
	online := make([]string, 0, len(r.conns))
	for id := range r.conns {
		online = append(online, id)
	}
	sort.Strings(online)
	return online
}

func (r *Registry) notify(online []string) {
	if r.onChange != nil {
		r.onChange(online)
	}
}
