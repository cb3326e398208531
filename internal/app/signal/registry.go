/*
Package signal implements the realtime presence and signaling core.

This file defines the Registry, the authoritative map from user id to the set of live
connections representing that user.
*/
package signal

import (
	"slices"
	"sync"
)

// Registry tracks every live connection and, for identified connections, the user each belongs to.
//
// A user id is present in users if and only if at least one live connection is registered for it.
// Mutations happen on the hub goroutine; reads may come from any goroutine.
type Registry struct {
	// mu protects all three maps.
	mu sync.RWMutex

	// conns holds every live connection, identified or not, keyed by connection id.
	conns map[string]*Client

	// owners maps an identified connection id to its user id.
	owners map[string]string

	// users maps a user id to its connections, keyed by connection id.
	users map[string]map[string]*Client
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*Client),
		owners: make(map[string]string),
		users:  make(map[string]map[string]*Client),
	}
}

// Track adds a freshly connected, still unidentified connection.
func (r *Registry) Track(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[c.id] = c
}

// Register associates the connection with userID.
// It reports true when this is the user's first live connection (offline to online).
// Re-registering the same connection under the same id is a no-op.
func (r *Registry) Register(userID string, c *Client) (firstConnection bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, owned := r.owners[c.id]; owned && prev != userID {
		// Callers unregister first so they can announce the old id going offline.
		r.unregisterLocked(c.id)
	}

	r.conns[c.id] = c
	r.owners[c.id] = userID

	set, ok := r.users[userID]
	if !ok {
		set = make(map[string]*Client)
		r.users[userID] = set
	}
	set[c.id] = c

	return !ok
}

// Unregister detaches the connection from its user but keeps it tracked.
// It returns the former user id and whether that was the user's last connection
// (online to offline). Unknown or unidentified connections return ("", false).
func (r *Registry) Unregister(connID string) (userID string, lastConnection bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.unregisterLocked(connID)
}

// Remove forgets the connection entirely, unregistering it first if identified.
// ok is false when the connection was not tracked, which makes repeated removal a no-op.
func (r *Registry) Remove(connID string) (userID string, lastConnection bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok = r.conns[connID]; !ok {
		return "", false, false
	}

	userID, lastConnection = r.unregisterLocked(connID)
	delete(r.conns, connID)

	return userID, lastConnection, true
}

func (r *Registry) unregisterLocked(connID string) (string, bool) {
	userID, ok := r.owners[connID]
	if !ok {
		return "", false
	}
	delete(r.owners, connID)

	set := r.users[userID]
	delete(set, connID)

	if len(set) == 0 {
		delete(r.users, userID)
		return userID, true
	}

	return userID, false
}

// ListOnline returns the sorted ids of users with at least one live connection.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	online := make([]string, 0, len(r.users))
	for userID := range r.users {
		online = append(online, userID)
	}
	slices.Sort(online)

	return online
}

// IsOnline reports whether userID has a live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.users[userID]
	return ok
}

// OnlineCount returns the number of users with at least one live connection.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.users)
}

// Tracked reports whether the connection is still live.
func (r *Registry) Tracked(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.conns[connID]
	return ok
}

// ConnectionCount returns the number of live connections registered for userID.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.users[userID])
}

// ConnectionsOf returns a snapshot of the connections registered for userID.
func (r *Registry) ConnectionsOf(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.users[userID]
	out := make([]*Client, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}

	return out
}

// All returns a snapshot of every live connection.
func (r *Registry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}

	return out
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}
