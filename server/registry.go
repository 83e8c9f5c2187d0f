package server

import (
	"sort"
	"sync"
)

// Registry maps an authenticated user id to its live connection. A later
// login for the same user replaces the earlier entry.
type Registry struct {
	mu      sync.RWMutex
	clients map[int64]*Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[int64]*Client)}
}

// Bind installs c as the connection of userID and returns the connection it
// replaced, if any.
func (r *Registry) Bind(userID int64, c *Client) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.clients[userID]
	r.clients[userID] = c
	if prev == c {
		return nil
	}
	return prev
}

// Unbind removes the entry for userID only while it still points at c, so a
// superseded connection cannot evict its replacement.
func (r *Registry) Unbind(userID int64, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clients[userID] != c {
		return false
	}
	delete(r.clients, userID)
	return true
}

func (r *Registry) Lookup(userID int64) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[userID]
	return c, ok
}

func (r *Registry) Online(userID int64) bool {
	_, ok := r.Lookup(userID)
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// UserIDs returns the logged-in user ids in ascending order.
func (r *Registry) UserIDs() []int64 {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
