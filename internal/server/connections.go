package server

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const userBuckets = 32

type userBucket struct {
	mu    sync.RWMutex
	users map[string]map[*Client]struct{}

	// presence serializes a user's online/offline transition together with
	// its fan-out, so observers see transitions in the order they happened.
	// It is never taken while holding mu.
	presence sync.Mutex
}

// connRegistry maps user ids to their live connections. Users are spread over
// independently locked buckets so unrelated users never contend.
type connRegistry struct {
	buckets [userBuckets]userBucket
}

func newConnRegistry() *connRegistry {
	r := &connRegistry{}
	for i := range r.buckets {
		r.buckets[i].users = make(map[string]map[*Client]struct{})
	}
	return r
}

func (r *connRegistry) bucket(userID string) *userBucket {
	return &r.buckets[xxhash.Sum64String(userID)%userBuckets]
}

// presenceLock returns the lock ordering userID's presence transitions.
func (r *connRegistry) presenceLock(userID string) *sync.Mutex {
	return &r.bucket(userID).presence
}

// add registers c and reports whether it is the user's first live connection.
func (r *connRegistry) add(c *Client) bool {
	b := r.bucket(c.UserID())
	b.mu.Lock()
	defer b.mu.Unlock()

	conns, ok := b.users[c.UserID()]
	if !ok {
		conns = make(map[*Client]struct{})
		b.users[c.UserID()] = conns
	}
	conns[c] = struct{}{}
	return !ok
}

// remove unregisters c and reports whether it was the user's last live
// connection. Removing an unknown connection is a no-op returning false.
func (r *connRegistry) remove(c *Client) bool {
	b := r.bucket(c.UserID())
	b.mu.Lock()
	defer b.mu.Unlock()

	conns, ok := b.users[c.UserID()]
	if !ok {
		return false
	}
	if _, ok := conns[c]; !ok {
		return false
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(b.users, c.UserID())
		return true
	}
	return false
}

// connectionsOf returns a snapshot of userID's live connections.
func (r *connRegistry) connectionsOf(userID string) []*Client {
	b := r.bucket(userID)
	b.mu.RLock()
	defer b.mu.RUnlock()

	conns := b.users[userID]
	out := make([]*Client, 0, len(conns))
	for c := range conns {
		out = append(out, c)
	}
	return out
}

// all returns a snapshot of every live connection.
func (r *connRegistry) all() []*Client {
	var out []*Client
	for i := range r.buckets {
		b := &r.buckets[i]
		b.mu.RLock()
		for _, conns := range b.users {
			for c := range conns {
				out = append(out, c)
			}
		}
		b.mu.RUnlock()
	}
	return out
}

// users returns the sorted ids of users with at least one live connection.
func (r *connRegistry) users() []string {
	var out []string
	for i := range r.buckets {
		b := &r.buckets[i]
		b.mu.RLock()
		for userID := range b.users {
			out = append(out, userID)
		}
		b.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

func (r *connRegistry) isOnline(userID string) bool {
	b := r.bucket(userID)
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.users[userID]) > 0
}

// count returns the number of online users and live connections.
func (r *connRegistry) count() (users, conns int) {
	for i := range r.buckets {
		b := &r.buckets[i]
		b.mu.RLock()
		users += len(b.users)
		for _, set := range b.users {
			conns += len(set)
		}
		b.mu.RUnlock()
	}
	return users, conns
}
