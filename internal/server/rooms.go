package server

import (
	"sort"
	"sync"

	"github.com/Tyrowin/gocollab/internal/access"
)

// room is the set of connections collaborating on one resource.
type room struct {
	key          string
	resourceType access.ResourceType
	resourceID   string

	mu           sync.RWMutex
	participants map[*Client]struct{}
	// dead is set when the last participant leaves. A dead room is already
	// gone from the registry map and must not gain participants.
	dead bool
}

func (rm *room) userIDsLocked() []string {
	seen := make(map[string]struct{}, len(rm.participants))
	ids := make([]string, 0, len(rm.participants))
	for c := range rm.participants {
		if _, ok := seen[c.UserID()]; ok {
			continue
		}
		seen[c.UserID()] = struct{}{}
		ids = append(ids, c.UserID())
	}
	sort.Strings(ids)
	return ids
}

// roomRegistry owns every live room. Lock order is room then registry; the
// registry lock is never held while taking a room lock.
type roomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

func newRoomRegistry() *roomRegistry {
	return &roomRegistry{rooms: make(map[string]*room)}
}

// joinResult describes the room right after a join.
type joinResult struct {
	key          string
	participants []string
	count        int
	alreadyIn    bool
}

func (r *roomRegistry) getOrCreate(rt access.ResourceType, resourceID string) *room {
	key := access.RoomKey(rt, resourceID)

	r.mu.RLock()
	rm, ok := r.rooms[key]
	r.mu.RUnlock()
	if ok {
		return rm
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[key]; ok {
		return rm
	}
	rm = &room{
		key:          key,
		resourceType: rt,
		resourceID:   resourceID,
		participants: make(map[*Client]struct{}),
	}
	r.rooms[key] = rm
	return rm
}

// join adds c to the resource's room, creating it on demand.
func (r *roomRegistry) join(c *Client, rt access.ResourceType, resourceID string) joinResult {
	for {
		rm := r.getOrCreate(rt, resourceID)

		rm.mu.Lock()
		if rm.dead {
			// Emptied between lookup and lock; the next lookup creates a fresh room.
			rm.mu.Unlock()
			continue
		}
		_, already := rm.participants[c]
		rm.participants[c] = struct{}{}
		res := joinResult{
			key:          rm.key,
			participants: rm.userIDsLocked(),
			count:        len(rm.participants),
			alreadyIn:    already,
		}
		rm.mu.Unlock()
		return res
	}
}

// leave removes c from the room. It reports the remaining participant count
// and whether c was a participant. The room is deleted when it empties.
func (r *roomRegistry) leave(c *Client, key string) (int, bool) {
	r.mu.RLock()
	rm, ok := r.rooms[key]
	r.mu.RUnlock()
	if !ok {
		return 0, false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if _, ok := rm.participants[c]; !ok {
		return len(rm.participants), false
	}
	delete(rm.participants, c)
	remaining := len(rm.participants)
	if remaining == 0 {
		rm.dead = true
		r.mu.Lock()
		if r.rooms[key] == rm {
			delete(r.rooms, key)
		}
		r.mu.Unlock()
	}
	return remaining, true
}

func (r *roomRegistry) lookup(key string) *room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[key]
}

// participants returns a snapshot of the room's connections.
func (r *roomRegistry) participants(key string) []*Client {
	rm := r.lookup(key)
	if rm == nil {
		return nil
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]*Client, 0, len(rm.participants))
	for c := range rm.participants {
		out = append(out, c)
	}
	return out
}

func (r *roomRegistry) isParticipant(key string, c *Client) bool {
	rm := r.lookup(key)
	if rm == nil {
		return false
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	_, ok := rm.participants[c]
	return ok && !rm.dead
}

// userIDs returns the distinct sorted user ids in the room.
func (r *roomRegistry) userIDs(key string) []string {
	rm := r.lookup(key)
	if rm == nil {
		return nil
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	if rm.dead {
		return nil
	}
	return rm.userIDsLocked()
}

func (r *roomRegistry) exists(key string) bool {
	return r.lookup(key) != nil
}

// keys returns the sorted keys of every live room.
func (r *roomRegistry) keys() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.rooms))
	for key := range r.rooms {
		out = append(out, key)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (r *roomRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
