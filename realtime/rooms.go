package realtime

import (
	"sort"
	"sync"
)

// Rooms holds the many-to-many relation between sessions and room ids.
// Both directions are indexed so a disconnecting session can be dropped from
// every room it joined.
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[SessionID]struct{}
	joined  map[SessionID]map[string]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[string]map[SessionID]struct{}),
		joined:  make(map[SessionID]map[string]struct{}),
	}
}

// Join is idempotent.
func (r *Rooms) Join(sessionID SessionID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.members[roomID]
	if !ok {
		set = make(map[SessionID]struct{})
		r.members[roomID] = set
	}
	set[sessionID] = struct{}{}

	rooms, ok := r.joined[sessionID]
	if !ok {
		rooms = make(map[string]struct{})
		r.joined[sessionID] = rooms
	}
	rooms[roomID] = struct{}{}
}

// Leave is a no-op if the session is not in the room.
func (r *Rooms) Leave(sessionID SessionID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(sessionID, roomID)
}

// LeaveAll removes the session from every room and returns the rooms it left.
func (r *Rooms) LeaveAll(sessionID SessionID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	left := make([]string, 0, len(r.joined[sessionID]))
	for roomID := range r.joined[sessionID] {
		left = append(left, roomID)
	}
	for _, roomID := range left {
		r.leaveLocked(sessionID, roomID)
	}
	sort.Strings(left)
	return left
}

func (r *Rooms) leaveLocked(sessionID SessionID, roomID string) {
	if set, ok := r.members[roomID]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.members, roomID)
		}
	}
	if rooms, ok := r.joined[sessionID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(r.joined, sessionID)
		}
	}
}

// Members returns a snapshot of the sessions joined to roomID.
func (r *Rooms) Members(roomID string) []SessionID {
	r.mu.RLock()
	set := r.members[roomID]
	out := make([]SessionID, 0, len(set))
	for sid := range set {
		out = append(out, sid)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RoomsOf returns the rooms the session is joined to, sorted.
func (r *Rooms) RoomsOf(sessionID SessionID) []string {
	r.mu.RLock()
	rooms := make([]string, 0, len(r.joined[sessionID]))
	for roomID := range r.joined[sessionID] {
		rooms = append(rooms, roomID)
	}
	r.mu.RUnlock()

	sort.Strings(rooms)
	return rooms
}

func (r *Rooms) IsMember(sessionID SessionID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[roomID][sessionID]
	return ok
}

// Counts returns the number of joined sessions per non-empty room.
func (r *Rooms) Counts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int, len(r.members))
	for roomID, set := range r.members {
		counts[roomID] = len(set)
	}
	return counts
}
