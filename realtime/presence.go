package realtime

import (
	"sort"
	"sync"
)

// SessionID is the opaque id the transport assigns to one live connection.
type SessionID string

// Presence maps a user id to its single live session. A second Register for
// the same user overwrites the first; the superseded session is not told.
type Presence struct {
	mu       sync.RWMutex
	sessions map[string]SessionID
}

func NewPresence() *Presence {
	return &Presence{sessions: make(map[string]SessionID)}
}

func (p *Presence) Register(userID string, sessionID SessionID) {
	p.mu.Lock()
	p.sessions[userID] = sessionID
	p.mu.Unlock()
}

// Unregister is a no-op for unknown users.
func (p *Presence) Unregister(userID string) {
	p.mu.Lock()
	delete(p.sessions, userID)
	p.mu.Unlock()
}

func (p *Presence) Lookup(userID string) (SessionID, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	sid, ok := p.sessions[userID]
	return sid, ok
}

// LiveUserIDs returns the ids of every registered user, sorted.
func (p *Presence) LiveUserIDs() []string {
	p.mu.RLock()
	ids := make([]string, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	p.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

func (p *Presence) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}
