package presence

import "sync"

// Hub keeps all active team presence sessions. At most one session exists
// per team at any time.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*ChannelSession
}

// NewHub is a constructor method for the Hub struct.
func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]*ChannelSession),
	}
}

// GetOrCreate returns the session registered for teamID, creating it with
// the provided factory if none exists. The second return value reports
// whether a new session was created. The factory runs under the hub lock so
// two racing opens can not produce two sessions for the same team.
func (h *Hub) GetOrCreate(teamID string, factory func() *ChannelSession) (*ChannelSession, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if session, ok := h.sessions[teamID]; ok {
		return session, false
	}

	session := factory()
	h.sessions[teamID] = session
	return session, true
}

// Get ...
func (h *Hub) Get(teamID string) (*ChannelSession, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	session, ok := h.sessions[teamID]
	return session, ok
}

// Remove deletes the session for teamID and returns it. Removing a team
// with no session is a no-op.
func (h *Hub) Remove(teamID string) (*ChannelSession, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	session, ok := h.sessions[teamID]
	if !ok {
		return nil, false
	}
	delete(h.sessions, teamID)
	return session, true
}

// NumSessions ...
func (h *Hub) NumSessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.sessions)
}

// TeamIDs returns the identifiers of all teams with an active session.
func (h *Hub) TeamIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.sessions))
	for teamID := range h.sessions {
		ids = append(ids, teamID)
	}
	return ids
}
