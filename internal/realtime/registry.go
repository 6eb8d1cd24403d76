package realtime

import (
	"sync"

	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

// SessionRegistry maps each user to their live, authenticated sessions.
// Readers receive snapshots and never hold the lock while delivering.
type SessionRegistry struct {
	mu     sync.RWMutex
	byUser map[vitals.UserID]map[string]*Session
	total  int
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		byUser: make(map[vitals.UserID]map[string]*Session),
	}
}

// Register adds an authenticated session under its user. Registering the same
// session twice is a no-op, as is registering one with no user.
func (r *SessionRegistry) Register(s *Session) {
	userID := s.UserID()
	if userID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, ok := r.byUser[userID]
	if !ok {
		sessions = make(map[string]*Session)
		r.byUser[userID] = sessions
	}
	if _, exists := sessions[s.ID()]; exists {
		return
	}
	sessions[s.ID()] = s
	r.total++
}

// Unregister removes the session. Unknown sessions are ignored.
func (r *SessionRegistry) Unregister(s *Session) {
	userID := s.UserID()
	if userID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, ok := r.byUser[userID]
	if !ok {
		return
	}
	if _, exists := sessions[s.ID()]; !exists {
		return
	}
	delete(sessions, s.ID())
	r.total--
	if len(sessions) == 0 {
		delete(r.byUser, userID)
	}
}

// SessionsFor returns a snapshot of the user's sessions.
func (r *SessionRegistry) SessionsFor(userID vitals.UserID) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := r.byUser[userID]
	if len(sessions) == 0 {
		return nil
	}
	out := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of registered sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// Users returns the number of users with at least one session.
func (r *SessionRegistry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
