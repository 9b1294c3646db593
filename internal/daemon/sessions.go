package daemon

import (
	"sync"
	"time"

	"github.com/simpleflo/lattice/pkg/models"
)

// sessionIdleTimeout is how long a session survives without a turn.
const sessionIdleTimeout = 2 * time.Hour

type session struct {
	history  []models.ChatMessage
	lastUsed time.Time
}

// SessionStore keeps per-session conversation history in memory.
type SessionStore struct {
	mu         sync.RWMutex
	sessions   map[string]*session
	maxHistory int
}

// NewSessionStore creates a store with the given per-session history
// bound.
func NewSessionStore(maxHistory int) *SessionStore {
	if maxHistory <= 0 {
		maxHistory = models.MaxHistoryLength
	}
	return &SessionStore{
		sessions:   make(map[string]*session),
		maxHistory: maxHistory,
	}
}

// History returns a copy of the session's conversation, or nil for an
// unknown session.
func (s *SessionStore) History(sessionID string) []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	return append([]models.ChatMessage(nil), sess.history...)
}

// Save stores the session's conversation, trimming to the history
// bound.
func (s *SessionStore) Save(sessionID string, history []models.ChatMessage) {
	if over := len(history) - s.maxHistory; over > 0 {
		history = history[over:]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = &session{
		history:  append([]models.ChatMessage(nil), history...),
		lastUsed: time.Now(),
	}
}

// Delete drops a session. It reports whether the session existed.
func (s *SessionStore) Delete(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	return ok
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Prune removes sessions idle longer than the given duration and
// returns how many were dropped.
func (s *SessionStore) Prune(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)
	s.mu.Lock()
	defer s.mu.Unlock()
	var pruned int
	for id, sess := range s.sessions {
		if sess.lastUsed.Before(cutoff) {
			delete(s.sessions, id)
			pruned++
		}
	}
	return pruned
}
