package server

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const sessionTTL = 24 * time.Hour

// sessionStore holds bearer tokens in memory. Sessions do not survive a
// restart; admins log in again.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]time.Time
	now      func() time.Time
}

func newSessionStore() *sessionStore {
	return &sessionStore{
		sessions: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Create mints a token valid for 24 hours.
func (s *sessionStore) Create() string {
	token := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = s.now().Add(sessionTTL)
	return token
}

// Verify reports whether the token names a live session. Expired tokens are
// dropped on sight.
func (s *sessionStore) Verify(token string) bool {
	if token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	expires, ok := s.sessions[token]
	if !ok {
		return false
	}
	if s.now().After(expires) {
		delete(s.sessions, token)
		return false
	}
	return true
}

// Delete removes a token; deleting an unknown token is a no-op.
func (s *sessionStore) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}
