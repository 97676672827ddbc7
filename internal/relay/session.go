package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Header names used to carry session identity and tool-surface profile.
const (
	headerSessionID = "Relay-Session-Id"
	headerProfile   = "Relay-Profile"
)

// Session is one client's view of the broker: a stable ID for routing
// affinity plus the profile that scopes its visible tool surface.
type Session struct {
	ID      string    `json:"id"`
	Profile string    `json:"profile"`
	Created time.Time `json:"created"`
}

type sessionManager struct {
	mu             sync.RWMutex
	sessions       map[string]*Session
	defaultProfile string
}

func newSessionManager(defaultProfile string) *sessionManager {
	return &sessionManager{
		sessions:       make(map[string]*Session),
		defaultProfile: defaultProfile,
	}
}

// resolve returns the session for the given ID, minting one when the ID
// is empty or unknown. A non-empty profile updates the session.
func (m *sessionManager) resolve(id, profile string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == "" {
		id = uuid.New().String()
	}
	s, ok := m.sessions[id]
	if !ok {
		s = &Session{ID: id, Profile: m.defaultProfile, Created: time.Now()}
		m.sessions[id] = s
	}
	if profile != "" {
		s.Profile = profile
	}
	return s
}

func (m *sessionManager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

func (m *sessionManager) count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
