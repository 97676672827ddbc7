package router

import (
	"sync"

	"github.com/strandtools/webrelay/internal/bridge"
	"github.com/strandtools/webrelay/internal/catalog"
)

// sessionState serializes page access for one session. A page is an
// exclusively-owned resource: interaction calls take the write lock and
// run one at a time; read-only calls take the read lock so they run
// concurrently with each other but wait behind any in-flight interaction.
type sessionState struct {
	callMu sync.RWMutex

	mu          sync.Mutex
	aborted     bool
	lastBackend map[catalog.Category]bridge.BackendID
}

func newSessionState() *sessionState {
	return &sessionState{lastBackend: make(map[catalog.Category]bridge.BackendID)}
}

func (s *sessionState) isAborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

func (s *sessionState) abort() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		return false
	}
	s.aborted = true
	return true
}

func (s *sessionState) sticky(category catalog.Category) (bridge.BackendID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.lastBackend[category]
	return id, ok
}

func (s *sessionState) recordBackend(category catalog.Category, id bridge.BackendID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBackend[category] = id
}

// sessionTable tracks per-session state. Sessions are created lazily on
// first dispatch.
type sessionTable struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[string]*sessionState)}
}

func (t *sessionTable) get(id string) *sessionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.sessions[id]
	if !ok {
		st = newSessionState()
		t.sessions[id] = st
	}
	return st
}

func (t *sessionTable) lookup(id string) (*sessionState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.sessions[id]
	return st, ok
}

func (t *sessionTable) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, id)
}
