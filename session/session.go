// Package session tracks which coordination-store sessions are alive. It is
// the session manager: the named mutex's owner node carries a session id,
// and acquiring the mutex needs to know whether that session's owning
// process is still connected.
package session

import (
	"sync"

	"github.com/google/uuid"
)

// ID identifies a coordination-store session.
type ID uuid.UUID

// String renders the session id.
func (id ID) String() string { return uuid.UUID(id).String() }

// Nil is the zero session id.
var Nil ID

// Manager tracks live sessions.
type Manager struct {
	mu    sync.RWMutex
	alive map[ID]bool
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{alive: make(map[ID]bool)}
}

// New starts a new session and marks it alive.
func (m *Manager) New() ID {
	id := ID(uuid.New())
	m.mu.Lock()
	m.alive[id] = true
	m.mu.Unlock()
	return id
}

// IsAlive reports whether id is a currently-connected session. An unknown id
// (never registered, or already ended) reports false.
func (m *Manager) IsAlive(id ID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.alive[id]
}

// End marks id as disconnected. It is idempotent.
func (m *Manager) End(id ID) {
	m.mu.Lock()
	delete(m.alive, id)
	m.mu.Unlock()
}
