package sessions

import (
	"sync"

	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/observability"
)

// Manager is the process-wide session registry. It maintains the session
// map and the group membership map under one lock; every iteration works
// on a snapshot so sends never happen while the lock is held.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	groups   map[string]map[string]*Session
	logger   observability.Logger
}

// NewManager creates an empty session manager
func NewManager(logger observability.Logger) *Manager {
	if logger == nil {
		logger = observability.NewLogger("sessions")
	}
	return &Manager{
		sessions: make(map[string]*Session),
		groups:   make(map[string]map[string]*Session),
		logger:   logger,
	}
}

// Create registers a new session. An empty id gets a generated UUID.
func (m *Manager) Create(id string, sendBuffer int) *Session {
	s := newSession(id, sendBuffer)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.logger.Debug("session created", map[string]interface{}{"session_id": s.ID})
	return s
}

// Get returns the session with the given id
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// AddToGroup adds the session to a group, creating the group on first use
func (m *Manager) AddToGroup(group, sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	members, ok := m.groups[group]
	if !ok {
		members = make(map[string]*Session)
		m.groups[group] = members
	}
	members[sessionID] = s
	return true
}

// RemoveFromGroup removes the session from a group. A group left empty is
// purged.
func (m *Manager) RemoveFromGroup(group, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeFromGroupLocked(group, sessionID)
}

func (m *Manager) removeFromGroupLocked(group, sessionID string) {
	members, ok := m.groups[group]
	if !ok {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(m.groups, group)
	}
}

// Groups returns the groups the session currently belongs to
func (m *Manager) Groups(sessionID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for name, members := range m.groups {
		if _, ok := members[sessionID]; ok {
			out = append(out, name)
		}
	}
	return out
}

// GroupMembers returns a snapshot of the session ids in a group
func (m *Manager) GroupMembers(group string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members := m.groups[group]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// SendToGroup delivers a message to every member of the group
func (m *Manager) SendToGroup(group string, message []byte) {
	for _, s := range m.snapshotGroup(group) {
		if err := s.Send(message); err != nil {
			m.logger.Warn("group send failed", map[string]interface{}{
				"session_id": s.ID,
				"group":      group,
				"error":      err.Error(),
			})
		}
	}
}

// Broadcast delivers a message to every session except the excluded ids
func (m *Manager) Broadcast(message []byte, exclude ...string) {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	for _, s := range m.snapshotSessions() {
		if skip[s.ID] {
			continue
		}
		if err := s.Send(message); err != nil {
			m.logger.Warn("broadcast send failed", map[string]interface{}{
				"session_id": s.ID,
				"error":      err.Error(),
			})
		}
	}
}

// Close removes the session from the registry and from every group,
// purging groups left empty, then closes the session's send channel.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, sessionID)
	for group := range m.groups {
		m.removeFromGroupLocked(group, sessionID)
	}
	m.mu.Unlock()

	s.close()
	m.logger.Debug("session closed", map[string]interface{}{"session_id": sessionID})
}

// CloseAll closes every session; used at shutdown
func (m *Manager) CloseAll() {
	for _, s := range m.snapshotSessions() {
		m.Close(s.ID)
	}
}

func (m *Manager) snapshotSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

func (m *Manager) snapshotGroup(group string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members := m.groups[group]
	out := make([]*Session, 0, len(members))
	for _, s := range members {
		out = append(out, s)
	}
	return out
}
