package session

import (
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session not found")

// Session is the ephemeral per-connection state: who authenticated on the
// connection and which room channels it currently holds. It lives exactly
// as long as the websocket connection and is never shared between
// connections.
type Session struct {
	ConnID      string              `json:"conn_id"`
	UserID      string              `json:"user_id"`
	UserEmail   string              `json:"user_email"`
	Rooms       map[string]struct{} `json:"-"`
	ConnectedAt time.Time           `json:"connected_at"`
}

// Manager owns all live sessions, keyed by connection id.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

func (m *Manager) Create(connID, userID, userEmail string) *Session {
	s := &Session{
		ConnID:      connID,
		UserID:      userID,
		UserEmail:   userEmail,
		Rooms:       make(map[string]struct{}),
		ConnectedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[connID] = s
	return clone(s)
}

func (m *Manager) Get(connID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[connID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Destroy removes the session. Idempotent; destroying an unknown
// connection is a no-op.
func (m *Manager) Destroy(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, connID)
}

// TrackRoom records that the connection joined a room channel.
func (m *Manager) TrackRoom(connID, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[connID]
	if !ok {
		return ErrNotFound
	}
	s.Rooms[roomID] = struct{}{}
	return nil
}

// UntrackRoom forgets a room channel. Idempotent regardless of whether the
// room was ever tracked.
func (m *Manager) UntrackRoom(connID, roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[connID]; ok {
		delete(s.Rooms, roomID)
	}
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func clone(s *Session) *Session {
	c := *s
	c.Rooms = make(map[string]struct{}, len(s.Rooms))
	for r := range s.Rooms {
		c.Rooms[r] = struct{}{}
	}
	return &c
}
