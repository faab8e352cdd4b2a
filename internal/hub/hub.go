package hub

import "sync"

// Sender delivers one event to a connection's outbound queue without
// blocking. It reports false when the event was dropped (queue full or
// connection closed).
type Sender func(event any) bool

// Hub maps room channels and personal channels to live connections. It is
// rebuilt entry by entry on every join/leave and never consulted as a
// source of room membership truth; authorization always goes back to the
// store first.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]connEntry
	rooms map[string]map[string]struct{}
	users map[string]map[string]struct{}
}

type connEntry struct {
	userID string
	send   Sender
}

func New() *Hub {
	return &Hub{
		conns: make(map[string]connEntry),
		rooms: make(map[string]map[string]struct{}),
		users: make(map[string]map[string]struct{}),
	}
}

// Register binds a connection to its personal channel.
func (h *Hub) Register(connID, userID string, send Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[connID] = connEntry{userID: userID, send: send}
	if h.users[userID] == nil {
		h.users[userID] = make(map[string]struct{})
	}
	h.users[userID][connID] = struct{}{}
}

// Unregister removes the connection from every channel. Idempotent.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.conns[connID]
	if !ok {
		return
	}
	delete(h.conns, connID)
	if set, ok := h.users[entry.userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(h.users, entry.userID)
		}
	}
	for roomID, set := range h.rooms {
		delete(set, connID)
		if len(set) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// JoinRoom subscribes a registered connection to a room channel.
func (h *Hub) JoinRoom(roomID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[connID]; !ok {
		return
	}
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]struct{})
	}
	h.rooms[roomID][connID] = struct{}{}
}

// LeaveRoom unsubscribes unconditionally. Idempotent.
func (h *Hub) LeaveRoom(roomID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.rooms[roomID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// BroadcastRoom sends an event to every connection subscribed to the room
// channel, skipping excludeConnID when non-empty. The subscription set is
// snapshotted under the read lock and sends happen outside it, so a slow
// consumer never stalls joins or other broadcasts. It returns the number
// of queued deliveries.
func (h *Hub) BroadcastRoom(roomID string, event any, excludeConnID string) int {
	h.mu.RLock()
	targets := make([]Sender, 0, len(h.rooms[roomID]))
	for connID := range h.rooms[roomID] {
		if connID == excludeConnID {
			continue
		}
		if entry, ok := h.conns[connID]; ok {
			targets = append(targets, entry.send)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, send := range targets {
		if send(event) {
			delivered++
		}
	}
	return delivered
}

// SendToUser delivers an event to every live connection of one user (the
// personal channel). It returns the number of queued deliveries.
func (h *Hub) SendToUser(userID string, event any) int {
	h.mu.RLock()
	targets := make([]Sender, 0, len(h.users[userID]))
	for connID := range h.users[userID] {
		if entry, ok := h.conns[connID]; ok {
			targets = append(targets, entry.send)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, send := range targets {
		if send(event) {
			delivered++
		}
	}
	return delivered
}

// RoomSize reports how many connections a room channel currently holds.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
