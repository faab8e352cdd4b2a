package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu          sync.RWMutex
	users       map[string]User
	rooms       map[string]Room
	messages    map[string]Message
	attachments map[string]Attachment
	calls       map[string]Call
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:       make(map[string]User),
		rooms:       make(map[string]Room),
		messages:    make(map[string]Message),
		attachments: make(map[string]Attachment),
		calls:       make(map[string]Call),
	}
}

// PutUser seeds an identity record. Account management lives outside this
// core, so the in-memory store exposes plain setters for it.
func (s *InMemoryStore) PutUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// PutRoom seeds or replaces a room, participant set included.
func (s *InMemoryStore) PutRoom(r Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.rooms[r.ID] = r
}

// MessageCount reports how many messages a room holds.
func (s *InMemoryStore) MessageCount(roomID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.messages {
		if m.RoomID == roomID {
			n++
		}
	}
	return n
}

func (s *InMemoryStore) GetUser(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *InMemoryStore) GetRoom(_ context.Context, id string) (Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	r.Participants = append([]string(nil), r.Participants...)
	return r, nil
}

func (s *InMemoryStore) CreateMessage(_ context.Context, msg Message, attachment *Attachment) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Status == "" {
		msg.Status = "sent"
	}
	if attachment != nil {
		a := *attachment
		if a.Locator == "" {
			a.Locator = "/media/chat/" + uuid.NewString() + "/" + a.Name
		}
		a.Data = append([]byte(nil), a.Data...)
		s.attachments[a.Locator] = a
		msg.FileURL = a.Locator
	}
	s.messages[msg.ID] = msg
	return msg, nil
}

func (s *InMemoryStore) GetAttachment(_ context.Context, locator string) (Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attachments[locator]
	if !ok {
		return Attachment{}, ErrAttachmentNotFound
	}
	a.Data = append([]byte(nil), a.Data...)
	return a, nil
}

func (s *InMemoryStore) CreateCall(_ context.Context, call Call) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	if call.StartedAt.IsZero() {
		call.StartedAt = time.Now().UTC()
	}
	if call.Status == "" {
		call.Status = CallRequesting
	}
	s.calls[call.ID] = call
	return call, nil
}

func (s *InMemoryStore) GetCall(_ context.Context, id string) (Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.calls[id]
	if !ok {
		return Call{}, ErrCallNotFound
	}
	return c, nil
}

func (s *InMemoryStore) TransitionCall(_ context.Context, id string, from, to CallStatus) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return Call{}, ErrCallNotFound
	}
	if c.Status != from {
		return Call{}, ErrCallConflict
	}
	c.Status = to
	if to == CallRejected || to == CallEnded {
		now := time.Now().UTC()
		c.EndedAt = &now
	}
	if to == CallEnded {
		d := c.EndedAt.Sub(c.StartedAt)
		c.Duration = &d
	}
	s.calls[id] = c
	return c, nil
}

func (s *InMemoryStore) Close() error { return nil }
