package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrRoomNotFound       = errors.New("room not found")
	ErrCallNotFound       = errors.New("call not found")
	ErrAttachmentNotFound = errors.New("attachment not found")
	// ErrCallConflict means the call was not in the expected status when a
	// transition was attempted.
	ErrCallConflict = errors.New("call status conflict")
)

// User is the identity record resolved during the handshake. Accounts are
// managed by the REST layer; this core only reads them.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Room is a persisted chat room with its live participant set.
type Room struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Participants []string  `json:"participants"`
	Active       bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasParticipant reports whether the user is currently in the room.
func (r Room) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
	MessageVoice MessageType = "voice"
)

// Message is an immutable chat event, written exactly once.
type Message struct {
	ID          string      `json:"id"`
	RoomID      string      `json:"room_id"`
	SenderID    string      `json:"sender_id"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"message_type"`
	Status      string      `json:"status"`
	FileName    string      `json:"file_name,omitempty"`
	FileType    string      `json:"file_type,omitempty"`
	FileSize    int64       `json:"file_size,omitempty"`
	FileURL     string      `json:"file_url,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

type CallStatus string

const (
	CallRequesting CallStatus = "requesting"
	CallOngoing    CallStatus = "ongoing"
	CallRejected   CallStatus = "rejected"
	CallEnded      CallStatus = "ended"
)

// Call records one pairwise call. Status follows
// requesting -> ongoing -> ended, or requesting -> rejected; rejected and
// ended are terminal. Duration is set only when the call ended.
type Call struct {
	ID          string         `json:"id"`
	RoomID      string         `json:"room_id"`
	InitiatorID string         `json:"initiator_id"`
	ReceiverID  string         `json:"receiver_id"`
	CallType    string         `json:"call_type"`
	Status      CallStatus     `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	EndedAt     *time.Time     `json:"ended_at,omitempty"`
	Duration    *time.Duration `json:"duration,omitempty"`
}

// OtherParty returns the participant that is not userID.
func (c Call) OtherParty(userID string) string {
	if userID == c.InitiatorID {
		return c.ReceiverID
	}
	return c.InitiatorID
}

// IsParty reports whether userID is the initiator or the receiver.
func (c Call) IsParty(userID string) bool {
	return userID == c.InitiatorID || userID == c.ReceiverID
}

// Attachment holds decoded file bytes addressed by a retrieval locator.
type Attachment struct {
	Locator string
	Name    string
	MIME    string
	Data    []byte
}

// Store persists the records the communications core operates on. Room
// participant sets are always read live; callers must not cache them
// across a membership decision.
type Store interface {
	GetUser(ctx context.Context, id string) (User, error)
	GetRoom(ctx context.Context, id string) (Room, error)

	// CreateMessage persists the message and, when attachment is non-nil,
	// its bytes as a single durable write. The returned message has its
	// id, timestamp and file locator filled in.
	CreateMessage(ctx context.Context, msg Message, attachment *Attachment) (Message, error)
	GetAttachment(ctx context.Context, locator string) (Attachment, error)

	CreateCall(ctx context.Context, call Call) (Call, error)
	GetCall(ctx context.Context, id string) (Call, error)
	// TransitionCall atomically moves a call from one status to another,
	// stamping ended_at on terminal transitions and duration when the
	// call ends. It fails with ErrCallConflict if the call is not in the
	// expected status.
	TransitionCall(ctx context.Context, id string, from, to CallStatus) (Call, error)

	Close() error
}
