package protocol

import (
	"encoding/json"
	"time"

	"github.com/chronicle-live/comms/internal/ice"
)

type JoinRoomResponse struct {
	Type    EventType `json:"type"`
	Status  string    `json:"status"` // success | error
	RoomID  string    `json:"room_id"`
	Message string    `json:"message,omitempty"`
}

type NewMessage struct {
	Type        EventType `json:"type"`
	MessageID   string    `json:"message_id"`
	RoomID      string    `json:"room_id"`
	Sender      string    `json:"sender"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	Timestamp   time.Time `json:"timestamp"`
	FileURL     string    `json:"file_url,omitempty"`
	FileName    string    `json:"file_name,omitempty"`
	FileType    string    `json:"file_type,omitempty"`
	FileSize    int64     `json:"file_size,omitempty"`
}

type UserTyping struct {
	Type   EventType `json:"type"`
	RoomID string    `json:"room_id"`
	User   string    `json:"user"`
}

type IncomingCall struct {
	Type        EventType  `json:"type"`
	CallID      string     `json:"call_id"`
	CallerID    string     `json:"caller_id"`
	CallerEmail string     `json:"caller_email"`
	RoomID      string     `json:"room_id"`
	CallType    string     `json:"call_type"`
	RTCConfig   ice.Config `json:"rtc_config"`
}

type CallAccepted struct {
	Type          EventType  `json:"type"`
	CallID        string     `json:"call_id"`
	ReceiverID    string     `json:"receiver_id"`
	ReceiverEmail string     `json:"receiver_email"`
	RTCConfig     ice.Config `json:"rtc_config"`
}

type CallRejected struct {
	Type   EventType `json:"type"`
	CallID string    `json:"call_id"`
	Reason string    `json:"reason"`
}

type CallEnded struct {
	Type     EventType `json:"type"`
	CallID   string    `json:"call_id"`
	Duration float64   `json:"duration"` // seconds
}

// ForwardedOffer relays the caller's SDP untouched to the other party.
type ForwardedOffer struct {
	Type   EventType       `json:"type"`
	CallID string          `json:"call_id"`
	Offer  json.RawMessage `json:"offer"`
	Caller string          `json:"caller"`
}

type ForwardedAnswer struct {
	Type   EventType       `json:"type"`
	CallID string          `json:"call_id"`
	Answer json.RawMessage `json:"answer"`
}

type ForwardedICECandidate struct {
	Type      EventType       `json:"type"`
	CallID    string          `json:"call_id"`
	Candidate json.RawMessage `json:"candidate"`
}

type ErrorEvent struct {
	Type    EventType `json:"type"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}
