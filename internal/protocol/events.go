package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType identifies websocket payload variants.
type EventType string

// Client to server.
const (
	TypeJoinRoom     EventType = "join_room"
	TypeLeaveRoom    EventType = "leave_room"
	TypeSendMessage  EventType = "send_message"
	TypeTypingStart  EventType = "typing_start"
	TypeTypingStop   EventType = "typing_stop"
	TypeCallRequest  EventType = "call_request"
	TypeCallResponse EventType = "call_response"
	TypeCallEnd      EventType = "call_end"
	TypeOffer        EventType = "webrtc_offer"
	TypeAnswer       EventType = "webrtc_answer"
	TypeICECandidate EventType = "webrtc_ice_candidate"
)

// Server to client.
const (
	TypeJoinRoomResponse EventType = "join_room_response"
	TypeNewMessage       EventType = "new_message"
	TypeUserTypingStart  EventType = "user_typing_start"
	TypeUserTypingStop   EventType = "user_typing_stop"
	TypeIncomingCall     EventType = "incoming_call"
	TypeCallAccepted     EventType = "call_accepted"
	TypeCallRejected     EventType = "call_rejected"
	TypeCallEnded        EventType = "call_ended"
	TypeErrorEvent       EventType = "error"
)

var ErrUnsupportedType = errors.New("unsupported event type")

type Envelope struct {
	Type EventType `json:"type"`
}

// FilePayload carries a transport-encoded attachment on send_message.
type FilePayload struct {
	Name string `json:"name"`
	MIME string `json:"type"`
	Data string `json:"data"` // base64
}

type JoinRoom struct {
	Type   EventType `json:"type"`
	RoomID string    `json:"room_id"`
}

type LeaveRoom struct {
	Type   EventType `json:"type"`
	RoomID string    `json:"room_id"`
}

type SendMessage struct {
	Type        EventType    `json:"type"`
	RoomID      string       `json:"room_id"`
	Message     string       `json:"message"`
	MessageType string       `json:"message_type"`
	File        *FilePayload `json:"file,omitempty"`
}

type TypingStart struct {
	Type   EventType `json:"type"`
	RoomID string    `json:"room_id"`
}

type TypingStop struct {
	Type   EventType `json:"type"`
	RoomID string    `json:"room_id"`
}

type CallRequest struct {
	Type       EventType `json:"type"`
	RoomID     string    `json:"room_id"`
	ReceiverID string    `json:"receiver_id"`
	CallType   string    `json:"call_type,omitempty"`
}

type CallResponse struct {
	Type     EventType `json:"type"`
	CallID   string    `json:"call_id"`
	Response string    `json:"response"` // accept | reject
	Reason   string    `json:"reason,omitempty"`
}

type CallEnd struct {
	Type   EventType `json:"type"`
	CallID string    `json:"call_id"`
}

// Offer, Answer and ICECandidate carry opaque signaling payloads. The
// server relays them verbatim and never inspects the SDP or candidate.
type Offer struct {
	Type   EventType       `json:"type"`
	CallID string          `json:"call_id"`
	Offer  json.RawMessage `json:"offer"`
}

type Answer struct {
	Type   EventType       `json:"type"`
	CallID string          `json:"call_id"`
	Answer json.RawMessage `json:"answer"`
}

type ICECandidate struct {
	Type      EventType       `json:"type"`
	CallID    string          `json:"call_id"`
	Candidate json.RawMessage `json:"candidate"`
}

// ParseClientEvent decodes one inbound frame into its concrete variant.
// Unknown or malformed frames never reach the dispatcher.
func ParseClientEvent(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeJoinRoom:
		var msg JoinRoom
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.RoomID == "" {
			return nil, errors.New("invalid join_room: missing room_id")
		}
		return msg, nil
	case TypeLeaveRoom:
		var msg LeaveRoom
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.RoomID == "" {
			return nil, errors.New("invalid leave_room: missing room_id")
		}
		return msg, nil
	case TypeSendMessage:
		var msg SendMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.RoomID == "" {
			return nil, errors.New("invalid send_message: missing room_id")
		}
		if msg.MessageType == "" {
			msg.MessageType = "text"
		}
		return msg, nil
	case TypeTypingStart:
		var msg TypingStart
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.RoomID == "" {
			return nil, errors.New("invalid typing_start: missing room_id")
		}
		return msg, nil
	case TypeTypingStop:
		var msg TypingStop
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.RoomID == "" {
			return nil, errors.New("invalid typing_stop: missing room_id")
		}
		return msg, nil
	case TypeCallRequest:
		var msg CallRequest
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.RoomID == "" || msg.ReceiverID == "" {
			return nil, errors.New("invalid call_request: missing room_id or receiver_id")
		}
		if msg.CallType == "" {
			msg.CallType = "voice"
		}
		if msg.CallType != "voice" && msg.CallType != "video" {
			return nil, fmt.Errorf("invalid call_request: unknown call_type %q", msg.CallType)
		}
		return msg, nil
	case TypeCallResponse:
		var msg CallResponse
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.CallID == "" {
			return nil, errors.New("invalid call_response: missing call_id")
		}
		if msg.Response != "accept" && msg.Response != "reject" {
			return nil, fmt.Errorf("invalid call_response: response %q", msg.Response)
		}
		return msg, nil
	case TypeCallEnd:
		var msg CallEnd
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.CallID == "" {
			return nil, errors.New("invalid call_end: missing call_id")
		}
		return msg, nil
	case TypeOffer:
		var msg Offer
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.CallID == "" || len(msg.Offer) == 0 {
			return nil, errors.New("invalid webrtc_offer: missing call_id or offer")
		}
		return msg, nil
	case TypeAnswer:
		var msg Answer
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.CallID == "" || len(msg.Answer) == 0 {
			return nil, errors.New("invalid webrtc_answer: missing call_id or answer")
		}
		return msg, nil
	case TypeICECandidate:
		var msg ICECandidate
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.CallID == "" || len(msg.Candidate) == 0 {
			return nil, errors.New("invalid webrtc_ice_candidate: missing call_id or candidate")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
