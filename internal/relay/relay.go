package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/chronicle-live/comms/internal/hub"
	"github.com/chronicle-live/comms/internal/protocol"
	"github.com/chronicle-live/comms/internal/session"
	"github.com/chronicle-live/comms/internal/store"
)

var (
	// ErrRoomAccess means the user is not a current participant of the
	// room (or the room does not exist).
	ErrRoomAccess = errors.New("room not found or access denied")
	// ErrValidation covers malformed, oversized or disallowed attachments.
	ErrValidation = errors.New("invalid message")
)

// MaxAttachmentSize bounds the decoded attachment payload.
const MaxAttachmentSize = 10 << 20 // 10 MiB

// allowedMIME lists the accepted declared types per message type.
var allowedMIME = map[store.MessageType][]string{
	store.MessageImage: {"image/jpeg", "image/png", "image/gif"},
	store.MessageFile: {
		"application/pdf",
		"text/plain",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	},
	store.MessageVoice: {"audio/wav", "audio/mpeg", "audio/webm"},
}

// Service is the room membership authority and message relay.
type Service struct {
	store    store.Store
	hub      *hub.Hub
	sessions *session.Manager
}

func NewService(st store.Store, h *hub.Hub, sessions *session.Manager) *Service {
	return &Service{store: st, hub: h, sessions: sessions}
}

// authorize re-queries the persisted participant set. Cached or
// previously-joined state is never trusted.
func (s *Service) authorize(ctx context.Context, userID, roomID string) (store.Room, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return store.Room{}, ErrRoomAccess
		}
		return store.Room{}, fmt.Errorf("load room: %w", err)
	}
	if !room.HasParticipant(userID) {
		return store.Room{}, ErrRoomAccess
	}
	return room, nil
}

// JoinRoom subscribes the connection to the room channel iff the user is a
// live persisted participant.
func (s *Service) JoinRoom(ctx context.Context, sess *session.Session, roomID string) error {
	if _, err := s.authorize(ctx, sess.UserID, roomID); err != nil {
		return err
	}
	s.hub.JoinRoom(roomID, sess.ConnID)
	// TrackRoom only fails when the session already raced away on
	// disconnect; Unregister then cleans up the hub subscription too.
	_ = s.sessions.TrackRoom(sess.ConnID, roomID)
	return nil
}

// LeaveRoom drops the room channel subscription unconditionally.
func (s *Service) LeaveRoom(sess *session.Session, roomID string) {
	s.hub.LeaveRoom(roomID, sess.ConnID)
	s.sessions.UntrackRoom(sess.ConnID, roomID)
}

// SendMessage validates, persists and fans out one chat message. The
// operation is all-or-nothing: nothing is persisted or broadcast unless
// every step before the write succeeded.
func (s *Service) SendMessage(ctx context.Context, sess *session.Session, ev protocol.SendMessage) (protocol.NewMessage, error) {
	if _, err := s.authorize(ctx, sess.UserID, ev.RoomID); err != nil {
		return protocol.NewMessage{}, err
	}

	msgType := store.MessageType(ev.MessageType)
	switch msgType {
	case store.MessageText, store.MessageImage, store.MessageFile, store.MessageVoice:
	default:
		return protocol.NewMessage{}, fmt.Errorf("%w: unknown message type %q", ErrValidation, ev.MessageType)
	}

	msg := store.Message{
		RoomID:      ev.RoomID,
		SenderID:    sess.UserID,
		Content:     ev.Message,
		MessageType: msgType,
	}

	var attachment *store.Attachment
	if msgType != store.MessageText {
		var err error
		attachment, err = decodeAttachment(msgType, ev.File)
		if err != nil {
			return protocol.NewMessage{}, err
		}
		msg.FileName = attachment.Name
		msg.FileType = attachment.MIME
		msg.FileSize = int64(len(attachment.Data))
	}

	saved, err := s.store.CreateMessage(ctx, msg, attachment)
	if err != nil {
		return protocol.NewMessage{}, fmt.Errorf("persist message: %w", err)
	}

	out := protocol.NewMessage{
		Type:        protocol.TypeNewMessage,
		MessageID:   saved.ID,
		RoomID:      saved.RoomID,
		Sender:      sess.UserEmail,
		Content:     saved.Content,
		MessageType: string(saved.MessageType),
		Timestamp:   saved.CreatedAt,
		FileURL:     saved.FileURL,
		FileName:    saved.FileName,
		FileType:    saved.FileType,
		FileSize:    saved.FileSize,
	}
	// Sender included: the canonical event is the one copy everyone gets.
	s.hub.BroadcastRoom(saved.RoomID, out, "")
	return out, nil
}

// Typing broadcasts a fire-and-forget typing indicator to the room
// channel, excluding the sender. Membership is implied by the existing
// subscription; nothing is persisted.
func (s *Service) Typing(sess *session.Session, roomID string, start bool) {
	eventType := protocol.TypeUserTypingStart
	if !start {
		eventType = protocol.TypeUserTypingStop
	}
	s.hub.BroadcastRoom(roomID, protocol.UserTyping{
		Type:   eventType,
		RoomID: roomID,
		User:   sess.UserEmail,
	}, sess.ConnID)
}

func decodeAttachment(msgType store.MessageType, file *protocol.FilePayload) (*store.Attachment, error) {
	if file == nil || file.Data == "" {
		return nil, fmt.Errorf("%w: no file data provided for %s message", ErrValidation, msgType)
	}

	data, err := base64.StdEncoding.DecodeString(file.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: file data is not valid base64", ErrValidation)
	}
	if len(data) > MaxAttachmentSize {
		return nil, fmt.Errorf("%w: file too large, maximum size allowed is %d MB", ErrValidation, MaxAttachmentSize/1024/1024)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file payload", ErrValidation)
	}

	declared := strings.TrimSpace(file.MIME)
	if declared == "" {
		// Clients that omit the declared type get content sniffing.
		declared = mimetype.Detect(data).String()
		if i := strings.IndexByte(declared, ';'); i >= 0 {
			declared = strings.TrimSpace(declared[:i])
		}
	}
	if !mimeAllowed(msgType, declared) {
		return nil, fmt.Errorf("%w: unsupported file type %q, allowed types for %s: %s",
			ErrValidation, declared, msgType, strings.Join(allowedMIME[msgType], ", "))
	}

	name := strings.TrimSpace(file.Name)
	if name == "" {
		name = "attachment"
	}

	return &store.Attachment{Name: name, MIME: declared, Data: data}, nil
}

func mimeAllowed(msgType store.MessageType, mime string) bool {
	for _, allowed := range allowedMIME[msgType] {
		if mime == allowed {
			return true
		}
	}
	return false
}
