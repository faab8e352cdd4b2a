package call

import (
	"context"
	"errors"
	"fmt"

	"github.com/chronicle-live/comms/internal/hub"
	"github.com/chronicle-live/comms/internal/ice"
	"github.com/chronicle-live/comms/internal/protocol"
	"github.com/chronicle-live/comms/internal/session"
	"github.com/chronicle-live/comms/internal/store"
)

var (
	// ErrInvalidParticipants means the room does not contain exactly the
	// caller and the receiver.
	ErrInvalidParticipants = errors.New("invalid participants")
	// ErrNotFound is returned when the referenced call does not exist.
	ErrNotFound = errors.New("call not found")
	// ErrNotActive is returned when an operation needs an ongoing call.
	ErrNotActive = errors.New("call is not active")
	// ErrNotPending is returned for a response to a call that already
	// left the requesting state. The call is not re-transitioned.
	ErrNotPending = errors.New("call is not pending")
)

const defaultRejectReason = "Call rejected by user"

// Service owns the call lifecycle (requesting -> ongoing -> ended, or
// requesting -> rejected) and relays opaque WebRTC payloads between the
// two parties. Signaling events travel on personal channels only; the
// room channel never sees them.
type Service struct {
	store       store.Store
	hub         *hub.Hub
	provisioner ice.Provisioner
}

func NewService(st store.Store, h *hub.Hub, provisioner ice.Provisioner) *Service {
	return &Service{store: st, hub: h, provisioner: provisioner}
}

// Request creates a call in requesting state and rings the receiver.
func (s *Service) Request(ctx context.Context, sess *session.Session, ev protocol.CallRequest) (store.Call, error) {
	room, err := s.store.GetRoom(ctx, ev.RoomID)
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return store.Call{}, ErrInvalidParticipants
		}
		return store.Call{}, fmt.Errorf("load room: %w", err)
	}
	// Calls are pairwise: the room must hold exactly caller and receiver.
	if len(room.Participants) != 2 || !room.HasParticipant(sess.UserID) || !room.HasParticipant(ev.ReceiverID) || sess.UserID == ev.ReceiverID {
		return store.Call{}, ErrInvalidParticipants
	}

	call, err := s.store.CreateCall(ctx, store.Call{
		RoomID:      ev.RoomID,
		InitiatorID: sess.UserID,
		ReceiverID:  ev.ReceiverID,
		CallType:    ev.CallType,
		Status:      store.CallRequesting,
	})
	if err != nil {
		return store.Call{}, fmt.Errorf("create call: %w", err)
	}

	// Provision never fails: a provider outage degrades to STUN-only.
	rtcConfig := s.provisioner.Provision(ctx)

	s.hub.SendToUser(ev.ReceiverID, protocol.IncomingCall{
		Type:        protocol.TypeIncomingCall,
		CallID:      call.ID,
		CallerID:    sess.UserID,
		CallerEmail: sess.UserEmail,
		RoomID:      ev.RoomID,
		CallType:    call.CallType,
		RTCConfig:   rtcConfig,
	})
	return call, nil
}

// Respond resolves a requesting call with an accept or a reject. A
// response to an already-resolved call fails without re-transitioning or
// re-notifying anyone.
func (s *Service) Respond(ctx context.Context, sess *session.Session, ev protocol.CallResponse) error {
	call, err := s.loadCallFor(ctx, sess.UserID, ev.CallID)
	if err != nil {
		return err
	}

	switch ev.Response {
	case "accept":
		accepted, err := s.store.TransitionCall(ctx, call.ID, store.CallRequesting, store.CallOngoing)
		if err != nil {
			return transitionErr(err, ErrNotPending)
		}
		s.hub.SendToUser(accepted.InitiatorID, protocol.CallAccepted{
			Type:          protocol.TypeCallAccepted,
			CallID:        accepted.ID,
			ReceiverID:    sess.UserID,
			ReceiverEmail: sess.UserEmail,
			RTCConfig:     s.provisioner.Provision(ctx),
		})
	case "reject":
		rejected, err := s.store.TransitionCall(ctx, call.ID, store.CallRequesting, store.CallRejected)
		if err != nil {
			return transitionErr(err, ErrNotPending)
		}
		reason := ev.Reason
		if reason == "" {
			reason = defaultRejectReason
		}
		s.hub.SendToUser(rejected.InitiatorID, protocol.CallRejected{
			Type:   protocol.TypeCallRejected,
			CallID: rejected.ID,
			Reason: reason,
		})
	default:
		return fmt.Errorf("unknown call response %q", ev.Response)
	}
	return nil
}

// End terminates an ongoing call and notifies the other party with the
// call duration. Either party may end the call.
func (s *Service) End(ctx context.Context, sess *session.Session, ev protocol.CallEnd) (store.Call, error) {
	call, err := s.loadCallFor(ctx, sess.UserID, ev.CallID)
	if err != nil {
		return store.Call{}, err
	}

	ended, err := s.store.TransitionCall(ctx, call.ID, store.CallOngoing, store.CallEnded)
	if err != nil {
		return store.Call{}, transitionErr(err, ErrNotActive)
	}

	s.hub.SendToUser(ended.OtherParty(sess.UserID), protocol.CallEnded{
		Type:     protocol.TypeCallEnded,
		CallID:   ended.ID,
		Duration: ended.Duration.Seconds(),
	})
	return ended, nil
}

// ForwardOffer relays an SDP offer verbatim to the other party.
func (s *Service) ForwardOffer(ctx context.Context, sess *session.Session, ev protocol.Offer) error {
	call, err := s.requireOngoing(ctx, sess.UserID, ev.CallID)
	if err != nil {
		return err
	}
	s.hub.SendToUser(call.OtherParty(sess.UserID), protocol.ForwardedOffer{
		Type:   protocol.TypeOffer,
		CallID: call.ID,
		Offer:  ev.Offer,
		Caller: sess.UserEmail,
	})
	return nil
}

// ForwardAnswer relays an SDP answer verbatim to the other party.
func (s *Service) ForwardAnswer(ctx context.Context, sess *session.Session, ev protocol.Answer) error {
	call, err := s.requireOngoing(ctx, sess.UserID, ev.CallID)
	if err != nil {
		return err
	}
	s.hub.SendToUser(call.OtherParty(sess.UserID), protocol.ForwardedAnswer{
		Type:   protocol.TypeAnswer,
		CallID: call.ID,
		Answer: ev.Answer,
	})
	return nil
}

// ForwardICECandidate relays an ICE candidate verbatim to the other party.
func (s *Service) ForwardICECandidate(ctx context.Context, sess *session.Session, ev protocol.ICECandidate) error {
	call, err := s.requireOngoing(ctx, sess.UserID, ev.CallID)
	if err != nil {
		return err
	}
	s.hub.SendToUser(call.OtherParty(sess.UserID), protocol.ForwardedICECandidate{
		Type:      protocol.TypeICECandidate,
		CallID:    call.ID,
		Candidate: ev.Candidate,
	})
	return nil
}

// loadCallFor loads a call and hides calls the user is not a party to.
func (s *Service) loadCallFor(ctx context.Context, userID, callID string) (store.Call, error) {
	call, err := s.store.GetCall(ctx, callID)
	if err != nil {
		if errors.Is(err, store.ErrCallNotFound) {
			return store.Call{}, ErrNotFound
		}
		return store.Call{}, fmt.Errorf("load call: %w", err)
	}
	if !call.IsParty(userID) {
		return store.Call{}, ErrNotFound
	}
	return call, nil
}

func (s *Service) requireOngoing(ctx context.Context, userID, callID string) (store.Call, error) {
	call, err := s.loadCallFor(ctx, userID, callID)
	if err != nil {
		return store.Call{}, err
	}
	if call.Status != store.CallOngoing {
		return store.Call{}, ErrNotActive
	}
	return call, nil
}

func transitionErr(err error, conflict error) error {
	if errors.Is(err, store.ErrCallNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, store.ErrCallConflict) {
		return conflict
	}
	return fmt.Errorf("transition call: %w", err)
}
