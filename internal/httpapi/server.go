package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chronicle-live/comms/internal/auth"
	"github.com/chronicle-live/comms/internal/call"
	"github.com/chronicle-live/comms/internal/config"
	"github.com/chronicle-live/comms/internal/hub"
	"github.com/chronicle-live/comms/internal/observability"
	"github.com/chronicle-live/comms/internal/protocol"
	"github.com/chronicle-live/comms/internal/relay"
	"github.com/chronicle-live/comms/internal/session"
	"github.com/chronicle-live/comms/internal/store"
)

const writeTimeout = 10 * time.Second

// Keepalive pacing. The server must originate pings: browser websocket
// clients cannot send ping frames, and an otherwise idle connection (a
// user waiting for incoming_call, or a call whose media flows peer to
// peer) would hit the read deadline and be torn down. Vars so tests can
// shrink the clock.
var (
	pingInterval = 45 * time.Second
	pongWait     = 120 * time.Second
)

type Server struct {
	cfg      config.Config
	store    store.Store
	sessions *session.Manager
	hub      *hub.Hub
	relay    *relay.Service
	calls    *call.Service
	verifier *auth.Verifier
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, st store.Store, sessions *session.Manager, h *hub.Hub, relaySvc *relay.Service, callSvc *call.Service, verifier *auth.Verifier, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		hub:      h,
		relay:    relaySvc,
		calls:    callSvc,
		verifier: verifier,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from
				// the same origin. Non-browser clients omit Origin and
				// are allowed; they still need a valid token.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/ws", s.handleWS)
	r.Get("/media/*", s.handleMedia)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "ready",
		"active_connections": s.sessions.ActiveCount(),
	})
}

// handleMedia serves stored attachment bytes by their locator. Locators are
// opaque unguessable paths handed out in new_message events.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	att, err := s.store.GetAttachment(r.Context(), r.URL.Path)
	if err != nil {
		if errors.Is(err, store.ErrAttachmentNotFound) {
			respondError(w, http.StatusNotFound, "attachment_not_found", "no attachment at this path")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to load attachment")
		return
	}
	w.Header().Set("Content-Type", att.MIME)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", att.Name))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(att.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(att.Data)
}

// bearerToken pulls the credential from the Authorization header, falling
// back to the token query parameter for browser websocket clients that
// cannot set headers.
func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		s.metrics.ConnectionEvents.WithLabelValues("refused_no_token").Inc()
		respondError(w, http.StatusUnauthorized, "missing_token", "authorization token is required")
		return
	}
	userID, err := s.verifier.Verify(token)
	if err != nil {
		s.metrics.ConnectionEvents.WithLabelValues("refused_bad_token").Inc()
		respondError(w, http.StatusUnauthorized, "invalid_token", "token is invalid or expired")
		return
	}
	user, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		s.metrics.ConnectionEvents.WithLabelValues("refused_unknown_user").Inc()
		respondError(w, http.StatusUnauthorized, "unknown_user", "token subject does not exist")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	sess := s.sessions.Create(connID, user.ID, user.Email)

	s.metrics.ConnectionEvents.WithLabelValues("connected").Inc()
	s.metrics.ActiveConnections.Set(float64(s.sessions.ActiveCount()))
	log.Printf("ws connected conn=%s user=%s", connID, user.ID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, s.cfg.OutboundQueue)
	enqueue := func(event any) bool {
		select {
		case outbound <- event:
			return true
		default:
			// Keep websocket writes single-threaded; drop if the
			// outbound queue is saturated.
			s.metrics.WSMessages.WithLabelValues("outbound", "drop_full").Inc()
			return false
		}
	}
	s.hub.Register(connID, user.ID, enqueue)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		pinger := time.NewTicker(pingInterval)
		defer pinger.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-pinger.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					cancel()
					return
				}
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := eventTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(s.cfg.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientEvent(data)
		if err != nil {
			enqueue(protocol.ErrorEvent{
				Type:    protocol.TypeErrorEvent,
				Code:    "invalid_client_message",
				Message: err.Error(),
			})
			continue
		}
		if t, ok := eventTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		s.dispatch(ctx, sess, parsed, enqueue)
	}

	cancel()
	s.hub.Unregister(connID)
	s.sessions.Destroy(connID)
	<-writerDone

	s.metrics.ConnectionEvents.WithLabelValues("disconnected").Inc()
	s.metrics.ActiveConnections.Set(float64(s.sessions.ActiveCount()))
	log.Printf("ws disconnected conn=%s user=%s", connID, user.ID)
}

// dispatch routes one parsed client event to its service. Failures turn
// into error events on this connection only; nothing is broadcast for a
// rejected operation.
func (s *Server) dispatch(ctx context.Context, sess *session.Session, parsed any, enqueue hub.Sender) {
	switch ev := parsed.(type) {
	case protocol.JoinRoom:
		if err := s.relay.JoinRoom(ctx, sess, ev.RoomID); err != nil {
			s.metrics.RelayOutcomes.WithLabelValues("join_room", "rejected").Inc()
			enqueue(protocol.JoinRoomResponse{
				Type:    protocol.TypeJoinRoomResponse,
				Status:  "error",
				RoomID:  ev.RoomID,
				Message: userFacing(err),
			})
			return
		}
		s.metrics.RelayOutcomes.WithLabelValues("join_room", "ok").Inc()
		enqueue(protocol.JoinRoomResponse{
			Type:   protocol.TypeJoinRoomResponse,
			Status: "success",
			RoomID: ev.RoomID,
		})

	case protocol.LeaveRoom:
		s.relay.LeaveRoom(sess, ev.RoomID)
		s.metrics.RelayOutcomes.WithLabelValues("leave_room", "ok").Inc()

	case protocol.SendMessage:
		if _, err := s.relay.SendMessage(ctx, sess, ev); err != nil {
			s.metrics.RelayOutcomes.WithLabelValues("send_message", "rejected").Inc()
			enqueue(errorEvent(err))
			return
		}
		s.metrics.RelayOutcomes.WithLabelValues("send_message", "ok").Inc()

	case protocol.TypingStart:
		s.relay.Typing(sess, ev.RoomID, true)

	case protocol.TypingStop:
		s.relay.Typing(sess, ev.RoomID, false)

	case protocol.CallRequest:
		if _, err := s.calls.Request(ctx, sess, ev); err != nil {
			enqueue(errorEvent(err))
			return
		}
		s.metrics.CallEvents.WithLabelValues("requested").Inc()

	case protocol.CallResponse:
		if err := s.calls.Respond(ctx, sess, ev); err != nil {
			enqueue(errorEvent(err))
			return
		}
		s.metrics.CallEvents.WithLabelValues(ev.Response + "ed").Inc()

	case protocol.CallEnd:
		ended, err := s.calls.End(ctx, sess, ev)
		if err != nil {
			enqueue(errorEvent(err))
			return
		}
		s.metrics.CallEvents.WithLabelValues("ended").Inc()
		if ended.Duration != nil {
			s.metrics.ObserveCallDuration(*ended.Duration)
		}

	case protocol.Offer:
		if err := s.calls.ForwardOffer(ctx, sess, ev); err != nil {
			enqueue(errorEvent(err))
		}

	case protocol.Answer:
		if err := s.calls.ForwardAnswer(ctx, sess, ev); err != nil {
			enqueue(errorEvent(err))
		}

	case protocol.ICECandidate:
		if err := s.calls.ForwardICECandidate(ctx, sess, ev); err != nil {
			enqueue(errorEvent(err))
		}
	}
}

func errorEvent(err error) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:    protocol.TypeErrorEvent,
		Code:    errorCode(err),
		Message: userFacing(err),
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, relay.ErrRoomAccess):
		return "room_access_denied"
	case errors.Is(err, relay.ErrValidation):
		return "validation_error"
	case errors.Is(err, call.ErrInvalidParticipants):
		return "invalid_participants"
	case errors.Is(err, call.ErrNotFound):
		return "call_not_found"
	case errors.Is(err, call.ErrNotPending):
		return "call_not_pending"
	case errors.Is(err, call.ErrNotActive):
		return "call_not_active"
	case errors.Is(err, store.ErrRoomNotFound):
		return "room_not_found"
	default:
		return "internal_error"
	}
}

// userFacing hides storage internals behind a generic message while letting
// domain rejections through verbatim.
func userFacing(err error) string {
	if errorCode(err) == "internal_error" {
		return "internal error"
	}
	return err.Error()
}

func eventTypeOf(v any) (protocol.EventType, bool) {
	switch m := v.(type) {
	case protocol.JoinRoom:
		return m.Type, true
	case protocol.LeaveRoom:
		return m.Type, true
	case protocol.SendMessage:
		return m.Type, true
	case protocol.TypingStart:
		return m.Type, true
	case protocol.TypingStop:
		return m.Type, true
	case protocol.CallRequest:
		return m.Type, true
	case protocol.CallResponse:
		return m.Type, true
	case protocol.CallEnd:
		return m.Type, true
	case protocol.Offer:
		return m.Type, true
	case protocol.Answer:
		return m.Type, true
	case protocol.ICECandidate:
		return m.Type, true
	case protocol.JoinRoomResponse:
		return m.Type, true
	case protocol.NewMessage:
		return m.Type, true
	case protocol.UserTyping:
		return m.Type, true
	case protocol.IncomingCall:
		return m.Type, true
	case protocol.CallAccepted:
		return m.Type, true
	case protocol.CallRejected:
		return m.Type, true
	case protocol.CallEnded:
		return m.Type, true
	case protocol.ForwardedOffer:
		return m.Type, true
	case protocol.ForwardedAnswer:
		return m.Type, true
	case protocol.ForwardedICECandidate:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
