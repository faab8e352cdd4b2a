package httpapi

import (
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chronicle-live/comms/internal/auth"
	"github.com/chronicle-live/comms/internal/call"
	"github.com/chronicle-live/comms/internal/config"
	"github.com/chronicle-live/comms/internal/hub"
	"github.com/chronicle-live/comms/internal/ice"
	"github.com/chronicle-live/comms/internal/observability"
	"github.com/chronicle-live/comms/internal/relay"
	"github.com/chronicle-live/comms/internal/session"
	"github.com/chronicle-live/comms/internal/store"
)

const testSecret = "test-secret"

type testEnv struct {
	ts       *httptest.Server
	store    *store.InMemoryStore
	verifier *auth.Verifier
}

func newTestEnv(t *testing.T, namespace string) *testEnv {
	t.Helper()

	cfg := config.Config{
		AuthSecret:     testSecret,
		AllowAnyOrigin: true,
		OutboundQueue:  64,
		ReadLimit:      16 << 20,
	}

	st := store.NewInMemoryStore()
	st.PutUser(store.User{ID: "a", Email: "a@example.com"})
	st.PutUser(store.User{ID: "b", Email: "b@example.com"})
	st.PutUser(store.User{ID: "c", Email: "c@example.com"})
	st.PutRoom(store.Room{ID: "r1", Participants: []string{"a", "b"}, Active: true})

	h := hub.New()
	sessions := session.NewManager()
	verifier := auth.NewVerifier(cfg.AuthSecret)
	provisioner := ice.NewHTTPProvisioner("", "", []string{"stun:stun.example:3478"})
	metrics := observability.NewMetrics(namespace + "_" + time.Now().Format("150405") + time.Now().Format("000000000"))

	relaySvc := relay.NewService(st, h, sessions)
	callSvc := call.NewService(st, h, provisioner)
	srv := New(cfg, st, sessions, h, relaySvc, callSvc, verifier, metrics)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, store: st, verifier: verifier}
}

func (e *testEnv) wsURL(token string) string {
	u := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func (e *testEnv) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	token, err := e.verifier.Sign(userID, time.Minute)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL(token), nil)
	if err != nil {
		t.Fatalf("dial as %s: %v", userID, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var event map[string]any
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return event
}

func TestWSRefusesWithoutToken(t *testing.T) {
	env := newTestEnv(t, "test_ws_no_token")

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL(""), nil)
	if err == nil {
		t.Fatalf("dial without token must fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("handshake response = %+v, want 401", resp)
	}
}

func TestWSRefusesInvalidToken(t *testing.T) {
	env := newTestEnv(t, "test_ws_bad_token")

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL("not-a-jwt"), nil)
	if err == nil {
		t.Fatalf("dial with garbage token must fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("handshake response = %+v, want 401", resp)
	}

	// Structurally valid token for a user that does not exist.
	ghost, err := env.verifier.Sign("ghost", time.Minute)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	_, resp, err = websocket.DefaultDialer.Dial(env.wsURL(ghost), nil)
	if err == nil {
		t.Fatalf("dial with unknown subject must fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("handshake response = %+v, want 401", resp)
	}
}

func TestWSJoinSendReceive(t *testing.T) {
	env := newTestEnv(t, "test_ws_flow")

	alice := env.dial(t, "a")
	bob := env.dial(t, "b")

	join := map[string]any{"type": "join_room", "room_id": "r1"}
	if err := alice.WriteJSON(join); err != nil {
		t.Fatalf("alice join: %v", err)
	}
	if got := readEvent(t, alice); got["type"] != "join_room_response" || got["status"] != "success" {
		t.Fatalf("alice join response = %+v", got)
	}
	if err := bob.WriteJSON(join); err != nil {
		t.Fatalf("bob join: %v", err)
	}
	if got := readEvent(t, bob); got["status"] != "success" {
		t.Fatalf("bob join response = %+v", got)
	}

	if err := alice.WriteJSON(map[string]any{
		"type":    "send_message",
		"room_id": "r1",
		"message": "hello there",
	}); err != nil {
		t.Fatalf("alice send: %v", err)
	}

	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		got := readEvent(t, conn)
		if got["type"] != "new_message" {
			t.Fatalf("%s event = %+v, want new_message", name, got)
		}
		if got["content"] != "hello there" || got["sender"] != "a@example.com" {
			t.Fatalf("%s new_message = %+v", name, got)
		}
	}
}

func TestWSKeepaliveHoldsIdleConnection(t *testing.T) {
	oldPing, oldWait := pingInterval, pongWait
	pingInterval, pongWait = 50*time.Millisecond, 150*time.Millisecond
	t.Cleanup(func() { pingInterval, pongWait = oldPing, oldWait })

	env := newTestEnv(t, "test_ws_keepalive")
	alice := env.dial(t, "a")

	// A blocked read answers server pings with pongs, as a real client
	// event loop would.
	events := make(chan map[string]any, 4)
	go func() {
		defer close(events)
		for {
			var ev map[string]any
			if err := alice.ReadJSON(&ev); err != nil {
				return
			}
			events <- ev
		}
	}()

	// Stay silent across several pong windows; the server's pings must
	// keep the connection alive.
	time.Sleep(5 * pongWait)

	if err := alice.WriteJSON(map[string]any{"type": "join_room", "room_id": "r1"}); err != nil {
		t.Fatalf("write after idle: %v", err)
	}
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatalf("connection dropped while idle")
		}
		if ev["type"] != "join_room_response" || ev["status"] != "success" {
			t.Fatalf("response after idle = %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no response after idle period")
	}
}

func TestWSJoinDeniedForNonParticipant(t *testing.T) {
	env := newTestEnv(t, "test_ws_join_denied")

	carol := env.dial(t, "c")
	if err := carol.WriteJSON(map[string]any{"type": "join_room", "room_id": "r1"}); err != nil {
		t.Fatalf("carol join: %v", err)
	}
	got := readEvent(t, carol)
	if got["type"] != "join_room_response" || got["status"] != "error" {
		t.Fatalf("join response = %+v, want error status", got)
	}
}

func TestAttachmentServedOverMedia(t *testing.T) {
	env := newTestEnv(t, "test_ws_media")

	alice := env.dial(t, "a")
	if err := alice.WriteJSON(map[string]any{"type": "join_room", "room_id": "r1"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if got := readEvent(t, alice); got["status"] != "success" {
		t.Fatalf("join response = %+v", got)
	}

	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0}
	if err := alice.WriteJSON(map[string]any{
		"type":         "send_message",
		"room_id":      "r1",
		"message_type": "image",
		"file": map[string]any{
			"name": "pixel.png",
			"type": "image/png",
			"data": base64.StdEncoding.EncodeToString(png),
		},
	}); err != nil {
		t.Fatalf("send: %v", err)
	}

	msg := readEvent(t, alice)
	fileURL, _ := msg["file_url"].(string)
	if fileURL == "" {
		t.Fatalf("new_message missing file_url: %+v", msg)
	}

	res, err := http.Get(env.ts.URL + fileURL)
	if err != nil {
		t.Fatalf("GET %s error = %v", fileURL, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("media status = %d, want 200", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("Content-Type = %q, want image/png", ct)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read media body: %v", err)
	}
	if string(body) != string(png) {
		t.Fatalf("media bytes differ from upload")
	}
}

func TestMediaUnknownLocator(t *testing.T) {
	env := newTestEnv(t, "test_ws_media_missing")

	res, err := http.Get(env.ts.URL + "/media/chat/nope/file.bin")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.StatusCode)
	}
}
