package protocol

import (
	"errors"
	"testing"
)

func TestParseClientEventJoinRoom(t *testing.T) {
	raw := []byte(`{"type":"join_room","room_id":"r1"}`)
	msg, err := ParseClientEvent(raw)
	if err != nil {
		t.Fatalf("ParseClientEvent() error = %v", err)
	}

	join, ok := msg.(JoinRoom)
	if !ok {
		t.Fatalf("event type = %T, want JoinRoom", msg)
	}
	if join.RoomID != "r1" {
		t.Fatalf("RoomID = %q, want %q", join.RoomID, "r1")
	}
}

func TestParseClientEventSendMessageDefaultsToText(t *testing.T) {
	raw := []byte(`{"type":"send_message","room_id":"r1","message":"hi"}`)
	msg, err := ParseClientEvent(raw)
	if err != nil {
		t.Fatalf("ParseClientEvent() error = %v", err)
	}

	send, ok := msg.(SendMessage)
	if !ok {
		t.Fatalf("event type = %T, want SendMessage", msg)
	}
	if send.MessageType != "text" {
		t.Fatalf("MessageType = %q, want %q", send.MessageType, "text")
	}
	if send.File != nil {
		t.Fatalf("File = %+v, want nil", send.File)
	}
}

func TestParseClientEventSendMessageWithFile(t *testing.T) {
	raw := []byte(`{"type":"send_message","room_id":"r1","message":"","message_type":"image","file":{"name":"cat.png","type":"image/png","data":"AQID"}}`)
	msg, err := ParseClientEvent(raw)
	if err != nil {
		t.Fatalf("ParseClientEvent() error = %v", err)
	}

	send := msg.(SendMessage)
	if send.File == nil || send.File.Name != "cat.png" || send.File.MIME != "image/png" {
		t.Fatalf("unexpected file payload: %+v", send.File)
	}
}

func TestParseClientEventCallRequestDefaultsToVoice(t *testing.T) {
	raw := []byte(`{"type":"call_request","room_id":"r1","receiver_id":"u2"}`)
	msg, err := ParseClientEvent(raw)
	if err != nil {
		t.Fatalf("ParseClientEvent() error = %v", err)
	}

	req := msg.(CallRequest)
	if req.CallType != "voice" {
		t.Fatalf("CallType = %q, want %q", req.CallType, "voice")
	}
}

func TestParseClientEventRejectsUnknownCallType(t *testing.T) {
	raw := []byte(`{"type":"call_request","room_id":"r1","receiver_id":"u2","call_type":"hologram"}`)
	if _, err := ParseClientEvent(raw); err == nil {
		t.Fatalf("expected validation error for unknown call_type")
	}
}

func TestParseClientEventCallResponseValidatesResponse(t *testing.T) {
	raw := []byte(`{"type":"call_response","call_id":"c1","response":"maybe"}`)
	if _, err := ParseClientEvent(raw); err == nil {
		t.Fatalf("expected validation error for response %q", "maybe")
	}

	raw = []byte(`{"type":"call_response","call_id":"c1","response":"reject","reason":"busy"}`)
	msg, err := ParseClientEvent(raw)
	if err != nil {
		t.Fatalf("ParseClientEvent() error = %v", err)
	}
	resp := msg.(CallResponse)
	if resp.Reason != "busy" {
		t.Fatalf("Reason = %q, want %q", resp.Reason, "busy")
	}
}

func TestParseClientEventOfferKeepsPayloadOpaque(t *testing.T) {
	raw := []byte(`{"type":"webrtc_offer","call_id":"c1","offer":{"sdp":"v=0...","type":"offer"}}`)
	msg, err := ParseClientEvent(raw)
	if err != nil {
		t.Fatalf("ParseClientEvent() error = %v", err)
	}

	offer := msg.(Offer)
	if string(offer.Offer) != `{"sdp":"v=0...","type":"offer"}` {
		t.Fatalf("offer payload altered: %s", offer.Offer)
	}
}

func TestParseClientEventRejectsUnknownType(t *testing.T) {
	_, err := ParseClientEvent([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientEventRejectsMissingFields(t *testing.T) {
	cases := []string{
		`{"type":"join_room"}`,
		`{"type":"leave_room"}`,
		`{"type":"send_message"}`,
		`{"type":"call_request","room_id":"r1"}`,
		`{"type":"call_response","response":"accept"}`,
		`{"type":"call_end"}`,
		`{"type":"webrtc_offer","call_id":"c1"}`,
		`{"type":"webrtc_answer","call_id":"c1"}`,
		`{"type":"webrtc_ice_candidate","call_id":"c1"}`,
	}
	for _, raw := range cases {
		if _, err := ParseClientEvent([]byte(raw)); err == nil {
			t.Fatalf("expected validation error for %s", raw)
		}
	}
}
