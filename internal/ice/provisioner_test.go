package ice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProvisionAppendsTURNServer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("apiKey") != "k1" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"username":"u1","credential":"c1"}`))
	}))
	defer ts.Close()

	p := NewHTTPProvisioner(ts.URL, "k1", []string{"stun:stun.example:3478"})
	cfg := p.Provision(context.Background())

	if len(cfg.ICEServers) != 2 {
		t.Fatalf("ICEServers = %d entries, want 2", len(cfg.ICEServers))
	}
	turn := cfg.ICEServers[1]
	if turn.Username != "u1" || turn.Credential != "c1" {
		t.Fatalf("unexpected turn credentials: %+v", turn)
	}
	if len(turn.URLs) == 0 {
		t.Fatalf("turn server has no urls")
	}
}

func TestProvisionFallsBackToSTUNOnFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	p := NewHTTPProvisioner(ts.URL, "k1", []string{"stun:stun.example:3478"})
	cfg := p.Provision(context.Background())

	if len(cfg.ICEServers) != 1 {
		t.Fatalf("ICEServers = %d entries, want STUN only", len(cfg.ICEServers))
	}
	if cfg.ICEServers[0].Username != "" {
		t.Fatalf("fallback config should carry no credentials: %+v", cfg.ICEServers[0])
	}
}

func TestProvisionWithoutAPIKeyIsSTUNOnly(t *testing.T) {
	p := NewHTTPProvisioner("https://chronicle.metered.live/api/v1/turn/credentials", "", []string{"stun:stun.example:3478"})
	cfg := p.Provision(context.Background())
	if len(cfg.ICEServers) != 1 {
		t.Fatalf("ICEServers = %d entries, want 1", len(cfg.ICEServers))
	}
}

func TestDefaultTURNURLsDerivedFromHost(t *testing.T) {
	urls := defaultTURNURLs("https://chronicle.metered.live/api/v1/turn/credentials")
	if len(urls) != 3 {
		t.Fatalf("urls = %v, want 3 entries", urls)
	}
	if urls[0] != "turn:chronicle.metered.live:80" {
		t.Fatalf("urls[0] = %q", urls[0])
	}
	if urls[2] != "turn:chronicle.metered.live:443?transport=tcp" {
		t.Fatalf("urls[2] = %q", urls[2])
	}
}
