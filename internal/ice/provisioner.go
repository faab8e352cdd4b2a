package ice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Server is one entry of an RTCPeerConnection iceServers list.
type Server struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Config is the ICE server set handed to call participants.
type Config struct {
	ICEServers []Server `json:"iceServers"`
}

// Provisioner supplies the ICE configuration for a new call.
type Provisioner interface {
	Provision(ctx context.Context) Config
}

// HTTPProvisioner fetches short-lived TURN credentials from a
// Metered-style credentials endpoint. Any failure degrades to the static
// STUN-only configuration; a call request never fails on provisioning.
type HTTPProvisioner struct {
	url    string
	apiKey string
	stun   []string
	client *http.Client
}

func NewHTTPProvisioner(url, apiKey string, stunURLs []string) *HTTPProvisioner {
	return &HTTPProvisioner{
		url:    strings.TrimSpace(url),
		apiKey: strings.TrimSpace(apiKey),
		stun:   stunURLs,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// StaticConfig is the STUN-only fallback.
func (p *HTTPProvisioner) StaticConfig() Config {
	return Config{ICEServers: []Server{{URLs: append([]string(nil), p.stun...)}}}
}

func (p *HTTPProvisioner) Provision(ctx context.Context) Config {
	turn, err := p.fetchTURN(ctx)
	if err != nil {
		// Recovered locally: the caller still gets a usable STUN config.
		return p.StaticConfig()
	}
	cfg := p.StaticConfig()
	cfg.ICEServers = append(cfg.ICEServers, turn)
	return cfg
}

func (p *HTTPProvisioner) fetchTURN(ctx context.Context) (Server, error) {
	if p.apiKey == "" {
		return Server{}, fmt.Errorf("no TURN api key configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url+"?apiKey="+p.apiKey, nil)
	if err != nil {
		return Server{}, fmt.Errorf("create request: %w", err)
	}

	res, err := p.client.Do(req)
	if err != nil {
		return Server{}, fmt.Errorf("fetch turn credentials: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Server{}, fmt.Errorf("turn credentials status %d: %s", res.StatusCode, string(body))
	}

	var creds struct {
		Username   string   `json:"username"`
		Credential string   `json:"credential"`
		URLs       []string `json:"urls"`
	}
	if err := json.NewDecoder(res.Body).Decode(&creds); err != nil {
		return Server{}, fmt.Errorf("decode turn credentials: %w", err)
	}
	if creds.Username == "" || creds.Credential == "" {
		return Server{}, fmt.Errorf("turn credentials response missing username or credential")
	}

	urls := creds.URLs
	if len(urls) == 0 {
		urls = defaultTURNURLs(p.url)
	}
	return Server{URLs: urls, Username: creds.Username, Credential: creds.Credential}, nil
}

// defaultTURNURLs derives the relay endpoints from the credentials host
// when the provider response does not enumerate them.
func defaultTURNURLs(credentialsURL string) []string {
	host := credentialsURL
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	return []string{
		"turn:" + host + ":80",
		"turn:" + host + ":443",
		"turn:" + host + ":443?transport=tcp",
	}
}
