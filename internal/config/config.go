package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the communications service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// AuthSecret signs and verifies the HS256 bearer tokens presented at
	// connection time. The REST layer issuing the tokens shares it.
	AuthSecret string

	// DatabaseURL selects the postgres store; empty means in-memory.
	DatabaseURL string

	// TURN credential provisioning. When TURNAPIKey is empty the service
	// runs STUN-only.
	TURNAPIURL string
	TURNAPIKey string
	STUNURLs   []string

	// OutboundQueue is the per-connection buffered event queue size.
	OutboundQueue int
	// ReadLimit bounds a single inbound websocket frame in bytes. It must
	// leave room for a base64-encoded 10 MiB attachment plus envelope.
	ReadLimit int64
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "comms"),
		AllowAnyOrigin:   false,
		AuthSecret:       envTrimmed("APP_AUTH_SECRET"),
		DatabaseURL:      envTrimmed("DATABASE_URL"),
		TURNAPIURL:       envOrDefault("TURN_API_URL", "https://chronicle.metered.live/api/v1/turn/credentials"),
		TURNAPIKey:       envTrimmed("TURN_API_KEY"),
		STUNURLs:         splitList(envOrDefault("STUN_URLS", "stun:stun.l.google.com:19302")),
		OutboundQueue:    256,
		ReadLimit:        16 << 20,
		ShutdownTimeout:  15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.OutboundQueue, err = intFromEnv("APP_OUTBOUND_QUEUE", cfg.OutboundQueue)
	if err != nil {
		return Config{}, err
	}
	readLimit, err := intFromEnv("APP_READ_LIMIT", int(cfg.ReadLimit))
	if err != nil {
		return Config{}, err
	}
	cfg.ReadLimit = int64(readLimit)

	if cfg.AuthSecret == "" {
		return Config{}, fmt.Errorf("APP_AUTH_SECRET must be set")
	}
	if cfg.OutboundQueue <= 0 {
		return Config{}, fmt.Errorf("APP_OUTBOUND_QUEUE must be positive")
	}
	if cfg.ReadLimit < 1<<20 {
		return Config{}, fmt.Errorf("APP_READ_LIMIT must be at least 1 MiB")
	}
	if len(cfg.STUNURLs) == 0 {
		return Config{}, fmt.Errorf("STUN_URLS must name at least one server")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
