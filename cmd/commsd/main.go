package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/chronicle-live/comms/internal/auth"
	"github.com/chronicle-live/comms/internal/call"
	"github.com/chronicle-live/comms/internal/config"
	"github.com/chronicle-live/comms/internal/httpapi"
	"github.com/chronicle-live/comms/internal/hub"
	"github.com/chronicle-live/comms/internal/ice"
	"github.com/chronicle-live/comms/internal/observability"
	"github.com/chronicle-live/comms/internal/relay"
	"github.com/chronicle-live/comms/internal/session"
	"github.com/chronicle-live/comms/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer st.Close()
	if cfg.DatabaseURL == "" {
		log.Printf("store: in-memory (no DATABASE_URL set)")
	} else {
		log.Printf("store: postgres")
	}

	provisioner := ice.NewHTTPProvisioner(cfg.TURNAPIURL, cfg.TURNAPIKey, cfg.STUNURLs)
	if cfg.TURNAPIKey == "" {
		log.Printf("ice: STUN only (no TURN_API_KEY set)")
	}

	sessions := session.NewManager()
	h := hub.New()
	verifier := auth.NewVerifier(cfg.AuthSecret)

	relaySvc := relay.NewService(st, h, sessions)
	callSvc := call.NewService(st, h, provisioner)

	api := httpapi.New(cfg, st, sessions, h, relaySvc, callSvc, verifier, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
