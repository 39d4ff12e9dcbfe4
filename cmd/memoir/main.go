package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/acapanni/memoir/internal/config"
	"github.com/acapanni/memoir/internal/gallery"
	"github.com/acapanni/memoir/internal/gemini"
	"github.com/acapanni/memoir/internal/httpapi"
	"github.com/acapanni/memoir/internal/observability"
	"github.com/acapanni/memoir/internal/session"
	"github.com/acapanni/memoir/internal/vision"
	"github.com/acapanni/memoir/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := gallery.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("gallery store init failed: %v", err)
	}
	defer store.Close()

	library := gallery.NewLibrary(store)
	if err := library.Restore(ctx); err != nil {
		log.Printf("gallery restore failed, starting empty: %v", err)
	} else if n := library.Len(); n > 0 {
		log.Printf("gallery restored with %d photos", n)
	}

	dialer, analyzer, err := gemini.NewBackends(ctx, cfg.GeminiAPIKey)
	if err != nil {
		log.Fatalf("gemini client init failed: %v", err)
	}
	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		log.Printf("GEMINI_API_KEY not set, running with mock backends")
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	visionSvc := vision.NewService(analyzer, library, cfg.AnalysisModel, metrics)

	orchestrator := voice.NewOrchestrator(
		sessions,
		dialer,
		analyzer,
		library,
		metrics,
		cfg.LiveModel,
		cfg.AnalysisModel,
		cfg.VoiceName,
		cfg.CaptureQueueDepth,
		cfg.AssistantAudioDumpPath,
	)

	api := httpapi.New(cfg, sessions, orchestrator, library, visionSvc, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

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

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
