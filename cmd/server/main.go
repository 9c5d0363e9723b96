package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suniash/yolo-playground/internal/backend"
	"github.com/suniash/yolo-playground/internal/jobs"
	"github.com/suniash/yolo-playground/internal/overlay"
	"github.com/suniash/yolo-playground/internal/platform/config"
	"github.com/suniash/yolo-playground/internal/platform/logger"
	"github.com/suniash/yolo-playground/internal/platform/metrics"
	"github.com/suniash/yolo-playground/internal/session"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()
	cfg := config.FromEnv()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	met := metrics.New()

	client := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout, cfg.BackendAPIKey)

	var tracker jobs.Tracker
	switch cfg.TrackerMode {
	case config.TrackerStream:
		tracker = jobs.NewStreamTracker(client, client, cfg.PollInterval, log, met)
	default:
		tracker = jobs.NewPoller(client, cfg.PollInterval, log, met)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var list *jobs.List
	if cfg.JobFeedEnabled {
		list = jobs.NewList()
		feed := jobs.NewFeed(client, client, list, cfg.PollInterval, log)
		go feed.Run(ctx)
	}

	var shares session.ShareBackend
	if cfg.SharesEnabled {
		shares = client.Shares()
	}

	svc := session.NewService(session.NewRegistry(), session.Options{
		Backend:    client,
		Tracker:    tracker,
		Renderer:   overlay.NewRenderer(cfg.TrailWindow),
		Shares:     shares,
		Jobs:       list,
		Filters:    overlay.DefaultFilters(),
		Log:        log,
		Observer:   met,
		IdleTTL:    cfg.SessionIdleTTL,
		MaxSurface: cfg.MaxSurfacePx,
	})
	go svc.RunReaper(ctx, reapInterval(cfg.SessionIdleTTL))
	h := session.NewHandler(svc, log)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			met.SetActiveSessions(svc.ActiveSessions())
			met.SetActiveSources(svc.ActiveSources())
		}).ServeHTTP(w, r)
	})
	session.RegisterRoutes(r, h)

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"backend_url", cfg.BackendURL,
		"tracker_mode", cfg.TrackerMode,
		"poll_interval", cfg.PollInterval.String(),
		"trail_window", cfg.TrailWindow,
		"job_feed", cfg.JobFeedEnabled,
		"shares", cfg.SharesEnabled,
		"session_idle_ttl", cfg.SessionIdleTTL.String(),
		"max_surface_px", cfg.MaxSurfacePx,
		"log_level", cfg.LogLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, closing sessions")

	stop()
	svc.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

// reapInterval checks for idle sessions a few times per TTL.
func reapInterval(ttl time.Duration) time.Duration {
	if d := ttl / 4; d > time.Second {
		return d
	}
	return time.Second
}
