// Package server provides the HTTP handler assembly for castkeep.
// It accepts all dependencies as parameters so that both main() and tests
// can build the same handler chain without route drift.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/castkeep/castkeep/internal/config"
	"github.com/castkeep/castkeep/internal/egress"
	"github.com/castkeep/castkeep/internal/metrics"
	"github.com/castkeep/castkeep/internal/middleware"
	"github.com/castkeep/castkeep/internal/sessions"
	"github.com/castkeep/castkeep/internal/storage"
)

// App holds all dependencies needed to build the HTTP handler.
type App struct {
	Config       *config.Config
	Store        storage.Backend
	Pipeline     *sessions.Pipeline
	Registry     *sessions.Registry
	Orchestrator *egress.Orchestrator // nil when the platform API is not configured
	Webhook      http.Handler         // nil disables the platform webhook route
	Metrics      *metrics.Metrics
	Log          *slog.Logger
}

// Handler builds and returns the complete HTTP handler with all routes
// registered and middleware applied.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if a.Log != nil {
		r.Use(middleware.RequestLogger(a.Log))
	}
	if a.Metrics != nil {
		r.Use(metrics.RequestMiddleware(a.Metrics))
	}

	h := &handlers{app: a}

	// Observability endpoints
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyz)
	if a.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.Metrics.Handler(h.refreshGauges))
	}

	// Media server hooks: the ingest calls these on publish lifecycle events.
	r.Post("/hooks/publish", h.handlePublishStart)
	r.Post("/hooks/publish-done", h.handlePublishEnd)

	// Platform webhook: signed event deliveries driving egress orchestration.
	if a.Webhook != nil {
		webhook := a.Webhook
		if a.Config != nil && a.Config.WebhookRateLimit > 0 {
			rl := middleware.NewRateLimiter(
				rate.Limit(a.Config.WebhookRateLimit), a.Config.WebhookBurst)
			webhook = rl.Middleware(webhook)
		}
		r.Method(http.MethodPost, "/webhooks/platform", webhook)
	}

	// Recordings API
	r.Route("/api", func(r chi.Router) {
		r.Get("/recordings", h.handleListRecordings)
		r.Get("/recordings/{fileName}/url", h.handleRecordingURL)
		r.Delete("/recordings/{fileName}", h.handleDeleteRecording)
		r.Get("/storage/usage", h.handleStorageUsage)
		r.Post("/storage/cleanup", h.handleStorageCleanup)
	})

	return r
}
