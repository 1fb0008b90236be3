// castkeep admits broadcast sessions from a media server, archives finished
// captures to local or S3-compatible storage, and drives composite egress on
// the streaming platform in response to signed webhook events.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/castkeep/castkeep/internal/config"
	"github.com/castkeep/castkeep/internal/egress"
	"github.com/castkeep/castkeep/internal/logger"
	"github.com/castkeep/castkeep/internal/metrics"
	"github.com/castkeep/castkeep/internal/server"
	"github.com/castkeep/castkeep/internal/sessions"
	"github.com/castkeep/castkeep/internal/storage"
	"github.com/castkeep/castkeep/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: failed to load configuration\n\n%s\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	ctx := context.Background()

	store, err := storage.New(ctx, storage.Options{
		Backend:        cfg.StorageBackend,
		RecordingsPath: cfg.RecordingsPath,
		CapacityBytes:  cfg.CapacityBytes,
		S3: storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			Prefix:          cfg.S3Prefix,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			CDNDomain:       cfg.CDNDomain,
			CapacityBytes:   cfg.CapacityBytes,
			URLExpiry:       cfg.URLExpiry,
		},
	})
	if err != nil {
		log.Error("failed to initialize storage backend", "error", err)
		os.Exit(1)
	}

	met := metrics.New()
	registry := sessions.NewRegistry()
	pipeline := sessions.NewPipeline(registry, store, cfg.TempPath, met)

	app := &server.App{
		Config:   cfg,
		Store:    store,
		Pipeline: pipeline,
		Registry: registry,
		Metrics:  met,
		Log:      log,
	}

	if cfg.EgressEnabled() {
		platform := egress.NewPlatformClient(cfg.PlatformAPIURL, cfg.PlatformAPIKey, cfg.PlatformAPISecret)
		app.Orchestrator = egress.NewOrchestrator(platform, platform, cfg.EgressRetryDelay, met)
		app.Webhook = webhook.NewHandler(cfg.PlatformAPIKey, cfg.PlatformAPISecret, app.Orchestrator, met)
		log.Info("egress orchestration enabled", "platform_url", cfg.PlatformAPIURL)
	} else {
		log.Info("platform API not configured, egress orchestration disabled")
	}

	cleaner := storage.NewCleaner(store, cfg.RecordingMaxAgeHours, cfg.CleanupInterval)
	cleaner.Start()
	defer cleaner.Stop()

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: app.Handler()}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"storage_backend", cfg.StorageBackend,
		"recordings_path", cfg.RecordingsPath,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
