// Package main is the routedesk API server.
//
// Startup order:
//  1. Load configuration (.env, CONFIG_FILE, environment)
//  2. Initialise logging and metrics
//  3. Open the snapshot store
//  4. Build the estimator, geocoder, event broker and webhook pipeline
//  5. Open the desk registry and the refresh scheduler
//  6. Serve HTTP until SIGINT/SIGTERM, then shut down in reverse order
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"routedesk/internal/api"
	"routedesk/internal/buildinfo"
	"routedesk/internal/config"
	"routedesk/internal/desk"
	"routedesk/internal/estimator"
	"routedesk/internal/geocode"
	"routedesk/internal/logger"
	"routedesk/internal/metrics"
	"routedesk/internal/scheduler"
	"routedesk/internal/store"
	"routedesk/internal/webhooks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)
	metrics.RegisterDefault()

	log.Info().Str("version", buildinfo.Version).Msg("Starting routedesk")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, store.Options{
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
		RedisURL:    cfg.RedisURL,
		UseRedis:    cfg.StoreRedis,
		RedisTTL:    cfg.SnapshotTTL,
		Migrate:     cfg.DBMigrate,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}

	var est estimator.Estimator
	if cfg.EstimatorURL != "" {
		est = estimator.NewHTTPEstimator(estimator.HTTPConfig{
			URL:     cfg.EstimatorURL,
			APIKey:  cfg.EstimatorAPIKey,
			Timeout: cfg.EstimatorTimeout,
			RPS:     cfg.EstimatorRPS,
		})
		log.Info().Str("url", cfg.EstimatorURL).Msg("Using remote estimator")
	} else {
		est = estimator.NewLocalEstimator()
		log.Info().Msg("ESTIMATOR_URL not set, using local estimator")
	}

	var broker api.EventBroker = api.NewBroker()
	if cfg.RedisURL != "" {
		rb, err := api.NewRedisBroker(cfg.RedisURL, log)
		if err != nil {
			log.Warn().Err(err).Msg("Redis broker unavailable, falling back to in-memory")
		} else {
			broker = rb
			defer func() { _ = rb.Close() }()
		}
	}

	queue := store.NewMemoryQueue()
	publisher := webhooks.NewPublisher(queue, cfg.WebhookURLs, cfg.WebhookSecret, log)
	var worker *webhooks.Worker
	if publisher.Enabled() {
		worker = webhooks.NewWorker(queue, cfg.WebhookMaxAttempts, log)
		worker.Start()
		log.Info().Int("subscribers", len(cfg.WebhookURLs)).Msg("Webhook worker started")
	}

	desks := desk.NewRegistry(desk.Options{
		Estimator:       est,
		Resolver:        geocode.NewNominatimResolver(cfg.GeocoderURL, 10*time.Second),
		Store:           st,
		Notifier:        &api.Fanout{Broker: broker, Webhooks: publisher, Log: log},
		Logger:          log,
		DefaultDepot:    cfg.Depot(),
		DefaultStart:    cfg.StartTime,
		EstimateTimeout: cfg.EstimatorTimeout,
	})

	sched := scheduler.New(log)
	if cfg.RefreshSchedule != "" {
		if err := sched.AddJob(cfg.RefreshSchedule, scheduler.NewRefreshJob(desks, log)); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.RefreshSchedule).Msg("Invalid refresh schedule")
		}
	}
	sched.Start()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           api.NewServer(desks, broker, st, cfg, log).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	cancel()

	log.Info().Msg("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	sched.Stop()
	desks.Close()
	if worker != nil {
		worker.Shutdown()
	}
	closeStore(st, log)
	log.Info().Msg("Server stopped")
}

func closeStore(st store.Store, log zerolog.Logger) {
	c, ok := st.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing store")
	}
}
