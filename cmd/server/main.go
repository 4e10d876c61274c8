// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

// Package main is the entry point for the Wayfarer server.
//
// Wayfarer is a self-hosted backend for location-aware travel apps. It
// aggregates points of interest from OpenStreetMap, deduplicates and
// enriches them with Wikipedia context, and synthesizes short spoken
// narrations in multiple styles and languages.
//
// Startup order:
//
//  1. Configuration (Koanf: defaults, optional YAML file, environment)
//  2. DuckDB POI store
//  3. Badger cache (throttle, search and narration entries)
//  4. Optional embedded NATS JetStream and the enrichment queue
//  5. Upstream clients (Overpass, Wikipedia, narration model)
//  6. HTTP server under the suture supervisor tree
//
// Shutdown is graceful on SIGINT/SIGTERM: the supervisor stops the
// worker and drains in-flight HTTP requests before the stores close.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wayfarerhq/wayfarer/internal/api"
	"github.com/wayfarerhq/wayfarer/internal/config"
	"github.com/wayfarerhq/wayfarer/internal/database"
	"github.com/wayfarerhq/wayfarer/internal/enrichment"
	"github.com/wayfarerhq/wayfarer/internal/kvcache"
	"github.com/wayfarerhq/wayfarer/internal/logging"
	"github.com/wayfarerhq/wayfarer/internal/narration"
	"github.com/wayfarerhq/wayfarer/internal/osm"
	"github.com/wayfarerhq/wayfarer/internal/poi"
	"github.com/wayfarerhq/wayfarer/internal/supervisor"
	"github.com/wayfarerhq/wayfarer/internal/wiki"
)

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Str("cache_path", cfg.Cache.Path).
		Bool("queue_enabled", cfg.Queue.Enabled).
		Msg("Starting Wayfarer")

	db, err := database.New(cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	cache, err := kvcache.Open(cfg.Cache)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open cache")
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing cache")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional embedded NATS server. With an external URL configured
	// this stays nil and the queue connects out.
	var embedded *enrichment.EmbeddedServer
	queueURL := cfg.Queue.URL
	if cfg.Queue.Enabled && cfg.Queue.EmbeddedServer {
		embedded, err = enrichment.NewEmbeddedServer(cfg.Queue)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := embedded.Shutdown(shutdownCtx); err != nil {
				logging.Error().Err(err).Msg("Error shutting down embedded NATS server")
			}
		}()
		queueURL = embedded.ClientURL()
		logging.Info().Str("url", queueURL).Msg("Embedded NATS server ready")
	}

	osmClient := osm.NewClient(cfg.Overpass)
	wikiClient := wiki.NewClient(cfg.Wikipedia)
	synth := narration.NewLLMClient(cfg.LLM)

	pipeline := enrichment.NewPipeline(db, cache, osmClient, wikiClient, cfg.Enrichment)
	narrator := narration.NewService(db, cache, synth, cfg.Narration)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	// With the queue enabled, nearby searches publish refresh requests
	// and the supervised worker consumes them. Without it the finder
	// enriches inline on the request path.
	var enqueuer poi.Enqueuer
	if cfg.Queue.Enabled {
		if err := enrichment.EnsureStream(ctx, queueURL, cfg.Queue); err != nil {
			logging.Fatal().Err(err).Msg("Failed to provision JetStream stream")
		}

		publisher, err := enrichment.NewPublisher(queueURL, cfg.Queue)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to create queue publisher")
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing queue publisher")
			}
		}()

		worker, err := enrichment.NewWorker(queueURL, cfg.Queue, pipeline, publisher.WatermillPublisher())
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to create queue worker")
		}
		defer func() {
			if err := worker.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing queue worker")
			}
		}()

		tree.AddMessagingService(worker)
		enqueuer = publisher
		logging.Info().
			Str("stream", cfg.Queue.StreamName).
			Str("topic", cfg.Queue.Topic).
			Int("workers", cfg.Queue.Workers).
			Msg("Enrichment queue wired")
	} else {
		logging.Info().Msg("Enrichment queue disabled, refreshing inline")
	}

	finder := poi.NewFinder(db, cache, pipeline, enqueuer, cfg.Enrichment, cfg.Narration.DefaultLang)

	var ready func(ctx context.Context) error
	if embedded != nil {
		ready = func(context.Context) error {
			if !embedded.IsRunning() {
				return errors.New("embedded NATS server not running")
			}
			return nil
		}
	}

	handler := api.NewHandler(db, finder, narrator, pipeline, ready)
	router := api.NewRouter(handler, cfg.Security)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	tree.AddMessagingService(supervisor.NewCacheGCService(cache, 10*time.Minute))
	tree.AddAPIService(supervisor.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Wayfarer stopped gracefully")
}
