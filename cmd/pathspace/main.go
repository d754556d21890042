// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command pathspace starts the PathSpace server.
//
// PathSpace is a path-addressed concurrent store with:
//   - Per-path FIFO value and task queues addressed like file paths
//   - Glob fan-out for inserts, reads and takes
//   - Blocking reads with deadlines and deferred task execution
//   - Per-root undo/redo history with copy-on-write snapshots
//   - A REST inspector and a websocket mutation feed
//
// Usage:
//
//	go run ./cmd/pathspace
//	go run ./cmd/pathspace -port 9090 -debug
//	go run ./cmd/pathspace -config ~/.pathspace/pathspace.yaml
//	go run ./cmd/pathspace -data-dir /var/lib/pathspace
//
// With tracing (requires an OTLP collector):
//
//	OTEL_EXPORTER_OTLP_ENDPOINT=localhost:4317 go run ./cmd/pathspace
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/api/v1/health
//
//	# Insert a value
//	curl -X POST http://localhost:8080/api/v1/space/insert \
//	  -H "Content-Type: application/json" \
//	  -d '{"path": "/sensors/temp", "value": 21.5}'
//
//	# Take it back out
//	curl -X POST http://localhost:8080/api/v1/space/take \
//	  -H "Content-Type: application/json" \
//	  -d '{"path": "/sensors/temp"}'
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/pathspace/pkg/logging"
	"github.com/AleutianAI/pathspace/services/space"
	"github.com/AleutianAI/pathspace/services/space/cache"
	storage "github.com/AleutianAI/pathspace/services/space/storage/badger"
	"github.com/AleutianAI/pathspace/services/space/telemetry"
)

func main() {
	port := flag.Int("port", 0, "Port to listen on (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug mode")
	configPath := flag.String("config", "", "Path to a YAML config file")
	dataDir := flag.String("data-dir", "", "BadgerDB directory for history persistence (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dataDir != "" {
		cfg.Storage.Dir = *dataDir
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}

	logger := logging.New(logging.Config{
		Level:   parseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "pathspace",
		JSON:    cfg.Logging.JSON,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	// --- Init the tracer and meter ---
	telemetryShutdown, err := telemetry.Init(context.Background(), telemetry.DefaultConfig())
	if err != nil {
		log.Fatalf("Failed to set up telemetry: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryShutdown(ctx); err != nil {
			slog.Error("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	// Optional badger store for history persistence
	var store *storage.DB
	if cfg.Storage.Dir != "" {
		storeCfg := storage.DefaultConfig()
		storeCfg.Path = cfg.Storage.Dir
		storeCfg.SyncWrites = cfg.Storage.SyncWrites
		storeCfg.Logger = slog.Default()
		store, err = storage.OpenDB(storeCfg)
		if err != nil {
			log.Fatalf("Failed to open the badger store: %v", err)
		}
		defer store.Close()
		slog.Info("History persistence enabled", slog.String("dir", cfg.Storage.Dir))
	} else {
		slog.Info("No storage directory configured, history spill stays in RAM")
	}

	sp := space.New(spaceOptions(cfg, store)...)
	handlers := space.NewHandlers(sp)

	// Set Gin mode
	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup router
	router := gin.New()
	router.Use(gin.Recovery())
	if *debug {
		router.Use(gin.Logger())
	}
	router.Use(otelgin.Middleware("pathspace"))

	// Register inspector routes under /api/v1
	v1 := router.Group("/api/v1")
	v1.Use(space.RateLimitMiddleware(cfg.Server.RequestsPerSecond, cfg.Server.Burst))
	space.RegisterRoutes(v1, handlers)

	// Prometheus scrape endpoint, outside the rate limit
	if mh := telemetry.MetricsHandler(); mh != nil {
		router.GET("/metrics", gin.WrapH(mh))
	}

	// Wrap the whole router so HTTP metrics count rejected routes too
	var handler http.Handler = router
	metrics, err := telemetry.NewMetrics(otel.Meter("pathspace.http"))
	if err != nil {
		slog.Warn("HTTP metrics disabled", slog.String("error", err.Error()))
	} else {
		handler = telemetry.MetricsMiddleware(metrics)(handler)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler,
		// Bounds header reads only; the websocket feed holds
		// connections open indefinitely.
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Print startup banner
	printBanner(cfg.Server.Port, store != nil)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting the PathSpace server", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("Failed to start server: %v", err)
	case sig := <-quit:
		slog.Info("Shutting down the PathSpace server", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", slog.String("error", err.Error()))
	}
	if err := sp.Shutdown(shutdownCtx); err != nil {
		slog.Error("Space shutdown failed", slog.String("error", err.Error()))
	}
	slog.Info("Shutdown complete")
}

// spaceOptions translates the config into Space options.
func spaceOptions(cfg Config, store *storage.DB) []space.Option {
	opts := []space.Option{space.WithLogger(slog.Default())}
	if cfg.Space.Workers > 0 {
		opts = append(opts, space.WithWorkers(cfg.Space.Workers))
	}

	var cacheOpts []cache.Option
	if cfg.Space.CacheMaxEntries > 0 {
		cacheOpts = append(cacheOpts, cache.WithMaxEntries(cfg.Space.CacheMaxEntries))
	}
	if cfg.Space.CacheTTLSeconds > 0 {
		cacheOpts = append(cacheOpts, cache.WithTTL(time.Duration(cfg.Space.CacheTTLSeconds)*time.Second))
	}
	if len(cacheOpts) > 0 {
		opts = append(opts, space.WithCache(cacheOpts...))
	}

	if store != nil {
		opts = append(opts, space.WithStore(store.DB))
	}
	return opts
}

func printBanner(port int, persistent bool) {
	storageStatus := "in-memory (history spill disabled)"
	if persistent {
		storageStatus = "badger-backed history persistence"
	}

	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                         PATHSPACE SERVER                          ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Path-addressed concurrent store with glob fan-out, blocking      ║
║  reads, deferred tasks and per-root undo/redo history.            ║
║  Storage: %-53s ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost:%d/api/v1/health                    │  ║
║  │                                                             │  ║
║  │ # Insert a value                                            │  ║
║  │ curl -X POST http://localhost:%d/api/v1/space/insert \    │  ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"path": "/sensors/temp", "value": 21.5}'             │  ║
║  │                                                             │  ║
║  │ # Take it back out                                          │  ║
║  │ curl -X POST http://localhost:%d/api/v1/space/take \      │  ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"path": "/sensors/temp"}'                            │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── Space: /stats, /paths, /types, /insert, /read, /take        ║
║  ├── History: /stats, /snapshot, /delta, /enable, /undo, /redo   ║
║  ├── Events: /ws/events (websocket mutation feed)                ║
║  └── Metrics: /metrics (Prometheus)                               ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, storageStatus, port, port, port)
}
