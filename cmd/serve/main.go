// serve runs the ingestion service: it keeps the trade logs current from the
// exchange push feed and REST history, and streams merged records to feed consumers.
//
// Usage: go run ./cmd/serve --config configs/prep.example.yaml
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oerlikon/prep/internal/api"
	"github.com/oerlikon/prep/internal/config"
	"github.com/oerlikon/prep/internal/connection"
	"github.com/oerlikon/prep/internal/database"
	"github.com/oerlikon/prep/internal/feed"
	"github.com/oerlikon/prep/internal/ingest"
	"github.com/oerlikon/prep/internal/logging"
	"github.com/oerlikon/prep/internal/market"
	"github.com/oerlikon/prep/internal/metrics"
	"github.com/oerlikon/prep/internal/tradelog"
	"github.com/oerlikon/prep/internal/version"
	"github.com/oerlikon/prep/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/prep.example.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("serve failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging
	logger, logCloser, err := logging.New(cfg.Logging, os.Stdout)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("starting serve",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
		"instance_id", cfg.Instance.ID,
	)

	zones, err := cfg.Zones()
	if err != nil {
		return err
	}
	symbols, err := cfg.Instruments(zones)
	if err != nil {
		return err
	}
	registry, err := market.NewRegistry(symbols)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}

	logger.Info("configuration loaded",
		"symbols", registry.Len(),
		"data_dir", cfg.Data.Dir,
		"ws_url", cfg.API.WSURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	m := metrics.New()
	store := tradelog.NewStore(cfg.Data.Dir)

	apiClient := api.NewClient(
		cfg.API.RestURL,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries),
		api.WithBackoff(cfg.API.BackoffUnit, cfg.API.BackoffMax),
		api.WithBurst(cfg.API.Burst),
		api.WithMetrics(m),
	)

	wsCfg := connection.DefaultClientConfig()
	wsCfg.URL = cfg.API.WSURL
	liveFeed := connection.NewFeed(wsCfg, registry, logger, m)

	hub := feed.NewHub(cfg.Feed.QueueSize, logger, m)

	opts := []ingest.Option{
		ingest.WithLogger(logger),
		ingest.WithMetrics(m),
	}

	// Optional SQL mirror
	var pool *pgxpool.Pool
	var mirror *writer.TradeWriter
	if cfg.Mirror.Enabled {
		db := cfg.Mirror.Database
		logger.Info("connecting to mirror database",
			"host", db.Host,
			"port", db.Port,
			"database", db.Name,
		)
		pool, err = database.Connect(ctx, db)
		if err != nil {
			return fmt.Errorf("connect mirror: %w", err)
		}
		defer pool.Close()

		mirror = writer.NewTradeWriter(writer.WriterConfig{
			BatchSize:     cfg.Mirror.BatchSize,
			FlushInterval: cfg.Mirror.FlushInterval,
		}, pool, logger, m)
		if err := mirror.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := mirror.Start(ctx); err != nil {
			return err
		}
		opts = append(opts, ingest.WithSink(mirror))
		logger.Info("mirror database connected")
	}

	orch := ingest.New(ingest.Config{
		Warmup:          cfg.Ingest.Warmup,
		BufferMax:       cfg.Ingest.BufferMax,
		BufferRetain:    cfg.Ingest.BufferRetain,
		LoadConcurrency: cfg.Ingest.LoadConcurrency,
		InboxSize:       cfg.Ingest.InboxSize,
	}, registry, liveFeed, apiClient, store, hub, opts...)

	feedServer := feed.NewServer(feed.ServerConfig{
		Addr:         cfg.Feed.Addr,
		Path:         cfg.Feed.Path,
		PingInterval: cfg.Feed.PingInterval,
		WriteTimeout: cfg.Feed.WriteTimeout,
	}, hub, orch, logger)
	if err := feedServer.Start(ctx); err != nil {
		return fmt.Errorf("start feed server: %w", err)
	}

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           createHealthHandler(cfg.Metrics.Path, orch, hub, pool, m),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server error", "error", err)
		}
	}()

	logger.Info("serve running",
		"feed_addr", feedServer.Addr(),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	runErr := orch.Run(ctx)
	cancel()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := feedServer.Stop(shutdownCtx); err != nil {
		logger.Warn("feed server stop", "error", err)
	}
	if mirror != nil {
		if err := mirror.Stop(shutdownCtx); err != nil {
			logger.Warn("mirror stop", "error", err)
		}
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("health server stop", "error", err)
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("serve stopped")
	return nil
}

// createHealthHandler creates the HTTP handler for health checks and metrics.
func createHealthHandler(metricsPath string, orch *ingest.Orchestrator, hub *feed.Hub, pool *pgxpool.Pool, m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, m.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		stats := orch.Stats()
		health := struct {
			Status     string         `json:"status"`
			Version    string         `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.Version,
			Components: make(map[string]any),
		}

		switch orch.Phase() {
		case ingest.Live:
		case ingest.Failed, ingest.Stopped:
			health.Status = "unhealthy"
		default:
			health.Status = "starting"
		}
		health.Components["ingest"] = stats
		health.Components["feed"] = map[string]int{"consumers": hub.Len()}

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				if health.Status == "healthy" {
					health.Status = "degraded"
				}
				health.Components["mirror"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["mirror"] = "connected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
