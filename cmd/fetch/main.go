// fetch backfills trade logs from the exchange REST history, once or on an interval.
//
// Usage: go run ./cmd/fetch --config configs/prep.example.yaml [--interval 15m] [--symbols XBTUSD,ETHUSD]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/oerlikon/prep/internal/api"
	"github.com/oerlikon/prep/internal/config"
	"github.com/oerlikon/prep/internal/database"
	"github.com/oerlikon/prep/internal/logging"
	"github.com/oerlikon/prep/internal/metrics"
	"github.com/oerlikon/prep/internal/model"
	"github.com/oerlikon/prep/internal/poller"
	"github.com/oerlikon/prep/internal/tradelog"
	"github.com/oerlikon/prep/internal/version"
	"github.com/oerlikon/prep/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/prep.example.yaml", "path to config file")
	interval := flag.Duration("interval", -1, "time between backfill cycles; 0 runs once (default: poller.interval)")
	only := flag.String("symbols", "", "comma-separated symbols to backfill (default: all)")
	flag.Parse()

	if err := run(*configPath, *interval, *only); err != nil {
		slog.Error("fetch failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, interval time.Duration, only string) error {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if interval >= 0 {
		cfg.Poller.Interval = interval
	}

	logger, logCloser, err := logging.New(cfg.Logging, os.Stdout)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("starting fetch",
		"version", version.Version,
		"config", configPath,
		"interval", cfg.Poller.Interval,
	)

	zones, err := cfg.Zones()
	if err != nil {
		return err
	}
	symbols, err := cfg.Instruments(zones)
	if err != nil {
		return err
	}
	symbols, err = selectSymbols(symbols, only)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	m := metrics.New()
	apiClient := api.NewClient(
		cfg.API.RestURL,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries),
		api.WithBackoff(cfg.API.BackoffUnit, cfg.API.BackoffMax),
		api.WithBurst(cfg.API.Burst),
		api.WithMetrics(m),
	)

	var handler poller.TradeHandler
	if cfg.Mirror.Enabled {
		pool, err := database.Connect(ctx, cfg.Mirror.Database)
		if err != nil {
			return fmt.Errorf("connect mirror: %w", err)
		}
		defer pool.Close()

		mirror := writer.NewTradeWriter(writer.WriterConfig{
			BatchSize:     cfg.Mirror.BatchSize,
			FlushInterval: cfg.Mirror.FlushInterval,
		}, pool, logger, m)
		if err := mirror.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := mirror.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer stopCancel()
			if err := mirror.Stop(stopCtx); err != nil {
				logger.Warn("mirror stop", "error", err)
			}
		}()
		handler = mirror
	}

	p := poller.New(poller.Config{
		Interval:    cfg.Poller.Interval,
		Concurrency: cfg.Poller.Concurrency,
	}, apiClient, tradelog.NewStore(cfg.Data.Dir), symbols, handler, logger, m)

	if cfg.Poller.Interval == 0 {
		return p.RunOnce(ctx)
	}

	if err := p.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	return p.Stop(stopCtx)
}

// selectSymbols keeps the configured symbols named in only, in configuration order.
func selectSymbols(symbols []model.Symbol, only string) ([]model.Symbol, error) {
	if only == "" {
		return symbols, nil
	}
	var names []string
	for _, n := range strings.Split(only, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, strings.ToUpper(n))
		}
	}

	var out []model.Symbol
	for _, s := range symbols {
		if slices.Contains(names, s.Name) {
			out = append(out, s)
		}
	}
	for _, n := range names {
		if !slices.ContainsFunc(out, func(s model.Symbol) bool { return s.Name == n }) {
			return nil, fmt.Errorf("symbol %s is not configured", n)
		}
	}
	return out, nil
}
