// Package poller backfills trade logs from the exchange's REST trade history.
package poller

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oerlikon/prep/internal/metrics"
	"github.com/oerlikon/prep/internal/model"
	"github.com/oerlikon/prep/internal/tradelog"
)

// Fetcher pages through trade history for one pair.
type Fetcher interface {
	FetchTrades(ctx context.Context, pair string, start time.Time, lastID int64) iter.Seq2[[]model.Trade, error]
}

// Store is the trade log being backfilled.
type Store interface {
	Append(sym model.Symbol, trades []model.Trade) error
	Last(sym model.Symbol) (tradelog.Mark, bool, error)
}

// TradeHandler receives every batch after it has been appended.
type TradeHandler interface {
	HandleTrades(sym model.Symbol, trades []model.Trade)
}

// TradeHandlerFunc is a function adapter for TradeHandler.
type TradeHandlerFunc func(model.Symbol, []model.Trade)

func (f TradeHandlerFunc) HandleTrades(sym model.Symbol, trades []model.Trade) {
	f(sym, trades)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Time between backfill cycles (0: run once)
	Concurrency int           // Symbols backfilled in parallel (default: 1)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    0,
		Concurrency: 1,
	}
}

// Poller appends everything the exchange has beyond each symbol's last
// logged record.
type Poller struct {
	cfg     Config
	fetcher Fetcher
	store   Store
	symbols []model.Symbol
	handler TradeHandler
	logger  *slog.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. handler may be nil.
func New(cfg Config, fetcher Fetcher, store Store, symbols []model.Symbol, handler TradeHandler, logger *slog.Logger, m *metrics.Metrics) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Poller{
		cfg:     cfg,
		fetcher: fetcher,
		store:   store,
		symbols: symbols,
		handler: handler,
		logger:  logger,
		metrics: m,
	}
}

// Start begins the periodic backfill loop.
func (p *Poller) Start(ctx context.Context) error {
	if p.cfg.Interval <= 0 {
		return errors.New("poller interval must be positive")
	}
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("backfill poller started",
		"interval", p.cfg.Interval,
		"symbols", len(p.symbols),
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("backfill poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Backfill immediately on start.
	p.RunOnce(p.ctx)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.RunOnce(p.ctx)
		}
	}
}

// RunOnce backfills every symbol and returns the joined per-symbol errors.
// A failed symbol does not stop the others.
func (p *Poller) RunOnce(ctx context.Context) error {
	start := time.Now()

	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var appended atomic.Int64

	var mu sync.Mutex
	var errs []error

	for _, sym := range p.symbols {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Acquire semaphore slot.
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			n, err := p.Backfill(ctx, sym)
			appended.Add(int64(n))
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Warn("backfill failed", "symbol", sym.String(), "error", err)
				}
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", sym, err))
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	p.logger.Info("backfill cycle complete",
		"symbols", len(p.symbols),
		"appended", appended.Load(),
		"errors", len(errs),
		"duration", time.Since(start),
	)

	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// Backfill appends one symbol's missing history and returns the number of
// records appended. It resumes after the last logged record, or at the
// symbol's start when the log is empty.
func (p *Poller) Backfill(ctx context.Context, sym model.Symbol) (int, error) {
	from, lastID := sym.Start, int64(0)
	mark, ok, err := p.store.Last(sym)
	if err != nil {
		return 0, err
	}
	if ok {
		from, lastID = mark.Time, mark.TradeID
	}

	p.logger.Info("backfilling",
		"symbol", sym.String(),
		"from", tradelog.FormatTime(sym.In(from)),
		"last_id", lastID,
	)

	total := 0
	for trades, err := range p.fetcher.FetchTrades(ctx, sym.Name, from, lastID) {
		if err != nil {
			return total, err
		}

		trades = p.validate(sym, trades)
		if len(trades) == 0 {
			continue
		}
		if err := p.store.Append(sym, trades); err != nil {
			return total, err
		}
		total += len(trades)
		p.metrics.TradesPersisted(sym.Name, len(trades))

		if p.handler != nil {
			p.handler.HandleTrades(sym, trades)
		}

		p.logger.Debug("appended page",
			"symbol", sym.String(),
			"to", tradelog.FormatTime(sym.In(trades[len(trades)-1].Time)),
			"count", len(trades),
		)
	}

	p.logger.Info("backfill complete", "symbol", sym.String(), "appended", total)
	return total, nil
}

// validate drops records that violate trade invariants.
func (p *Poller) validate(sym model.Symbol, trades []model.Trade) []model.Trade {
	out := make([]model.Trade, 0, len(trades))
	for _, t := range trades {
		if err := t.Validate(); err != nil {
			p.logger.Warn("discarding trade", "symbol", sym.String(), "trade_id", t.TradeID, "error", err)
			p.metrics.DataError("rest")
			continue
		}
		out = append(out, t)
	}
	return out
}
