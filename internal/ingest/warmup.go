package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oerlikon/prep/internal/model"
	"github.com/oerlikon/prep/internal/tradelog"
)

// startLoader reads every symbol's recent trade log tail on a bounded pool
// and reports one loadedMsg per symbol.
func (o *Orchestrator) startLoader(ctx context.Context) {
	since := o.now().Add(-o.cfg.Warmup)
	symbols := o.symbols

	o.spawn(ctx, "loader", func(ctx context.Context) error {
		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(o.cfg.LoadConcurrency)

		for _, sym := range symbols {
			g.Go(func() error {
				m, err := o.load(sym, since)
				if err != nil {
					return err
				}
				o.post(ctx, m)
				return nil
			})
		}
		return g.Wait()
	})
}

// load reads one symbol's tail and decides where gap-fill resumes: after
// the tail, else after the last logged record, else at the symbol's start.
func (o *Orchestrator) load(sym model.Symbol, since time.Time) (loadedMsg, error) {
	tail, err := o.store.Tail(sym, since)
	if err != nil && !errors.Is(err, tradelog.ErrNotFound) {
		return loadedMsg{}, fmt.Errorf("tail %s: %w", sym, err)
	}
	if n := len(tail); n > 0 {
		return loadedMsg{symbol: sym, tail: tail, from: tail[n-1].Time, lastID: tail[n-1].TradeID}, nil
	}

	mark, ok, err := o.store.Last(sym)
	if err != nil {
		return loadedMsg{}, fmt.Errorf("last %s: %w", sym, err)
	}
	if ok {
		return loadedMsg{symbol: sym, from: mark.Time, lastID: mark.TradeID}, nil
	}
	return loadedMsg{symbol: sym, from: sym.Start}, nil
}

// startFetcher gap-fills every symbol in turn from its resume point,
// reporting each page as it arrives, then fetchDoneMsg.
func (o *Orchestrator) startFetcher(ctx context.Context) {
	points := make([]loadedMsg, 0, len(o.symbols))
	for _, sym := range o.symbols {
		points = append(points, o.resume[sym.Name])
	}

	o.spawn(ctx, "fetcher", func(ctx context.Context) error {
		for _, p := range points {
			for trades, err := range o.fetcher.FetchTrades(ctx, p.symbol.Name, p.from, p.lastID) {
				if err != nil {
					return fmt.Errorf("fetch %s: %w", p.symbol, err)
				}
				if !o.post(ctx, fetchedMsg{symbol: p.symbol, trades: trades}) {
					return ctx.Err()
				}
			}
		}
		o.post(ctx, fetchDoneMsg{})
		return nil
	})
}
