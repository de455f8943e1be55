package ingest

import (
	"context"
	"fmt"

	"github.com/oerlikon/prep/internal/feed"
	"github.com/oerlikon/prep/internal/model"
	"github.com/oerlikon/prep/internal/queue"
)

// persistJob is one batch to append to a symbol's trade log.
type persistJob struct {
	symbol model.Symbol
	trades []model.Trade
}

// startWorkers starts the persister and the publisher. Both drain their
// queues after ctx is cancelled and exit once the queues are closed.
func (o *Orchestrator) startWorkers(ctx context.Context) {
	o.persistQ = queue.New[persistJob](64)
	o.publishQ = queue.New[feed.Batch](64)

	o.workers.Add(2)
	go func() {
		defer o.workers.Done()
		o.persist(ctx)
	}()
	go func() {
		defer o.workers.Done()
		o.publish()
	}()
}

// persist is the only writer of the trade log for the run. It never appends
// a record at or below the last id already in a symbol's log. After an
// append fails, further jobs are dropped.
func (o *Orchestrator) persist(ctx context.Context) {
	last := make(map[string]int64)
	failed := false

	for {
		job, ok := o.persistQ.Pop()
		if !ok {
			return
		}
		if failed {
			continue
		}

		if err := o.persistOne(last, job); err != nil {
			failed = true
			o.fail(ctx, "persister", err)
		}
	}
}

func (o *Orchestrator) persistOne(last map[string]int64, job persistJob) error {
	name := job.symbol.Name

	lastID, seen := last[name]
	if !seen {
		mark, ok, err := o.store.Last(job.symbol)
		if err != nil {
			return fmt.Errorf("last %s: %w", job.symbol, err)
		}
		if ok {
			lastID = mark.TradeID
		}
	}

	trades := job.trades
	i := 0
	for i < len(trades) && trades[i].TradeID <= lastID {
		i++
	}
	trades = trades[i:]
	if len(trades) == 0 {
		last[name] = lastID
		return nil
	}

	if err := o.store.Append(job.symbol, trades); err != nil {
		return fmt.Errorf("append %s: %w", job.symbol, err)
	}
	last[name] = trades[len(trades)-1].TradeID
	o.metrics.TradesPersisted(name, len(trades))

	for _, s := range o.sinks {
		s.HandleTrades(job.symbol, trades)
	}
	return nil
}

// publish hands batches to the publisher in Seq order.
func (o *Orchestrator) publish() {
	for {
		b, ok := o.publishQ.Pop()
		if !ok {
			return
		}
		if o.publisher != nil {
			o.publisher.Broadcast(b)
		}
	}
}
