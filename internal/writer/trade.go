package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/oerlikon/prep/internal/metrics"
	"github.com/oerlikon/prep/internal/model"
	"github.com/oerlikon/prep/internal/queue"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS trades (
	symbol        TEXT        NOT NULL,
	trade_id      BIGINT      NOT NULL,
	ts            TIMESTAMPTZ NOT NULL,
	price         NUMERIC     NOT NULL,
	buy_volume    NUMERIC     NOT NULL,
	sell_volume   NUMERIC     NOT NULL,
	market_volume NUMERIC     NOT NULL,
	limit_volume  NUMERIC     NOT NULL,
	PRIMARY KEY (symbol, trade_id)
)`

const insertSQL = `
	INSERT INTO trades (symbol, trade_id, ts, price, buy_volume, sell_volume, market_volume, limit_volume)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (symbol, trade_id) DO NOTHING
`

// DB is the subset of *pgxpool.Pool used by the writer.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// TradeWriter batches persisted trades into the trades table.
type TradeWriter struct {
	cfg     WriterConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Input from the persister
	input *queue.Queue[tradeRow]

	// Database
	db DB

	// Batching
	batch       []tradeRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	drained chan struct{}

	// Metrics
	stats WriterMetrics
}

// NewTradeWriter creates a new TradeWriter.
func NewTradeWriter(cfg WriterConfig, db DB, logger *slog.Logger, m *metrics.Metrics) *TradeWriter {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultWriterConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	return &TradeWriter{
		cfg:     cfg,
		input:   queue.New[tradeRow](cfg.BatchSize),
		db:      db,
		logger:  logger,
		metrics: m,
		batch:   make([]tradeRow, 0, cfg.BatchSize),
		drained: make(chan struct{}),
	}
}

// EnsureSchema creates the trades table if it does not exist.
func (w *TradeWriter) EnsureSchema(ctx context.Context) error {
	_, err := w.db.Exec(ctx, schemaSQL)
	return err
}

// HandleTrades queues a symbol's persisted trades. It never blocks.
func (w *TradeWriter) HandleTrades(sym model.Symbol, trades []model.Trade) {
	for _, t := range trades {
		if !w.input.Push(w.transform(sym, t)) {
			w.logger.Warn("trade writer closed, dropping trades", "symbol", sym.Name, "count", len(trades))
			return
		}
	}
}

// Start begins consuming rows and writing to the database.
func (w *TradeWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("trade writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued rows, flushes and shuts down the writer.
func (w *TradeWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping trade writer")
	if w.cancel == nil {
		w.input.Close()
		return nil
	}

	// Closing the input lets the consumer drain what is queued.
	w.input.Close()

	select {
	case <-w.drained:
	case <-ctx.Done():
		w.logger.Warn("trade writer drain timed out", "pending", w.input.Len())
	}

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("trade writer stopped")
	case <-ctx.Done():
		w.logger.Warn("trade writer stop timed out")
	}

	// Final flush
	w.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (w *TradeWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.stats
}

// consumeLoop moves queued rows into the batch until the input is closed
// and drained.
func (w *TradeWriter) consumeLoop() {
	defer w.wg.Done()
	defer close(w.drained)

	for {
		rows := w.input.PopBatch(w.cfg.BatchSize)
		if rows == nil {
			return
		}
		w.handleRows(rows)
	}
}

// flushLoop periodically flushes the batch.
func (w *TradeWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handleRows adds rows to the batch, flushing when it is full.
func (w *TradeWriter) handleRows(rows []tradeRow) {
	w.batchMu.Lock()
	w.batch = append(w.batch, rows...)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// transform converts a trade to a tradeRow.
func (w *TradeWriter) transform(sym model.Symbol, t model.Trade) tradeRow {
	return tradeRow{
		Symbol:       sym.Name,
		TradeID:      t.TradeID,
		Ts:           t.Time,
		Price:        t.Price.String(),
		BuyVolume:    t.BuyVolume.String(),
		SellVolume:   t.SellVolume.String(),
		MarketVolume: t.MarketVolume.String(),
		LimitVolume:  t.LimitVolume.String(),
	}
}

// flush writes the current batch to the database.
func (w *TradeWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]tradeRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.stats.Errors++
		w.batchMu.Unlock()
		w.metrics.MirrorRows("error", len(batch))
		return
	}

	w.batchMu.Lock()
	w.stats.Inserts += int64(len(batch) - conflicts)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.batchMu.Unlock()

	w.metrics.MirrorRows("inserted", len(batch)-conflicts)
	w.metrics.MirrorRows("conflict", conflicts)

	w.logger.Debug("flushed trades",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *TradeWriter) batchInsert(ctx context.Context, rows []tradeRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertSQL,
			r.Symbol, r.TradeID, r.Ts, r.Price, r.BuyVolume, r.SellVolume, r.MarketVolume, r.LimitVolume)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
