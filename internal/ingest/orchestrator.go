package ingest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/oerlikon/prep/internal/connection"
	"github.com/oerlikon/prep/internal/feed"
	"github.com/oerlikon/prep/internal/market"
	"github.com/oerlikon/prep/internal/metrics"
	"github.com/oerlikon/prep/internal/model"
	"github.com/oerlikon/prep/internal/queue"
	"github.com/oerlikon/prep/internal/tradelog"
)

// LiveFeed delivers live feed events until ctx is cancelled or it fails.
type LiveFeed interface {
	Run(ctx context.Context, emit func(connection.Event)) error
}

// Fetcher pages through trade history for one symbol.
type Fetcher interface {
	FetchTrades(ctx context.Context, pair string, start time.Time, lastID int64) iter.Seq2[[]model.Trade, error]
}

// Store is the durable per-symbol trade log.
type Store interface {
	Append(sym model.Symbol, trades []model.Trade) error
	Last(sym model.Symbol) (tradelog.Mark, bool, error)
	Tail(sym model.Symbol, since time.Time) ([]model.Trade, error)
}

// Publisher receives every published batch, in Seq order, from one goroutine.
type Publisher interface {
	Broadcast(b feed.Batch)
}

// Sink receives every batch after it has been appended to the trade log.
type Sink interface {
	HandleTrades(sym model.Symbol, trades []model.Trade)
}

// Config holds orchestrator tuning.
type Config struct {
	// Warmup is how far back the trade log is reloaded on start.
	Warmup time.Duration

	// BufferMax and BufferRetain bound the in-memory records per symbol:
	// once a symbol holds more than BufferMax, only the newest BufferRetain stay.
	BufferMax    int
	BufferRetain int

	// LoadConcurrency bounds parallel warm-up tail reads.
	LoadConcurrency int

	// InboxSize is the capacity of the loop's inbox.
	InboxSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Warmup:          6 * time.Hour,
		BufferMax:       300_000,
		BufferRetain:    250_000,
		LoadConcurrency: 4,
		InboxSize:       1024,
	}
}

// Orchestrator runs one ingestion session.
type Orchestrator struct {
	cfg       Config
	symbols   []model.Symbol
	feed      LiveFeed
	fetcher   Fetcher
	store     Store
	publisher Publisher
	sinks     []Sink
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	runID uuid.UUID
	phase atomic.Int32
	inbox chan message

	// Authoritative in-memory records and the sequence of the last
	// published batch. Guarded by stateMu; written only by the loop.
	stateMu sync.Mutex
	trades  map[string][]model.Trade
	seq     uint64

	// Loop-owned warm-up state.
	warmup map[string][]model.Trade
	resume map[string]loadedMsg
	loaded int

	tasks    sync.WaitGroup
	errMu    sync.Mutex
	taskErrs []failedMsg

	persistQ *queue.Queue[persistJob]
	publishQ *queue.Queue[feed.Batch]
	workers  sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithSink adds a sink notified after each successful append.
func WithSink(s Sink) Option {
	return func(o *Orchestrator) {
		o.sinks = append(o.sinks, s)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an orchestrator for every symbol in registry.
func New(cfg Config, registry *market.Registry, lf LiveFeed, fetcher Fetcher, store Store, pub Publisher, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if cfg.BufferMax <= 0 {
		cfg.BufferMax = def.BufferMax
	}
	if cfg.BufferRetain <= 0 || cfg.BufferRetain > cfg.BufferMax {
		cfg.BufferRetain = min(def.BufferRetain, cfg.BufferMax)
	}
	if cfg.LoadConcurrency <= 0 {
		cfg.LoadConcurrency = def.LoadConcurrency
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = def.InboxSize
	}

	o := &Orchestrator{
		cfg:       cfg,
		symbols:   registry.Symbols(),
		feed:      lf,
		fetcher:   fetcher,
		store:     store,
		publisher: pub,
		logger:    slog.Default(),
		now:       time.Now,
		runID:     uuid.New(),
		inbox:     make(chan message, cfg.InboxSize),
		trades:    make(map[string][]model.Trade),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("run", o.runID.String())
	return o
}

// Phase returns the current phase.
func (o *Orchestrator) Phase() Phase {
	return Phase(o.phase.Load())
}

func (o *Orchestrator) setPhase(p Phase) {
	prev := Phase(o.phase.Swap(int32(p)))
	o.metrics.SetPhase(int(p))
	if prev != p {
		o.logger.Info("phase changed", "from", prev.String(), "to", p.String())
	}
}

// Run drives the session until ctx is cancelled or a fatal error occurs.
// Cancellation returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.setPhase(Connecting)
	o.logger.Info("starting ingestion", "symbols", len(o.symbols), "warmup", o.cfg.Warmup)

	o.startWorkers(ctx)
	o.spawn(ctx, "feed", func(ctx context.Context) error {
		return o.feed.Run(ctx, func(ev connection.Event) {
			o.post(ctx, feedMsg{event: ev})
		})
	})

	err := o.loop(ctx)

	cancel()
	o.shutdown()

	if err != nil {
		o.setPhase(Failed)
		o.logger.Error("ingestion failed", "error", err)
		return err
	}
	o.setPhase(Stopped)
	o.logger.Info("ingestion stopped")
	return nil
}

// loop is the single consumer of the inbox.
func (o *Orchestrator) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-o.inbox:
			if err := o.dispatch(ctx, msg); err != nil {
				return err
			}
		}
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, msg message) error {
	switch m := msg.(type) {
	case feedMsg:
		return o.onFeed(ctx, m.event)
	case loadedMsg:
		o.onLoaded(ctx, m)
	case fetchedMsg:
		o.onFetched(m)
	case fetchDoneMsg:
		o.goLive()
	case failedMsg:
		return fmt.Errorf("%s: %w", m.task, m.err)
	default:
		o.logger.Warn("unexpected inbox message", "type", fmt.Sprintf("%T", msg))
	}
	return nil
}

func (o *Orchestrator) onFeed(ctx context.Context, ev connection.Event) error {
	switch e := ev.(type) {
	case connection.Connected:
		if o.Phase() == Connecting {
			o.setPhase(Subscribing)
		}
	case connection.Subscribed:
		if o.Phase() != Subscribing {
			return nil
		}
		o.logger.Info("subscriptions confirmed, warming up", "pairs", len(e.Pairs))
		o.setPhase(WarmingUp)
		o.startLoader(ctx)
	case connection.Trades:
		o.onTrades(e)
	}
	return nil
}

// onTrades appends new live records, publishes them and, once live,
// persists them. Records at or below a symbol's last id are skipped.
func (o *Orchestrator) onTrades(ev connection.Trades) {
	live := o.Phase() == Live

	var (
		blocks []feed.Block
		jobs   []persistJob
	)

	o.stateMu.Lock()
	for _, sym := range o.symbols {
		in := ev.BySymbol[sym.Name]
		if len(in) == 0 {
			continue
		}
		delta := tradelog.Suffix(o.trades[sym.Name], in)
		if len(delta) == 0 {
			continue
		}
		o.trades[sym.Name] = o.trim(append(o.trades[sym.Name], delta...))
		blocks = append(blocks, feed.Block{Symbol: sym.Name, Trades: delta})
		if live {
			jobs = append(jobs, persistJob{symbol: sym, trades: delta})
		}
	}
	o.publishLocked(blocks)
	o.stateMu.Unlock()

	for _, j := range jobs {
		o.persistQ.Push(j)
	}
}

func (o *Orchestrator) onLoaded(ctx context.Context, m loadedMsg) {
	if o.warmup == nil {
		o.warmup = make(map[string][]model.Trade, len(o.symbols))
		o.resume = make(map[string]loadedMsg, len(o.symbols))
	}

	name := m.symbol.Name
	o.warmup[name] = o.trim(m.tail)
	o.resume[name] = m
	o.loaded++

	if n := len(m.tail); n > 0 {
		o.logger.Info("loaded trade log tail",
			"symbol", name,
			"from", tradelog.FormatTime(m.tail[0].Time),
			"to", tradelog.FormatTime(m.tail[n-1].Time),
			"count", n,
		)
	} else {
		o.logger.Info("no recent trade log tail",
			"symbol", name,
			"resume_from", tradelog.FormatTime(m.from),
			"last_id", m.lastID,
		)
	}

	if o.loaded == len(o.symbols) {
		o.startFetcher(ctx)
	}
}

func (o *Orchestrator) onFetched(m fetchedMsg) {
	name := m.symbol.Name
	valid := o.validate("rest", m.symbol, m.trades)
	delta := tradelog.Suffix(o.warmup[name], valid)
	if len(delta) == 0 {
		return
	}
	o.warmup[name] = o.trim(append(o.warmup[name], delta...))
	o.persistQ.Push(persistJob{symbol: m.symbol, trades: delta})

	o.logger.Info("fetched gap-fill page",
		"symbol", name,
		"from", tradelog.FormatTime(delta[0].Time),
		"to", tradelog.FormatTime(delta[len(delta)-1].Time),
		"count", len(delta),
	)
}

// goLive merges each symbol's warm-up records with the live buffer. Warm-up
// records older than the first live record are published as one catch-up
// batch; buffered live records past the warm-up are persisted.
func (o *Orchestrator) goLive() {
	if o.Phase() != WarmingUp {
		return
	}

	var (
		blocks []feed.Block
		jobs   []persistJob
	)

	o.stateMu.Lock()
	for _, sym := range o.symbols {
		name := sym.Name
		warm := o.warmup[name]
		buffered := o.trades[name]

		catchup := warm
		if len(buffered) > 0 {
			first := buffered[0].TradeID
			if i := slices.IndexFunc(warm, func(t model.Trade) bool { return t.TradeID >= first }); i >= 0 {
				catchup = warm[:i]
			}
		}
		if len(catchup) > 0 {
			blocks = append(blocks, feed.Block{Symbol: name, Trades: catchup})
		}
		if suffix := tradelog.Suffix(warm, buffered); len(suffix) > 0 {
			jobs = append(jobs, persistJob{symbol: sym, trades: suffix})
		}

		o.trades[name] = o.trim(tradelog.Merge(warm, buffered))
	}
	o.publishLocked(blocks)
	o.warmup = nil
	o.resume = nil
	o.setPhase(Live)
	o.stateMu.Unlock()

	for _, j := range jobs {
		o.persistQ.Push(j)
	}
	o.logger.Info("warm-up complete")
}

// trim caps a symbol's in-memory records. The result never shares its
// backing array with the input once trimmed.
func (o *Orchestrator) trim(trades []model.Trade) []model.Trade {
	if len(trades) <= o.cfg.BufferMax {
		return trades
	}
	return slices.Clone(trades[len(trades)-o.cfg.BufferRetain:])
}

// validate drops records that violate trade invariants.
func (o *Orchestrator) validate(source string, sym model.Symbol, trades []model.Trade) []model.Trade {
	bad := 0
	for _, t := range trades {
		if t.Validate() != nil {
			bad++
		}
	}
	if bad == 0 {
		return trades
	}

	out := make([]model.Trade, 0, len(trades)-bad)
	for _, t := range trades {
		if err := t.Validate(); err != nil {
			o.logger.Warn("discarding trade", "source", source, "symbol", sym.Name, "trade_id", t.TradeID, "error", err)
			o.metrics.DataError(source)
			continue
		}
		out = append(out, t)
	}
	return out
}

// publishLocked assigns the next sequence number and queues the batch.
// Must be called with stateMu held.
func (o *Orchestrator) publishLocked(blocks []feed.Block) {
	if len(blocks) == 0 {
		return
	}
	o.seq++
	o.publishQ.Push(feed.Batch{Seq: o.seq, Blocks: blocks})
}

// Snapshot returns the current in-memory records and the sequence number of
// the last batch they reflect.
func (o *Orchestrator) Snapshot() feed.Batch {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	blocks := make([]feed.Block, 0, len(o.symbols))
	for _, sym := range o.symbols {
		trades := o.trades[sym.Name]
		if len(trades) == 0 {
			continue
		}
		blocks = append(blocks, feed.Block{Symbol: sym.Name, Trades: trades[:len(trades):len(trades)]})
	}
	return feed.Batch{Seq: o.seq, Blocks: blocks}
}

// SymbolStats describes one symbol's in-memory records.
type SymbolStats struct {
	Buffered int       `json:"buffered"`
	LastID   int64     `json:"last_id,omitempty"`
	LastTime time.Time `json:"last_time,omitempty"`
}

// Stats is a point-in-time view of the orchestrator.
type Stats struct {
	RunID   string                 `json:"run_id"`
	Phase   string                 `json:"phase"`
	Seq     uint64                 `json:"seq"`
	Symbols map[string]SymbolStats `json:"symbols"`
}

// Stats returns the current phase and per-symbol buffer state.
func (o *Orchestrator) Stats() Stats {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	s := Stats{
		RunID:   o.runID.String(),
		Phase:   o.Phase().String(),
		Seq:     o.seq,
		Symbols: make(map[string]SymbolStats, len(o.symbols)),
	}
	for _, sym := range o.symbols {
		trades := o.trades[sym.Name]
		st := SymbolStats{Buffered: len(trades)}
		if n := len(trades); n > 0 {
			st.LastID = trades[n-1].TradeID
			st.LastTime = trades[n-1].Time
		}
		s.Symbols[sym.Name] = st
	}
	return s
}

// post delivers a message to the loop unless ctx is done.
func (o *Orchestrator) post(ctx context.Context, msg message) bool {
	select {
	case o.inbox <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// spawn runs a background task. A non-cancellation error is reported to the
// loop and kept for the shutdown report.
func (o *Orchestrator) spawn(ctx context.Context, name string, fn func(context.Context) error) {
	o.tasks.Add(1)
	go func() {
		defer o.tasks.Done()
		err := fn(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		o.fail(ctx, name, err)
	}()
}

// fail records a task error and reports it to the loop.
func (o *Orchestrator) fail(ctx context.Context, task string, err error) {
	m := failedMsg{task: task, err: err}
	o.errMu.Lock()
	o.taskErrs = append(o.taskErrs, m)
	o.errMu.Unlock()
	o.post(ctx, m)
}

// shutdown waits for background tasks, drains the workers and reports
// every task error.
func (o *Orchestrator) shutdown() {
	o.tasks.Wait()

	o.persistQ.Close()
	o.publishQ.Close()
	o.workers.Wait()

	o.errMu.Lock()
	defer o.errMu.Unlock()
	for _, m := range o.taskErrs {
		o.logger.Error("task failed", "task", m.task, "error", m.err)
	}
}
