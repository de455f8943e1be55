package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oerlikon/prep/internal/market"
	"github.com/oerlikon/prep/internal/metrics"
	"github.com/oerlikon/prep/internal/model"
)

// Event is emitted by Feed.Run. It is one of Connected, Subscribed or Trades.
type Event interface {
	event()
}

// Connected is emitted once the connection is up and the subscription was sent.
type Connected struct{}

// Subscribed is emitted once every requested pair has been confirmed.
type Subscribed struct {
	Pairs []string
}

// Trades carries the records of one push message, grouped by symbol name.
type Trades struct {
	ReceivedAt time.Time
	BySymbol   map[string][]model.Trade
}

func (Connected) event()  {}
func (Subscribed) event() {}
func (Trades) event()     {}

// Feed subscribes the trade channel for every instrument in a registry.
type Feed struct {
	cfg      ClientConfig
	registry *market.Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics

	newClient func(ClientConfig, *slog.Logger) Client
}

// NewFeed creates a live feed client.
func NewFeed(cfg ClientConfig, registry *market.Registry, logger *slog.Logger, m *metrics.Metrics) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		cfg:       cfg,
		registry:  registry,
		logger:    logger,
		metrics:   m,
		newClient: NewClient,
	}
}

// subscription tracks confirmations for one run.
type subscription struct {
	pending map[string]struct{}
	done    bool
}

// Run connects, subscribes and delivers events until ctx is cancelled or a
// fatal error occurs. Cancellation returns nil. emit is called from Run's
// goroutine, in message order.
func (f *Feed) Run(ctx context.Context, emit func(Event)) error {
	c := f.newClient(f.cfg, f.logger)
	if err := c.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("connect %s: %w", f.cfg.URL, err)
	}
	defer c.Close()

	pairs := f.registry.Pairs()
	req, err := json.Marshal(subscribeRequest{
		Method: "subscribe",
		Params: subscribeParams{Channel: "trade", Symbol: pairs, Snapshot: false},
		ReqID:  1,
	})
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}
	if err := c.Send(req); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}
	f.logger.Info("subscribing", "pairs", pairs)
	emit(Connected{})

	sub := &subscription{pending: make(map[string]struct{}, len(pairs))}
	for _, p := range pairs {
		sub.pending[p] = struct{}{}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-c.Errors():
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrConnectionLost, err)

		case msg := <-c.Messages():
			if err := f.handle(msg, sub, emit); err != nil {
				return err
			}
		}
	}
}

// handle decodes one inbound message. A returned error is fatal: input that
// is not JSON, or a failed subscription. Messages of an unexpected shape are
// logged and skipped.
func (f *Feed) handle(msg TimestampedMessage, sub *subscription, emit func(Event)) error {
	if !json.Valid(msg.Data) {
		return &ProtocolError{Data: msg.Data, Err: errors.New("invalid JSON")}
	}

	var h header
	if err := json.Unmarshal(msg.Data, &h); err != nil {
		f.skip(msg.Data, err)
		return nil
	}

	switch {
	case h.Method == "subscribe":
		var resp methodResponse
		if err := json.Unmarshal(msg.Data, &resp); err != nil {
			return &ProtocolError{Data: msg.Data, Err: err}
		}
		return f.handleSubscribe(resp, sub, emit)

	case h.Method != "":
		f.logger.Debug("ignoring method response", "method", h.Method)

	case h.Channel == "trade":
		var push channelPush
		if err := json.Unmarshal(msg.Data, &push); err != nil {
			f.skip(msg.Data, err)
			return nil
		}
		if batch := f.decodeTrades(push.Data); len(batch) > 0 {
			emit(Trades{ReceivedAt: msg.ReceivedAt, BySymbol: batch})
		}

	case h.Channel == "heartbeat", h.Channel == "status":
		// keepalive and exchange status

	default:
		f.logger.Debug("ignoring message", "data", truncate(msg.Data, 200))
	}
	return nil
}

func (f *Feed) skip(data []byte, err error) {
	f.logger.Warn("skipping malformed feed message", "error", err, "data", truncate(data, 200))
	f.metrics.DataError("live")
}

func (f *Feed) handleSubscribe(in methodResponse, sub *subscription, emit func(Event)) error {
	pair := ""
	if in.Result != nil {
		pair = in.Result.Symbol
	}
	if in.Success == nil || !*in.Success {
		return &SubscribeError{Pair: pair, Message: in.Error}
	}
	if in.Result == nil || in.Result.Channel != "trade" {
		f.logger.Debug("ignoring non-trade subscription", "result", in.Result)
		return nil
	}
	if _, ok := f.registry.ByPair(pair); !ok {
		return fmt.Errorf("%w: %q confirmed", ErrUnexpectedPair, pair)
	}

	delete(sub.pending, pair)
	f.logger.Debug("subscribed", "pair", pair, "remaining", len(sub.pending))

	if len(sub.pending) == 0 && !sub.done {
		sub.done = true
		f.logger.Info("subscribed all pairs", "count", f.registry.Len())
		emit(Subscribed{Pairs: f.registry.Pairs()})
	}
	return nil
}

// decodeTrades converts push items to records. Invalid items are logged and skipped.
func (f *Feed) decodeTrades(items []json.RawMessage) map[string][]model.Trade {
	out := make(map[string][]model.Trade)
	for _, raw := range items {
		sym, t, err := f.decodeTrade(raw)
		if err != nil {
			f.logger.Warn("discarding trade", "error", err, "data", truncate(raw, 200))
			f.metrics.DataError("live")
			continue
		}
		out[sym.Name] = append(out[sym.Name], t)
	}
	for name, trades := range out {
		f.metrics.TradesReceived("live", name, len(trades))
	}
	return out
}

func (f *Feed) decodeTrade(raw json.RawMessage) (model.Symbol, model.Trade, error) {
	var it tradeItem
	if err := json.Unmarshal(raw, &it); err != nil {
		return model.Symbol{}, model.Trade{}, err
	}

	sym, ok := f.registry.ByPair(it.Symbol)
	if !ok {
		return model.Symbol{}, model.Trade{}, fmt.Errorf("%w: %q", ErrUnexpectedPair, it.Symbol)
	}
	if it.TradeID == nil {
		return model.Symbol{}, model.Trade{}, errors.New("missing trade_id")
	}

	var side model.Side
	switch it.Side {
	case "buy":
		side = model.Buy
	case "sell":
		side = model.Sell
	default:
		return model.Symbol{}, model.Trade{}, fmt.Errorf("unexpected side %q", it.Side)
	}

	var ot model.OrderType
	switch it.OrdType {
	case "market":
		ot = model.Market
	case "limit":
		ot = model.Limit
	default:
		return model.Symbol{}, model.Trade{}, fmt.Errorf("unexpected ord_type %q", it.OrdType)
	}

	t := model.NewTrade(it.Timestamp, it.Price, it.Qty, side, ot, *it.TradeID)
	if err := t.Validate(); err != nil {
		return model.Symbol{}, model.Trade{}, err
	}
	return sym, t, nil
}
