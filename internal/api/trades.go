package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oerlikon/prep/internal/model"
)

const tradesPath = "/0/public/Trades"

// ParseError reports a trades page whose shape does not match the API contract.
type ParseError struct {
	Pair string
	Row  int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("parse trades %s: %v", e.Pair, e.Err)
	}
	return fmt.Sprintf("parse trades %s row %d: %v", e.Pair, e.Row, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsRetryable is false: a contract break does not heal on retry.
func (e *ParseError) IsRetryable() bool {
	return false
}

// TradesPage is one page of trade history.
type TradesPage struct {
	Pair   string        // Result key, the exchange's canonical pair name
	Trades []model.Trade // In exchange order
	Last   string        // Cursor for the next page
}

// GetTrades fetches one page of trades for pair starting at the since cursor.
// An empty since starts at the beginning of the exchange's history.
func (c *Client) GetTrades(ctx context.Context, pair, since string) (*TradesPage, error) {
	query := url.Values{}
	query.Set("pair", pair)
	if since != "" {
		query.Set("since", since)
	}

	result, err := c.get(ctx, tradesPath, query)
	if err != nil {
		return nil, fmt.Errorf("get trades %s: %w", pair, err)
	}

	page, err := parseTradesResult(pair, result)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// FetchTrades streams trades for pair from start onward, skipping ids at or
// below lastID. Each batch is one page's new records in ascending id order.
// The sequence ends after a page with nothing new, once a page reaches the
// time FetchTrades was called, or with a non-nil error as its final element.
func (c *Client) FetchTrades(ctx context.Context, pair string, start time.Time, lastID int64) iter.Seq2[[]model.Trade, error] {
	return func(yield func([]model.Trade, error) bool) {
		end := c.now()
		since := ""
		if !start.IsZero() {
			since = strconv.FormatInt(start.Unix(), 10)
		}

		for {
			page, err := c.GetTrades(ctx, pair, since)
			if err != nil {
				yield(nil, err)
				return
			}

			fresh := make([]model.Trade, 0, len(page.Trades))
			for _, t := range page.Trades {
				if t.TradeID > lastID {
					fresh = append(fresh, t)
					lastID = t.TradeID
				}
			}
			if len(fresh) == 0 {
				return
			}

			c.metrics.TradesReceived("rest", pair, len(fresh))
			if !yield(fresh, nil) {
				return
			}

			if !fresh[len(fresh)-1].Time.Before(end) || page.Last == "" || page.Last == since {
				return
			}
			since = page.Last
		}
	}
}

func parseTradesResult(pair string, result json.RawMessage) (*TradesPage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(result, &fields); err != nil {
		return nil, &ParseError{Pair: pair, Row: -1, Err: fmt.Errorf("result: %w", err)}
	}

	page := &TradesPage{}
	raw, ok := fields["last"]
	if !ok {
		return nil, &ParseError{Pair: pair, Row: -1, Err: errors.New("missing last cursor")}
	}
	last, err := parseCursor(raw)
	if err != nil {
		return nil, &ParseError{Pair: pair, Row: -1, Err: fmt.Errorf("last: %w", err)}
	}
	page.Last = last

	var rows []json.RawMessage
	for key, raw := range fields {
		if key == "last" {
			continue
		}
		if page.Pair != "" {
			return nil, &ParseError{Pair: pair, Row: -1, Err: fmt.Errorf("unexpected result key %q", key)}
		}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, &ParseError{Pair: pair, Row: -1, Err: fmt.Errorf("rows: %w", err)}
		}
		page.Pair = key
	}
	if page.Pair == "" {
		return nil, &ParseError{Pair: pair, Row: -1, Err: errors.New("missing pair rows")}
	}

	page.Trades = make([]model.Trade, 0, len(rows))
	for i, raw := range rows {
		t, err := parseTradeRow(raw)
		if err != nil {
			return nil, &ParseError{Pair: pair, Row: i, Err: err}
		}
		page.Trades = append(page.Trades, t)
	}
	return page, nil
}

// parseCursor accepts the cursor as a JSON string or number.
func parseCursor(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// parseTradeRow decodes [price, volume, time, side, ordertype, misc, trade_id].
func parseTradeRow(raw json.RawMessage) (model.Trade, error) {
	var row []json.RawMessage
	if err := json.Unmarshal(raw, &row); err != nil {
		return model.Trade{}, err
	}
	if len(row) < 7 {
		return model.Trade{}, fmt.Errorf("want 7 fields, got %d", len(row))
	}

	var priceStr, volStr, sideStr, typeStr string
	var tsNum, idNum json.Number
	targets := []struct {
		name string
		dst  any
		idx  int
	}{
		{"price", &priceStr, 0},
		{"volume", &volStr, 1},
		{"time", &tsNum, 2},
		{"side", &sideStr, 3},
		{"ordertype", &typeStr, 4},
		{"trade_id", &idNum, 6},
	}
	for _, tg := range targets {
		if err := json.Unmarshal(row[tg.idx], tg.dst); err != nil {
			return model.Trade{}, fmt.Errorf("%s: %w", tg.name, err)
		}
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return model.Trade{}, fmt.Errorf("price: %w", err)
	}
	vol, err := decimal.NewFromString(volStr)
	if err != nil {
		return model.Trade{}, fmt.Errorf("volume: %w", err)
	}
	ts, err := parseUnix(tsNum.String())
	if err != nil {
		return model.Trade{}, fmt.Errorf("time: %w", err)
	}
	id, err := strconv.ParseInt(idNum.String(), 10, 64)
	if err != nil {
		return model.Trade{}, fmt.Errorf("trade_id: %w", err)
	}

	var side model.Side
	switch sideStr {
	case "b":
		side = model.Buy
	case "s":
		side = model.Sell
	default:
		return model.Trade{}, fmt.Errorf("side: unexpected %q", sideStr)
	}

	var ot model.OrderType
	switch typeStr {
	case "m":
		ot = model.Market
	case "l":
		ot = model.Limit
	default:
		return model.Trade{}, fmt.Errorf("ordertype: unexpected %q", typeStr)
	}

	return model.NewTrade(ts, price, vol, side, ot, id), nil
}

// parseUnix converts fractional Unix seconds to a UTC time.
func parseUnix(s string) (time.Time, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return time.Time{}, err
	}
	sec := d.IntPart()
	nsec := d.Sub(decimal.NewFromInt(sec)).Shift(9).IntPart()
	return time.Unix(sec, nsec).UTC(), nil
}
