package connection

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oerlikon/prep/internal/market"
	"github.com/oerlikon/prep/internal/model"
)

func testRegistry(t *testing.T) *market.Registry {
	t.Helper()
	r, err := market.NewRegistry([]model.Symbol{
		{Name: "XBTUSD", Market: "Kraken"},
		{Name: "ETHEUR", Market: "Kraken"},
	})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return r
}

// scriptedFeed reads the subscribe request, then writes each reply in order
// and keeps the connection open until the client leaves.
func scriptedFeed(t *testing.T, got chan<- subscribeRequest, replies ...string) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req subscribeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			t.Errorf("bad subscribe request %s: %v", data, err)
			return
		}
		if got != nil {
			got <- req
		}
		for _, r := range replies {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(r)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

const (
	ackBTC = `{"method":"subscribe","result":{"channel":"trade","snapshot":false,"symbol":"BTC/USD"},"success":true,"req_id":1}`
	ackETH = `{"method":"subscribe","result":{"channel":"trade","snapshot":false,"symbol":"ETH/EUR"},"success":true,"req_id":1}`
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func newEventLog() *eventLog {
	return &eventLog{notify: make(chan struct{}, 100)}
}

func (l *eventLog) emit(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	l.notify <- struct{}{}
}

func (l *eventLog) wait(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		l.mu.Lock()
		if len(l.events) >= n {
			out := slices.Clone(l.events)
			l.mu.Unlock()
			return out
		}
		l.mu.Unlock()
		select {
		case <-l.notify:
		case <-deadline:
			t.Fatalf("timeout waiting for %d events, got %d", n, len(l.events))
		}
	}
}

func TestFeed_SubscribeAndTrades(t *testing.T) {
	reqs := make(chan subscribeRequest, 1)
	server := mockWSServer(t, scriptedFeed(t, reqs,
		`{"channel":"status","type":"update","data":[{"system":"online"}]}`,
		ackBTC,
		`{"channel":"trade","type":"update","data":[{"symbol":"BTC/USD","side":"buy","price":62000.1,"qty":0.5,"ord_type":"market","trade_id":100,"timestamp":"2024-03-01T12:00:00.123456Z"}]}`,
		`{"channel":"heartbeat"}`,
		ackETH,
		`{"channel":"trade","type":"update","data":[`+
			`{"symbol":"ETH/EUR","side":"sell","price":"3100.50","qty":"2.000","ord_type":"limit","trade_id":7,"timestamp":"2024-03-01T12:00:01Z"},`+
			`{"symbol":"BTC/USD","side":"sell","price":62001,"qty":0.1,"ord_type":"limit","trade_id":101,"timestamp":"2024-03-01T12:00:01Z"},`+
			`{"symbol":"BTC/USD","side":"sideways","price":62001,"qty":0.1,"ord_type":"limit","trade_id":102,"timestamp":"2024-03-01T12:00:01Z"},`+
			`{"symbol":"SOL/USD","side":"buy","price":150,"qty":1,"ord_type":"limit","trade_id":1,"timestamp":"2024-03-01T12:00:01Z"}`+
			`]}`,
	))
	defer server.Close()

	feed := NewFeed(testClientConfig(wsURL(server)), testRegistry(t), nil, nil)
	log := newEventLog()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx, log.emit) }()

	req := <-reqs
	if req.Method != "subscribe" || req.Params.Channel != "trade" || req.Params.Snapshot {
		t.Errorf("subscribe request = %+v", req)
	}
	if want := []string{"BTC/USD", "ETH/EUR"}; !slices.Equal(req.Params.Symbol, want) {
		t.Errorf("subscribe symbols = %v, want %v", req.Params.Symbol, want)
	}

	events := log.wait(t, 4)
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() after cancel = %v, want nil", err)
	}

	if _, ok := events[0].(Connected); !ok {
		t.Errorf("event 0 = %T, want Connected", events[0])
	}

	first, ok := events[1].(Trades)
	if !ok {
		t.Fatalf("event 1 = %T, want Trades", events[1])
	}
	btc := first.BySymbol["XBTUSD"]
	if len(btc) != 1 || btc[0].TradeID != 100 || btc[0].Price.String() != "62000.1" || btc[0].BuyVolume.String() != "0.5" {
		t.Errorf("first batch = %+v", first.BySymbol)
	}
	if first.ReceivedAt.IsZero() {
		t.Error("ReceivedAt should be set")
	}

	if sub, ok := events[2].(Subscribed); !ok || len(sub.Pairs) != 2 {
		t.Errorf("event 2 = %#v, want Subscribed with 2 pairs", events[2])
	}

	second, ok := events[3].(Trades)
	if !ok {
		t.Fatalf("event 3 = %T, want Trades", events[3])
	}
	eth := second.BySymbol["ETHEUR"]
	if len(eth) != 1 || eth[0].SellVolume.String() != "2" || eth[0].LimitVolume.String() != "2" || eth[0].Price.String() != "3100.5" {
		t.Errorf("ETHEUR batch = %+v", eth)
	}
	if got := second.BySymbol["XBTUSD"]; len(got) != 1 || got[0].TradeID != 101 {
		t.Errorf("XBTUSD batch = %+v, want only id 101", got)
	}
	if len(second.BySymbol) != 2 {
		t.Errorf("symbols in batch = %d, want 2", len(second.BySymbol))
	}
}

func TestFeed_FatalErrors(t *testing.T) {
	tests := []struct {
		name    string
		replies []string
		check   func(error) bool
	}{
		{
			name:    "subscription rejected",
			replies: []string{`{"method":"subscribe","success":false,"error":"Currency pair not supported","req_id":1}`},
			check: func(err error) bool {
				var se *SubscribeError
				return errors.As(err, &se) && se.Message == "Currency pair not supported"
			},
		},
		{
			name:    "unexpected pair confirmed",
			replies: []string{`{"method":"subscribe","result":{"channel":"trade","symbol":"SOL/USD"},"success":true}`},
			check:   func(err error) bool { return errors.Is(err, ErrUnexpectedPair) },
		},
		{
			name:    "not json",
			replies: []string{`not json`},
			check: func(err error) bool {
				var pe *ProtocolError
				return errors.As(err, &pe)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := mockWSServer(t, scriptedFeed(t, nil, tt.replies...))
			defer server.Close()

			feed := NewFeed(testClientConfig(wsURL(server)), testRegistry(t), nil, nil)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			err := feed.Run(ctx, func(Event) {})
			if !tt.check(err) {
				t.Errorf("Run() = %v", err)
			}
		})
	}
}

func TestFeed_SkipsMalformedMessages(t *testing.T) {
	server := mockWSServer(t, scriptedFeed(t, nil,
		ackBTC,
		ackETH,
		`{"channel":"status","data":"online"}`,
		`{"channel":"trade","data":{"oops":1}}`,
		`{"channel":7}`,
		`[1,2,3]`,
		`{"channel":"trade","type":"update","data":[{"symbol":"BTC/USD","side":"buy","price":62000,"qty":1,"ord_type":"limit","trade_id":5,"timestamp":"2024-03-01T12:00:00Z"}]}`,
	))
	defer server.Close()

	feed := NewFeed(testClientConfig(wsURL(server)), testRegistry(t), nil, nil)
	log := newEventLog()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx, log.emit) }()

	events := log.wait(t, 3)
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() after cancel = %v, want nil", err)
	}

	if _, ok := events[1].(Subscribed); !ok {
		t.Errorf("event 1 = %T, want Subscribed", events[1])
	}
	tr, ok := events[2].(Trades)
	if !ok {
		t.Fatalf("event 2 = %T, want Trades", events[2])
	}
	if got := tr.BySymbol["XBTUSD"]; len(got) != 1 || got[0].TradeID != 5 {
		t.Errorf("trades after malformed messages = %+v, want id 5", tr.BySymbol)
	}
}

func TestFeed_ConnectionLost(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
		conn.WriteMessage(websocket.TextMessage, []byte(ackBTC))
	})
	defer server.Close()

	feed := NewFeed(testClientConfig(wsURL(server)), testRegistry(t), nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := feed.Run(ctx, func(Event) {})
	if !errors.Is(err, ErrConnectionLost) {
		t.Errorf("Run() = %v, want ErrConnectionLost", err)
	}
}

func TestFeed_ConnectFailure(t *testing.T) {
	feed := NewFeed(testClientConfig("ws://127.0.0.1:1"), testRegistry(t), nil, nil)

	err := feed.Run(context.Background(), func(Event) {})
	if err == nil {
		t.Fatal("expected connect error")
	}
}
