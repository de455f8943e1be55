package poller

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oerlikon/prep/internal/api"
	"github.com/oerlikon/prep/internal/model"
	"github.com/oerlikon/prep/internal/tradelog"
)

const base = int64(1700000000)

// tradeServer serves canned trade pages keyed by the since parameter.
// Unknown cursors get an empty page.
type tradeServer struct {
	mu     sync.Mutex
	pages  map[string]string
	sinces []string
}

func (s *tradeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	since := r.URL.Query().Get("since")

	s.mu.Lock()
	s.sinces = append(s.sinces, r.URL.Query().Get("pair")+"@"+since)
	body, ok := s.pages[since]
	s.mu.Unlock()

	if !ok {
		body = `{"error":[],"result":{"X":[],"last":"` + since + `"}}`
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(body))
}

func (s *tradeServer) requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sinces...)
}

func page(last string, ids ...int64) string {
	rows := make([]string, len(ids))
	for i, id := range ids {
		rows[i] = fmt.Sprintf(`["100.5","0.2",%d,"b","l","",%d]`, base+id, id)
	}
	return fmt.Sprintf(`{"error":[],"result":{"X":[%s],"last":"%s"}}`, strings.Join(rows, ","), last)
}

func testClient(url string) *api.Client {
	return api.NewClient(url, api.WithBackoff(time.Millisecond, 5*time.Millisecond), api.WithRetries(1))
}

func loggedIDs(t *testing.T, store *tradelog.Store, sym model.Symbol) []int64 {
	t.Helper()
	trades, err := store.Tail(sym, time.Time{})
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	ids := make([]int64, len(trades))
	for i, tr := range trades {
		ids[i] = tr.TradeID
	}
	return ids
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPoller_BackfillFromStart(t *testing.T) {
	srv := &tradeServer{pages: map[string]string{
		fmt.Sprint(base): page("c1", 1, 2, 3),
		"c1":             page("c2", 3, 4),
	}}
	server := httptest.NewServer(srv)
	defer server.Close()

	store := tradelog.NewStore(t.TempDir())
	sym := model.Symbol{Name: "XBTUSD", Market: "Kraken", Start: time.Unix(base, 0)}

	var handled atomic.Int32
	handler := TradeHandlerFunc(func(s model.Symbol, trades []model.Trade) {
		handled.Add(int32(len(trades)))
	})

	p := New(DefaultConfig(), testClient(server.URL), store, []model.Symbol{sym}, handler, nil, nil)

	n, err := p.Backfill(context.Background(), sym)
	if err != nil {
		t.Fatalf("Backfill failed: %v", err)
	}
	if n != 4 {
		t.Errorf("appended = %d, want 4", n)
	}
	if got := loggedIDs(t, store, sym); !equalIDs(got, []int64{1, 2, 3, 4}) {
		t.Errorf("logged ids = %v, want [1 2 3 4]", got)
	}
	if got := handled.Load(); got != 4 {
		t.Errorf("handled = %d, want 4", got)
	}
}

func TestPoller_ResumesAfterLastRecord(t *testing.T) {
	srv := &tradeServer{pages: map[string]string{
		fmt.Sprint(base + 2): page("c1", 2, 3),
	}}
	server := httptest.NewServer(srv)
	defer server.Close()

	store := tradelog.NewStore(t.TempDir())
	sym := model.Symbol{Name: "XBTUSD", Market: "Kraken"}

	existing := model.NewTrade(time.Unix(base+2, 0), decimal.NewFromInt(100), decimal.NewFromInt(1), model.Buy, model.Limit, 2)
	if err := store.Append(sym, []model.Trade{existing}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	p := New(DefaultConfig(), testClient(server.URL), store, []model.Symbol{sym}, nil, nil, nil)
	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if got := loggedIDs(t, store, sym); !equalIDs(got, []int64{2, 3}) {
		t.Errorf("logged ids = %v, want [2 3]", got)
	}

	reqs := srv.requests()
	if len(reqs) == 0 || reqs[0] != "XBTUSD@"+fmt.Sprint(base+2) {
		t.Errorf("first request = %v, want XBTUSD@%d", reqs, base+2)
	}
}

func TestPoller_RunOnceCollectsErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pair") == "ETHUSD" {
			w.Write([]byte(`{"error":["EQuery:Unknown asset pair"]}`))
			return
		}
		w.Write([]byte(`{"error":[],"result":{"X":[],"last":"0"}}`))
	}))
	defer server.Close()

	store := tradelog.NewStore(t.TempDir())
	symbols := []model.Symbol{
		{Name: "XBTUSD", Market: "Kraken"},
		{Name: "ETHUSD", Market: "Kraken"},
	}

	cfg := DefaultConfig()
	cfg.Concurrency = 2
	p := New(cfg, testClient(server.URL), store, symbols, nil, nil, nil)

	err := p.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "Kraken:ETHUSD") || strings.Contains(err.Error(), "Kraken:XBTUSD") {
		t.Errorf("error = %v, want only the ETHUSD failure", err)
	}
}

func TestPoller_StartStop(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"error":[],"result":{"X":[],"last":"0"}}`))
	}))
	defer server.Close()

	cfg := Config{Interval: 50 * time.Millisecond, Concurrency: 1}
	sym := model.Symbol{Name: "XBTUSD", Market: "Kraken"}
	p := New(cfg, testClient(server.URL), tradelog.NewStore(t.TempDir()), []model.Symbol{sym}, nil, nil, nil)

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Wait for at least two cycles.
	time.Sleep(120 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := calls.Load(); got < 2 {
		t.Errorf("requests = %d, want >= 2", got)
	}
}

func TestPoller_StartRequiresInterval(t *testing.T) {
	p := New(DefaultConfig(), nil, nil, nil, nil, nil, nil)
	if err := p.Start(context.Background()); err == nil {
		t.Error("expected error for zero interval")
	}
}

func TestPoller_Concurrency(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := inFlight.Add(1)
		defer inFlight.Add(-1)

		// Track max concurrent requests.
		for {
			old := maxInFlight.Load()
			if current <= old || maxInFlight.CompareAndSwap(old, current) {
				break
			}
		}

		time.Sleep(20 * time.Millisecond)
		w.Write([]byte(`{"error":[],"result":{"X":[],"last":"0"}}`))
	}))
	defer server.Close()

	names := []string{"XBTUSD", "ETHUSD", "SOLUSD", "ADAUSD", "DOTUSD", "XBTEUR"}
	symbols := make([]model.Symbol, len(names))
	for i, n := range names {
		symbols[i] = model.Symbol{Name: n, Market: "Kraken"}
	}

	cfg := Config{Concurrency: 2}
	p := New(cfg, testClient(server.URL), tradelog.NewStore(t.TempDir()), symbols, nil, nil, nil)

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if got := maxInFlight.Load(); got > 2 {
		t.Errorf("maxInFlight = %d, want <= 2", got)
	}
}
