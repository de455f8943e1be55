package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oerlikon/prep/internal/feed"
	"github.com/oerlikon/prep/internal/model"
)

func TestPrinter(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	trade := func(id int64) model.Trade {
		return model.NewTrade(ts.Add(time.Duration(id)*time.Second), decimal.NewFromInt(100), decimal.NewFromInt(1), model.Sell, model.Limit, id)
	}
	blocks := []feed.Block{
		{Symbol: "XBTUSD", Trades: []model.Trade{trade(1), trade(2)}},
		{Symbol: "ETHUSD"},
	}

	var buf bytes.Buffer
	n := printer{out: &buf}.print(blocks)
	if n != 2 {
		t.Errorf("print() = %d, want 2", n)
	}
	want := "[BLOCK] symbol=XBTUSD records=2 ids=1..2 until=2024-03-01T12:00:02Z\n" +
		"[BLOCK] symbol=ETHUSD records=0\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}

	buf.Reset()
	printer{out: &buf, verbose: true, symbol: "XBTUSD"}.print(blocks)
	want = "[TRADE] symbol=XBTUSD 2024-03-01T12:00:01Z,100,0,1,0,1,1\n" +
		"[TRADE] symbol=XBTUSD 2024-03-01T12:00:02Z,100,0,1,0,1,2\n"
	if buf.String() != want {
		t.Errorf("verbose output = %q, want %q", buf.String(), want)
	}
}
