package feed

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oerlikon/prep/internal/model"
)

func TestEncode(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	blocks := []Block{
		{Symbol: "XBTUSD", Trades: []model.Trade{
			model.NewTrade(ts, decimal.RequireFromString("64000.10"), decimal.RequireFromString("0.5"), model.Buy, model.Market, 7),
		}},
		{Symbol: "ETHUSD"},
	}

	want := "XBTUSD\n" +
		"2024-03-01T12:00:00Z,64000.1,0.5,0,0.5,0,7\n" +
		"==\n" +
		"ETHUSD\n" +
		"==\n"
	assert.Equal(t, want, string(Encode(blocks)))
	assert.Nil(t, Encode(nil))
}

func TestDecode(t *testing.T) {
	blocks := []Block{
		{Symbol: "XBTUSD", Trades: []model.Trade{trade(1), trade(2)}},
		{Symbol: "ETHUSD", Trades: []model.Trade{trade(3)}},
	}

	got, err := Decode(Encode(blocks))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "XBTUSD", got[0].Symbol)
	assert.Equal(t, "ETHUSD", got[1].Symbol)
	require.Len(t, got[0].Trades, 2)
	assert.Equal(t, int64(2), got[0].Trades[1].TradeID)
	assert.True(t, got[1].Trades[0].Price.Equal(trade(3).Price))
	assert.True(t, got[1].Trades[0].Time.Equal(trade(3).Time))
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		msg  string
	}{
		{"missing terminator", "XBTUSD\n2024-03-01T12:00:00Z,1,1,0,1,0,1\n"},
		{"bad record", "XBTUSD\nnot,a,record\n==\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.msg))
			assert.Error(t, err)
		})
	}
}

func TestBatch_Len(t *testing.T) {
	b := Batch{Blocks: []Block{
		{Symbol: "A", Trades: []model.Trade{trade(1), trade(2)}},
		{Symbol: "B", Trades: []model.Trade{trade(3)}},
	}}
	assert.Equal(t, 3, b.Len())
}
