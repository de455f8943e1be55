package tradelog

import (
	"math"

	"github.com/oerlikon/prep/internal/model"
)

// Suffix returns the records of incoming that extend existing: those whose id
// exceeds the last id of existing and every id kept before them. The result
// aliases incoming when incoming is already strictly increasing.
func Suffix(existing, incoming []model.Trade) []model.Trade {
	last := int64(math.MinInt64)
	if len(existing) > 0 {
		last = existing[len(existing)-1].TradeID
	}

	start := len(incoming)
	for i, t := range incoming {
		if t.TradeID > last {
			start = i
			break
		}
	}
	tail := incoming[start:]

	for i := 1; i < len(tail); i++ {
		if tail[i].TradeID <= tail[i-1].TradeID {
			return increasing(tail)
		}
	}
	if len(tail) == 0 {
		return nil
	}
	return tail
}

func increasing(in []model.Trade) []model.Trade {
	out := make([]model.Trade, 0, len(in))
	for _, t := range in {
		if len(out) == 0 || t.TradeID > out[len(out)-1].TradeID {
			out = append(out, t)
		}
	}
	return out
}

// Merge returns a new slice of existing followed by Suffix(existing, incoming).
// Neither argument is modified.
func Merge(existing, incoming []model.Trade) []model.Trade {
	tail := Suffix(existing, incoming)
	out := make([]model.Trade, 0, len(existing)+len(tail))
	out = append(out, existing...)
	return append(out, tail...)
}
