package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidTrade marks a record that violates the volume invariants.
var ErrInvalidTrade = errors.New("invalid trade")

// Trade is a single executed trade on one instrument.
//
// Exactly one of BuyVolume/SellVolume is nonzero, and exactly one of
// MarketVolume/LimitVolume is nonzero. The nonzero values on both axes
// are equal to the traded quantity.
type Trade struct {
	Time         time.Time       // Execution time
	Price        decimal.Decimal // Execution price
	BuyVolume    decimal.Decimal // Quantity if the taker bought, else zero
	SellVolume   decimal.Decimal // Quantity if the taker sold, else zero
	MarketVolume decimal.Decimal // Quantity if the taker order was market, else zero
	LimitVolume  decimal.Decimal // Quantity if the taker order was limit, else zero
	TradeID      int64           // Exchange trade id
}

// Side is the taker side of a trade.
type Side int

const (
	Buy Side = iota
	Sell
)

// OrderType is the taker order type of a trade.
type OrderType int

const (
	Market OrderType = iota
	Limit
)

// NewTrade builds a Trade from a single quantity routed by side and order type.
func NewTrade(ts time.Time, price, qty decimal.Decimal, side Side, ot OrderType, id int64) Trade {
	t := Trade{
		Time:         ts.UTC(),
		Price:        price,
		BuyVolume:    decimal.Zero,
		SellVolume:   decimal.Zero,
		MarketVolume: decimal.Zero,
		LimitVolume:  decimal.Zero,
		TradeID:      id,
	}
	if side == Buy {
		t.BuyVolume = qty
	} else {
		t.SellVolume = qty
	}
	if ot == Market {
		t.MarketVolume = qty
	} else {
		t.LimitVolume = qty
	}
	return t
}

// Volume returns the traded quantity.
func (t Trade) Volume() decimal.Decimal {
	if !t.BuyVolume.IsZero() {
		return t.BuyVolume
	}
	return t.SellVolume
}

// Side returns the taker side.
func (t Trade) Side() Side {
	if !t.BuyVolume.IsZero() {
		return Buy
	}
	return Sell
}

// Validate checks the volume invariants.
func (t Trade) Validate() error {
	if t.BuyVolume.IsZero() == t.SellVolume.IsZero() {
		return fmt.Errorf("%w %d: exactly one of buy/sell volume must be nonzero", ErrInvalidTrade, t.TradeID)
	}
	if t.MarketVolume.IsZero() == t.LimitVolume.IsZero() {
		return fmt.Errorf("%w %d: exactly one of market/limit volume must be nonzero", ErrInvalidTrade, t.TradeID)
	}
	if t.BuyVolume.IsNegative() || t.SellVolume.IsNegative() || t.MarketVolume.IsNegative() || t.LimitVolume.IsNegative() {
		return fmt.Errorf("%w %d: negative volume", ErrInvalidTrade, t.TradeID)
	}
	if !t.Volume().Equal(t.MarketVolume.Add(t.LimitVolume)) {
		return fmt.Errorf("%w %d: side and order type volumes differ", ErrInvalidTrade, t.TradeID)
	}
	if t.Time.IsZero() {
		return fmt.Errorf("%w %d: missing timestamp", ErrInvalidTrade, t.TradeID)
	}
	return nil
}
