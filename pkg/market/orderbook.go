package market

import (
	"github.com/shopspring/decimal"
)

// DefaultPrecision is used when the orderbook does not report one.
const DefaultPrecision = 8

type Level struct {
	Price  string `json:"price"`
	Amount string `json:"amount"`
	Total  string `json:"total,omitempty"`
}

type BookSide struct {
	Results []Level `json:"results"`
	Meta    struct {
		Precision *int `json:"precision,omitempty"`
	} `json:"meta"`
}

// Orderbook is the aggregated book of one pair.
type Orderbook struct {
	Buy  BookSide `json:"buy"`
	Sell BookSide `json:"sell"`
}

func (b Orderbook) Side(side string) []Level {
	switch side {
	case "buy", "BUY":
		return b.Buy.Results
	case "sell", "SELL":
		return b.Sell.Results
	}
	return nil
}

func (b Orderbook) Precision() int {
	if b.Buy.Meta.Precision != nil {
		return *b.Buy.Meta.Precision
	}
	return DefaultPrecision
}

// LowestAsk returns the minimum sell price. ok is false for an empty side.
func (b Orderbook) LowestAsk() (decimal.Decimal, bool) {
	return extreme(b.Sell.Results, func(a, b decimal.Decimal) bool { return a.LessThan(b) })
}

// HighestBid returns the maximum buy price. ok is false for an empty side.
func (b Orderbook) HighestBid() (decimal.Decimal, bool) {
	return extreme(b.Buy.Results, func(a, b decimal.Decimal) bool { return a.GreaterThan(b) })
}

// extreme treats a missing or malformed price as zero.
func extreme(levels []Level, better func(a, b decimal.Decimal) bool) (decimal.Decimal, bool) {
	if len(levels) == 0 {
		return decimal.Zero, false
	}
	best := parseOrZero(levels[0].Price)
	for _, l := range levels[1:] {
		if p := parseOrZero(l.Price); better(p, best) {
			best = p
		}
	}
	return best, true
}
