// Package decode parses raw exchange WS frames into typed events and
// dispatches them by stream suffix.
package decode

import "time"

// Event is the tagged-union interface implemented by every concrete
// channel event. Symbol returns the raw exchange ticker (not yet
// resolved to a store id; that happens downstream via internal/symbol).
type Event interface {
	Symbol() string
	ExchangeTime() time.Time
}

type base struct {
	Sym string
	TS  time.Time
}

func (b base) Symbol() string           { return b.Sym }
func (b base) ExchangeTime() time.Time { return b.TS }

// BookTickerEvent is the best-bid/ask ticker channel.
type BookTickerEvent struct {
	base
	UpdateID int64
	BestBid  float64
	BestAsk  float64
	BidQty   float64
	AskQty   float64
}

// TradeEvent is the aggregated-trade channel.
type TradeEvent struct {
	base
	AggTradeID   int64
	Price        float64
	Qty          float64
	IsBuyerMaker bool
}

// PriceLevel is a single (price, qty) book level. qty == 0 means "remove
// this price level" when applied as a diff entry.
type PriceLevel struct {
	Price float64
	Qty   float64
}

// DepthDiffEvent is a partial order-book update.
type DepthDiffEvent struct {
	base
	FirstUpdateID int64 // U
	FinalUpdateID int64 // u
	PrevFinalID   int64 // pu, 0 if absent
	Bids          []PriceLevel
	Asks          []PriceLevel
}

// NewDepthDiffEvent constructs a DepthDiffEvent directly, for callers
// (and tests) that build diffs outside of Decode, e.g. the reconstructor
// test harness replaying a recorded sequence.
func NewDepthDiffEvent(symbol string, ts time.Time, u, fu, pu int64, bids, asks []PriceLevel) *DepthDiffEvent {
	return &DepthDiffEvent{
		base:          base{Sym: symbol, TS: ts},
		FirstUpdateID: u,
		FinalUpdateID: fu,
		PrevFinalID:   pu,
		Bids:          bids,
		Asks:          asks,
	}
}

// MarkPriceEvent is the mark-price/funding channel.
type MarkPriceEvent struct {
	base
	MarkPrice        float64
	IndexPrice       float64
	EstSettlePrice   float64
	FundingRate      float64
	NextFundingTime  time.Time
}

// ForceOrderEvent is a liquidation order.
type ForceOrderEvent struct {
	base
	Side  string
	Price float64
	Qty   float64
	Raw   []byte
}
