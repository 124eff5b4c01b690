package persist

import "time"

// Row types mirror the logical schema of spec §6.3. SymbolID is resolved
// upstream via internal/symbol before a row reaches a buffer.

type BookTickerRow struct {
	TSExchange time.Time
	SymbolID   int64
	UpdateID   int64
	BestBid    float64
	BestAsk    float64
	BidQty     float64
	AskQty     float64
	Spread     float64
	Mid        float64
}

type TradeRow struct {
	TSExchange   time.Time
	SymbolID     int64
	AggTradeID   int64
	Price        float64
	Qty          float64
	IsBuyerMaker bool
}

type DepthEventRow struct {
	TSExchange    time.Time
	SymbolID      int64
	FirstUpdateID int64
	FinalUpdateID int64
	PrevFinalID   int64
	BidsJSON      []byte
	AsksJSON      []byte
}

type TopNRow struct {
	TSExchange time.Time
	SymbolID   int64
	// Bids/Asks hold up to 5 levels each; fewer than 5 is expected on a
	// thin or just-resynced book and must NOT be padded with zero
	// values — toNamedTopN relies on len() to leave the remaining
	// columns NULL.
	Bids          []LevelPair
	Asks          []LevelPair
	Microprice    float64
	I1            float64
	I5            float64
	WallSizeBid   float64
	WallSizeAsk   float64
	WallDistBidBp float64
	WallDistAskBp float64
}

// LevelPair is a single (price, qty) book level attached to a TopNRow.
type LevelPair struct {
	Price float64
	Qty   float64
}

type MarkPriceRow struct {
	TSExchange     time.Time
	SymbolID       int64
	EventType      string
	MarkPrice      float64
	IndexPrice     float64
	EstSettlePrice float64
	FundingRate    float64
	NextFunding    time.Time
}

type ForceOrderRow struct {
	TSExchange time.Time
	SymbolID   int64
	Side       string
	Price      float64
	Qty        float64
	Raw        []byte
}
