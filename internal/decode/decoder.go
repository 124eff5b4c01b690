package decode

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ndrandal/marketdata-collector/internal/errs"
)

// envelope is the combined-stream wrapper: {"stream": "...", "data": {...}}.
type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// wireLevel models a [price, qty] pair as the exchange sends it: a
// two-element JSON array of strings.
type wireLevel [2]string

func (l wireLevel) toPriceLevel() (PriceLevel, error) {
	p, err := strconv.ParseFloat(l[0], 64)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("price %q: %w", l[0], err)
	}
	q, err := strconv.ParseFloat(l[1], 64)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("qty %q: %w", l[1], err)
	}
	return PriceLevel{Price: p, Qty: q}, nil
}

type wireBookTicker struct {
	E int64  `json:"E"`
	S string `json:"s"`
	U int64  `json:"u"`
	B string `json:"b"`
	A string `json:"a"`
	BQ string `json:"B"`
	AQ string `json:"A"`
}

type wireAggTrade struct {
	E int64  `json:"E"`
	S string `json:"s"`
	Agg int64 `json:"a"`
	P string `json:"p"`
	Q string `json:"q"`
	M bool   `json:"m"`
}

type wireDepth struct {
	E  int64       `json:"E"`
	S  string      `json:"s"`
	U  int64       `json:"U"`
	FU int64       `json:"u"`
	PU int64       `json:"pu"`
	B  []wireLevel `json:"b"`
	A  []wireLevel `json:"a"`
}

type wireMarkPrice struct {
	E int64  `json:"E"`
	S string `json:"s"`
	P string `json:"p"`
	I string `json:"i"`
	P2 string `json:"P"`
	R string `json:"r"`
	T int64  `json:"T"`
}

type wireForceOrderInner struct {
	S string `json:"s"`
	Side string `json:"S"`
	P    string `json:"p"`
	Q    string `json:"q"`
	T    int64  `json:"T"`
}

type wireForceOrder struct {
	E int64               `json:"E"`
	O wireForceOrderInner `json:"o"`
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Decode parses one raw WS text frame into an Event. The returned error,
// when non-nil, is always an *errs.Error of Kind parse or is nil when the
// stream suffix is unrecognized (those frames are silently ignored per
// spec, caller should treat a nil Event + nil error as "ignore").
func Decode(frame []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, errs.Wrap(errs.KindParse, fmt.Errorf("envelope: %w", err))
	}

	switch {
	case strings.Contains(env.Stream, "@bookTicker"):
		return decodeBookTicker(env.Data)
	case strings.Contains(env.Stream, "@aggTrade"):
		return decodeAggTrade(env.Data)
	case strings.Contains(env.Stream, "@depth"):
		return decodeDepth(env.Data)
	case strings.Contains(env.Stream, "@markPrice"):
		return decodeMarkPrice(env.Data)
	case strings.Contains(env.Stream, "@forceOrder"):
		return decodeForceOrder(env.Data)
	default:
		return nil, nil
	}
}

func decodeBookTicker(data json.RawMessage) (Event, error) {
	var w wireBookTicker
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errs.Wrap(errs.KindParse, fmt.Errorf("bookTicker: %w", err))
	}
	bid, err1 := strconv.ParseFloat(w.B, 64)
	ask, err2 := strconv.ParseFloat(w.A, 64)
	bidQty, err3 := strconv.ParseFloat(w.BQ, 64)
	askQty, err4 := strconv.ParseFloat(w.AQ, 64)
	if err := firstErr(err1, err2, err3, err4); err != nil {
		return nil, errs.Wrap(errs.KindParse, fmt.Errorf("bookTicker numeric fields: %w", err))
	}
	return &BookTickerEvent{
		base:     base{Sym: w.S, TS: msToTime(w.E)},
		UpdateID: w.U,
		BestBid:  bid,
		BestAsk:  ask,
		BidQty:   bidQty,
		AskQty:   askQty,
	}, nil
}

func decodeAggTrade(data json.RawMessage) (Event, error) {
	var w wireAggTrade
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errs.Wrap(errs.KindParse, fmt.Errorf("aggTrade: %w", err))
	}
	price, err1 := strconv.ParseFloat(w.P, 64)
	qty, err2 := strconv.ParseFloat(w.Q, 64)
	if err := firstErr(err1, err2); err != nil {
		return nil, errs.Wrap(errs.KindParse, fmt.Errorf("aggTrade numeric fields: %w", err))
	}
	return &TradeEvent{
		base:         base{Sym: w.S, TS: msToTime(w.E)},
		AggTradeID:   w.Agg,
		Price:        price,
		Qty:          qty,
		IsBuyerMaker: w.M,
	}, nil
}

func decodeDepth(data json.RawMessage) (Event, error) {
	var w wireDepth
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errs.Wrap(errs.KindParse, fmt.Errorf("depth: %w", err))
	}
	bids, err1 := toPriceLevels(w.B)
	asks, err2 := toPriceLevels(w.A)
	if err := firstErr(err1, err2); err != nil {
		return nil, errs.Wrap(errs.KindParse, fmt.Errorf("depth levels: %w", err))
	}
	return &DepthDiffEvent{
		base:          base{Sym: w.S, TS: msToTime(w.E)},
		FirstUpdateID: w.U,
		FinalUpdateID: w.FU,
		PrevFinalID:   w.PU,
		Bids:          bids,
		Asks:          asks,
	}, nil
}

func toPriceLevels(levels []wireLevel) ([]PriceLevel, error) {
	if len(levels) == 0 {
		return nil, nil
	}
	out := make([]PriceLevel, 0, len(levels))
	for _, l := range levels {
		pl, err := l.toPriceLevel()
		if err != nil {
			return nil, err
		}
		out = append(out, pl)
	}
	return out, nil
}

func decodeMarkPrice(data json.RawMessage) (Event, error) {
	var w wireMarkPrice
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errs.Wrap(errs.KindParse, fmt.Errorf("markPrice: %w", err))
	}
	mark, err1 := strconv.ParseFloat(w.P, 64)
	index, err2 := strconv.ParseFloat(w.I, 64)
	settle, err3 := strconv.ParseFloat(w.P2, 64)
	funding, err4 := strconv.ParseFloat(w.R, 64)
	if err := firstErr(err1, err2, err3, err4); err != nil {
		return nil, errs.Wrap(errs.KindParse, fmt.Errorf("markPrice numeric fields: %w", err))
	}
	return &MarkPriceEvent{
		base:            base{Sym: w.S, TS: msToTime(w.E)},
		MarkPrice:       mark,
		IndexPrice:      index,
		EstSettlePrice:  settle,
		FundingRate:     funding,
		NextFundingTime: msToTime(w.T),
	}, nil
}

func decodeForceOrder(data json.RawMessage) (Event, error) {
	var w wireForceOrder
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errs.Wrap(errs.KindParse, fmt.Errorf("forceOrder: %w", err))
	}
	price, err1 := strconv.ParseFloat(w.O.P, 64)
	qty, err2 := strconv.ParseFloat(w.O.Q, 64)
	if err := firstErr(err1, err2); err != nil {
		return nil, errs.Wrap(errs.KindParse, fmt.Errorf("forceOrder numeric fields: %w", err))
	}
	return &ForceOrderEvent{
		base:  base{Sym: w.O.S, TS: msToTime(w.E)},
		Side:  w.O.Side,
		Price: price,
		Qty:   qty,
		Raw:   append([]byte(nil), data...),
	}, nil
}

func firstErr(candidates ...error) error {
	for _, e := range candidates {
		if e != nil {
			return e
		}
	}
	return nil
}
