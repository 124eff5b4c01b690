package decode

import (
	"testing"

	"github.com/ndrandal/marketdata-collector/internal/errs"
)

func TestDecodeBookTicker(t *testing.T) {
	frame := []byte(`{"stream":"btcusdt@bookTicker","data":{"E":1700000000000,"s":"BTCUSDT","u":42,"b":"50000.0","a":"50001.0","B":"1.0","A":"2.0"}}`)

	ev, err := Decode(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bt, ok := ev.(*BookTickerEvent)
	if !ok {
		t.Fatalf("expected *BookTickerEvent, got %T", ev)
	}
	if bt.Symbol() != "BTCUSDT" {
		t.Errorf("expected symbol BTCUSDT, got %s", bt.Symbol())
	}
	if bt.UpdateID != 42 {
		t.Errorf("expected update id 42, got %d", bt.UpdateID)
	}
	if bt.BestBid != 50000.0 || bt.BestAsk != 50001.0 {
		t.Errorf("unexpected bid/ask: %v/%v", bt.BestBid, bt.BestAsk)
	}
	if bt.BidQty != 1.0 || bt.AskQty != 2.0 {
		t.Errorf("unexpected qtys: %v/%v", bt.BidQty, bt.AskQty)
	}
}

func TestDecodeAggTrade(t *testing.T) {
	frame := []byte(`{"stream":"btcusdt@aggTrade","data":{"a":7,"p":"50000","q":"0.1","m":true,"E":1700000000000,"s":"BTCUSDT"}}`)

	ev, err := Decode(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr, ok := ev.(*TradeEvent)
	if !ok {
		t.Fatalf("expected *TradeEvent, got %T", ev)
	}
	if tr.AggTradeID != 7 || !tr.IsBuyerMaker {
		t.Errorf("unexpected trade fields: %+v", tr)
	}
}

func TestDecodeDepthDiff(t *testing.T) {
	frame := []byte(`{"stream":"btcusdt@depth@100ms","data":{"E":1700000000000,"s":"BTCUSDT","U":101,"u":101,"pu":100,"b":[["49999","2"]],"a":[]}}`)

	ev, err := Decode(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d, ok := ev.(*DepthDiffEvent)
	if !ok {
		t.Fatalf("expected *DepthDiffEvent, got %T", ev)
	}
	if d.FirstUpdateID != 101 || d.FinalUpdateID != 101 {
		t.Errorf("unexpected update ids: %+v", d)
	}
	if len(d.Bids) != 1 || len(d.Asks) != 0 {
		t.Errorf("expected 1 bid, 0 asks, got %d/%d", len(d.Bids), len(d.Asks))
	}
}

func TestDecodeForceOrder(t *testing.T) {
	frame := []byte(`{"stream":"btcusdt@forceOrder","data":{"E":1700000000000,"o":{"s":"BTCUSDT","S":"SELL","p":"49000","q":"0.5","T":1700000000000}}}`)

	ev, err := Decode(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fo, ok := ev.(*ForceOrderEvent)
	if !ok {
		t.Fatalf("expected *ForceOrderEvent, got %T", ev)
	}
	if fo.Symbol() != "BTCUSDT" || fo.Side != "SELL" {
		t.Errorf("unexpected force order fields: %+v", fo)
	}
}

func TestDecodeUnknownStreamIgnored(t *testing.T) {
	frame := []byte(`{"stream":"btcusdt@unknownChannel","data":{}}`)
	ev, err := Decode(frame)
	if err != nil {
		t.Fatalf("expected nil error for unknown stream, got %v", err)
	}
	if ev != nil {
		t.Fatalf("expected nil event for unknown stream, got %v", ev)
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
	if !errs.Is(err, errs.KindParse) {
		t.Fatalf("expected KindParse, got %v", err)
	}
}

func TestDecodeBadNumericField(t *testing.T) {
	frame := []byte(`{"stream":"btcusdt@bookTicker","data":{"E":1,"s":"BTCUSDT","u":1,"b":"not-a-number","a":"1","B":"1","A":"1"}}`)
	_, err := Decode(frame)
	if !errs.Is(err, errs.KindParse) {
		t.Fatalf("expected KindParse for bad numeric field, got %v", err)
	}
}
