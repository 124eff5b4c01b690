package topn

import (
	"context"
	"testing"
	"time"

	"github.com/ndrandal/marketdata-collector/internal/decode"
)

// fakeSnapshotter returns a fixed snapshot per symbol, recording call
// counts so tests can assert resync behavior.
type fakeSnapshotter struct {
	lastUpdateID int64
	bids, asks   []decode.PriceLevel
	calls        int
}

func (f *fakeSnapshotter) FetchSnapshot(ctx context.Context, symbol string) (int64, []decode.PriceLevel, []decode.PriceLevel, error) {
	f.calls++
	return f.lastUpdateID, f.bids, f.asks, nil
}

func diffEvent(symbol string, u, fu int64, bids, asks []decode.PriceLevel) *decode.DepthDiffEvent {
	return decode.NewDepthDiffEvent(symbol, time.Time{}, u, fu, 0, bids, asks)
}

func TestReconstructorColdStart(t *testing.T) {
	fetcher := &fakeSnapshotter{
		lastUpdateID: 100,
		bids:         []decode.PriceLevel{{Price: 50000, Qty: 1}},
		asks:         []decode.PriceLevel{{Price: 50001, Qty: 1}},
	}
	r := New(fetcher)

	ev := diffEvent("BTCUSDT", 101, 101,
		[]decode.PriceLevel{{Price: 49999, Qty: 2}},
		nil,
	)

	snap, err := r.Process(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap == nil {
		t.Fatal("expected a snapshot on successful cold start + apply")
	}
	if len(snap.Bids) != 2 {
		t.Fatalf("expected 2 bid levels, got %d: %+v", len(snap.Bids), snap.Bids)
	}
	if snap.Bids[0].Price != 50000 || snap.Bids[0].Qty != 1 {
		t.Errorf("expected b1=50000,1 got %+v", snap.Bids[0])
	}
	if snap.Bids[1].Price != 49999 || snap.Bids[1].Qty != 2 {
		t.Errorf("expected b2=49999,2 got %+v", snap.Bids[1])
	}
	if len(snap.Asks) != 1 || snap.Asks[0].Price != 50001 {
		t.Errorf("expected a1=50001,1 got %+v", snap.Asks)
	}
	if snap.Features.I1 != 0 {
		t.Errorf("expected i1=0 (equal top qtys), got %v", snap.Features.I1)
	}
}

func TestReconstructorGapTriggersResync(t *testing.T) {
	fetcher := &fakeSnapshotter{
		lastUpdateID: 100,
		bids:         []decode.PriceLevel{{Price: 50000, Qty: 1}},
		asks:         []decode.PriceLevel{{Price: 50001, Qty: 1}},
	}
	r := New(fetcher)

	// Cold start + sync.
	first := diffEvent("ETHUSDT", 101, 101, nil, nil)
	if _, err := r.Process(context.Background(), first); err != nil {
		t.Fatalf("unexpected error on cold start: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected 1 snapshot call after cold start, got %d", fetcher.calls)
	}

	// A diff whose U jumps far ahead of last+1 is a gap; must trigger a
	// resync (a second FetchSnapshot call).
	gapEv := diffEvent("ETHUSDT", 500, 510, nil, nil)
	snap, err := r.Process(context.Background(), gapEv)
	if err != nil {
		t.Fatalf("unexpected error on gap: %v", err)
	}
	if snap != nil {
		t.Fatalf("expected no snapshot on the gap-detecting diff itself, got %+v", snap)
	}
	if fetcher.calls != 2 {
		t.Fatalf("expected a resync call after gap detection, got %d calls", fetcher.calls)
	}

	b := r.stateFor("ETHUSDT")
	if b.State != WaitSync {
		t.Fatalf("expected WaitSync after resync, got %v", b.State)
	}
}

func TestReconstructorConsecutiveGapsTriggerCooldown(t *testing.T) {
	fetcher := &fakeSnapshotter{
		lastUpdateID: 100,
		bids:         []decode.PriceLevel{{Price: 50000, Qty: 1}},
		asks:         []decode.PriceLevel{{Price: 50001, Qty: 1}},
	}
	r := New(fetcher)

	// Cold start + sync puts the book in Synced at LastUpdateID=101.
	if _, err := r.Process(context.Background(), diffEvent("SOLUSDT", 101, 101, nil, nil)); err != nil {
		t.Fatalf("unexpected error on cold start: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected 1 snapshot call after cold start, got %d", fetcher.calls)
	}

	// Every subsequent diff carries a gap (U never matches last+1), so the
	// reconstructor keeps resyncing — and keeps landing back in WaitSync
	// with the same stale snapshot LastUpdateID=100, so every following
	// diff is a gap too. After maxConsecutiveGaps resyncs the cooldown
	// must stop further FetchSnapshot calls.
	for i := 0; i < maxConsecutiveGaps+3; i++ {
		if _, err := r.Process(context.Background(), diffEvent("SOLUSDT", 500, 510, nil, nil)); err != nil {
			t.Fatalf("unexpected error on gap %d: %v", i, err)
		}
	}

	b := r.stateFor("SOLUSDT")
	if b.State != WaitSync {
		t.Fatalf("expected WaitSync under cooldown, got %v", b.State)
	}
	if b.ConsecutiveGaps <= maxConsecutiveGaps {
		t.Fatalf("expected ConsecutiveGaps to exceed %d once cooldown engages, got %d", maxConsecutiveGaps, b.ConsecutiveGaps)
	}

	// calls = 1 (cold start) + maxConsecutiveGaps (one resync per gap up
	// to and including the gap that brings the counter to the
	// threshold) — further gaps must NOT call FetchSnapshot again.
	wantCalls := 1 + maxConsecutiveGaps
	if fetcher.calls != wantCalls {
		t.Fatalf("expected cooldown to cap resync calls at %d, got %d", wantCalls, fetcher.calls)
	}
}

func TestReconstructorEmptySidesDoNotCrash(t *testing.T) {
	fetcher := &fakeSnapshotter{lastUpdateID: 1}
	r := New(fetcher)

	ev := diffEvent("XRPUSDT", 2, 2, nil, nil)
	snap, err := r.Process(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected error with empty sides: %v", err)
	}
	if snap == nil {
		t.Fatal("expected a snapshot even with empty book sides")
	}
	if len(snap.Bids) != 0 || len(snap.Asks) != 0 {
		t.Errorf("expected empty levels, got bids=%v asks=%v", snap.Bids, snap.Asks)
	}
	if snap.Features.Microprice != 0 {
		t.Errorf("expected zero microprice on empty book, got %v", snap.Features.Microprice)
	}
}

func TestReconstructorQtyZeroRemovesUnknownPriceIsNoop(t *testing.T) {
	fetcher := &fakeSnapshotter{
		lastUpdateID: 1,
		bids:         []decode.PriceLevel{{Price: 100, Qty: 1}},
	}
	r := New(fetcher)

	ev := diffEvent("ADAUSDT", 2, 2, []decode.PriceLevel{{Price: 99, Qty: 0}}, nil)
	snap, err := r.Process(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap == nil || len(snap.Bids) != 1 || snap.Bids[0].Price != 100 {
		t.Fatalf("expected untouched single bid level, got %+v", snap)
	}
}
