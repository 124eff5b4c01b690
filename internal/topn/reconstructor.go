package topn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ndrandal/marketdata-collector/internal/decode"
	"github.com/ndrandal/marketdata-collector/internal/errs"
)

// maxConsecutiveGaps is the recommended K from spec §4.6: after this many
// consecutive gap-driven resyncs, the symbol enters cooldown and no
// snapshot is produced until the next successful resync.
const maxConsecutiveGaps = 5

// snapshotRateLimit bounds REST re-snapshot calls to one per symbol per
// 2 seconds (spec §9's Open Question on REST retry/backoff, resolved
// concretely here rather than left ambiguous).
const snapshotRateLimit = 2 * time.Second // interval between requests, passed to rate.Every

// Snapshotter fetches a fresh order-book snapshot for a symbol. The real
// implementation calls GET /fapi/v1/depth?symbol=...&limit=1000 (spec
// §6.2); tests supply a fake.
type Snapshotter interface {
	FetchSnapshot(ctx context.Context, symbol string) (lastUpdateID int64, bids, asks []decode.PriceLevel, err error)
}

// Snapshot is the record emitted on every applied diff (spec §3.1's
// TopNSnapshot). Identity for dedup: (SymbolID placeholder, ts_exchange) —
// SymbolID is attached by the caller after resolving Symbol via the
// registry, so this package stays free of a store dependency.
type Snapshot struct {
	Symbol      string
	TSExchange  time.Time
	Bids        []Level // up to top 5
	Asks        []Level // up to top 5
	Features    Features
}

// Reconstructor owns one BookState per symbol and serializes all
// updates to a symbol under that symbol's own mutex; no global lock
// guards cross-symbol work (spec §4.6).
type Reconstructor struct {
	fetcher Snapshotter

	mu      sync.RWMutex
	states  map[string]*BookState
	limiters map[string]*rate.Limiter
}

// New creates a Reconstructor backed by fetcher.
func New(fetcher Snapshotter) *Reconstructor {
	return &Reconstructor{
		fetcher:  fetcher,
		states:   make(map[string]*BookState),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (r *Reconstructor) stateFor(symbol string) *BookState {
	r.mu.RLock()
	s, ok := r.states[symbol]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.states[symbol]; ok {
		return s
	}
	s = newBookState()
	r.states[symbol] = s
	r.limiters[symbol] = rate.NewLimiter(rate.Every(snapshotRateLimit), 1)
	return s
}

func (r *Reconstructor) limiterFor(symbol string) *rate.Limiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limiters[symbol]
}

// Process applies one depth diff to the symbol's book state, running the
// state machine of spec §4.6, and returns a Snapshot when the diff was
// applied and the book is Synced. A nil Snapshot with nil error means the
// diff was consumed (ignored, or triggered a resync) without producing
// output — the caller should not treat this as a failure.
func (r *Reconstructor) Process(ctx context.Context, ev *decode.DepthDiffEvent) (*Snapshot, error) {
	b := r.stateFor(ev.Symbol())

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.State {
	case Uninitialized:
		if err := r.resync(ctx, ev.Symbol(), b); err != nil {
			return nil, err
		}
		return r.tryApplyAfterResync(ev, b), nil

	case WaitSync:
		switch {
		case ev.FirstUpdateID <= b.LastUpdateID+1 && b.LastUpdateID+1 <= ev.FinalUpdateID:
			applyLevels(b.Bids, ev.Bids)
			applyLevels(b.Asks, ev.Asks)
			b.LastUpdateID = ev.FinalUpdateID
			b.State = Synced
			b.ConsecutiveGaps = 0
			return r.emit(ev), nil
		case ev.FinalUpdateID < b.LastUpdateID:
			return nil, nil // stale, ignore
		case ev.FirstUpdateID > b.LastUpdateID+1:
			b.ConsecutiveGaps++
			if b.ConsecutiveGaps > maxConsecutiveGaps {
				// Cooldown: stay in WaitSync without resyncing again until
				// a successful resync resets the counter.
				return nil, nil
			}
			if err := r.resync(ctx, ev.Symbol(), b); err != nil {
				return nil, err
			}
			return nil, nil
		default:
			return nil, nil
		}

	case Synced:
		switch {
		case ev.FirstUpdateID == b.LastUpdateID+1:
			applyLevels(b.Bids, ev.Bids)
			applyLevels(b.Asks, ev.Asks)
			b.LastUpdateID = ev.FinalUpdateID
			b.ConsecutiveGaps = 0
			return r.emit(ev), nil
		case ev.FirstUpdateID > b.LastUpdateID+1:
			b.ConsecutiveGaps++
			b.State = WaitSync
			if b.ConsecutiveGaps > maxConsecutiveGaps {
				// Cooldown: stay in WaitSync without resyncing immediately;
				// the next diff will re-attempt once the counter resets
				// via a successful resync.
				return nil, nil
			}
			if err := r.resync(ctx, ev.Symbol(), b); err != nil {
				return nil, err
			}
			return nil, nil
		default:
			return nil, nil // duplicate or stale, ignore
		}
	}

	return nil, nil
}

// resync fetches a fresh snapshot and resets book state. Called with the
// symbol's lock held, matching spec §4.6's "REST snapshot calls happen
// inside the [per-symbol] lock". When the symbol's limiter has no token,
// resync waits for one before fetching.
func (r *Reconstructor) resync(ctx context.Context, symbol string, b *BookState) error {
	limiter := r.limiterFor(symbol)
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return errs.Wrap(errs.KindREST, fmt.Errorf("snapshot rate limit wait for %s: %w", symbol, err))
		}
	}

	lastID, bids, asks, err := r.fetcher.FetchSnapshot(ctx, symbol)
	if err != nil {
		return errs.Wrap(errs.KindREST, fmt.Errorf("fetch snapshot for %s: %w", symbol, err))
	}
	resetSides(b, bids, asks)
	b.LastUpdateID = lastID
	b.State = WaitSync
	return nil
}

func (r *Reconstructor) tryApplyAfterResync(ev *decode.DepthDiffEvent, b *BookState) *Snapshot {
	if ev.FirstUpdateID <= b.LastUpdateID+1 && b.LastUpdateID+1 <= ev.FinalUpdateID {
		applyLevels(b.Bids, ev.Bids)
		applyLevels(b.Asks, ev.Asks)
		b.LastUpdateID = ev.FinalUpdateID
		b.State = Synced
		b.ConsecutiveGaps = 0
		return r.emit(ev)
	}
	return nil
}

func (r *Reconstructor) emit(ev *decode.DepthDiffEvent) *Snapshot {
	r.mu.RLock()
	b := r.states[ev.Symbol()]
	r.mu.RUnlock()
	bids := topLevels(b.Bids, topNDepth, true)
	asks := topLevels(b.Asks, topNDepth, false)
	return &Snapshot{
		Symbol:     ev.Symbol(),
		TSExchange: ev.ExchangeTime(),
		Bids:       bids,
		Asks:       asks,
		Features:   computeFeatures(bids, asks),
	}
}
