// Package topn reconstructs a depth-limited order book per symbol from a
// REST snapshot plus a stream of depth diffs, emitting a top-5 snapshot
// with derived microstructure features on every applied diff.
package topn

import (
	"sort"
	"sync"

	"github.com/ndrandal/marketdata-collector/internal/decode"
)

// SyncState is the reconstructor's per-symbol state machine position.
type SyncState int

const (
	Uninitialized SyncState = iota
	WaitSync
	Synced
)

func (s SyncState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case WaitSync:
		return "wait_sync"
	case Synced:
		return "synced"
	default:
		return "unknown"
	}
}

// BookState is the in-memory order book for one symbol, owned
// exclusively by the reconstructor and guarded by its own mutex so no
// symbol's update path contends with another's (spec §3.2, §4.6).
type BookState struct {
	mu sync.Mutex

	State         SyncState
	LastUpdateID  int64
	Bids          map[float64]float64
	Asks          map[float64]float64
	ConsecutiveGaps int
}

func newBookState() *BookState {
	return &BookState{
		State: Uninitialized,
		Bids:  make(map[float64]float64),
		Asks:  make(map[float64]float64),
	}
}

// applyLevels applies a side's diff entries in place: qty == 0 removes
// the price level, otherwise it's set.
func applyLevels(side map[float64]float64, levels []decode.PriceLevel) {
	for _, l := range levels {
		if l.Qty == 0 {
			delete(side, l.Price)
		} else {
			side[l.Price] = l.Qty
		}
	}
}

func resetSides(b *BookState, bids, asks []decode.PriceLevel) {
	b.Bids = make(map[float64]float64, len(bids))
	b.Asks = make(map[float64]float64, len(asks))
	applyLevels(b.Bids, bids)
	applyLevels(b.Asks, asks)
}

// Level is a priced book level in a Snapshot.
type Level struct {
	Price float64
	Qty   float64
}

// topLevels returns up to n levels from side, sorted descending (bids) or
// ascending (asks), filtering non-positive qty (spec §4.6).
func topLevels(side map[float64]float64, n int, descending bool) []Level {
	levels := make([]Level, 0, len(side))
	for p, q := range side {
		if q <= 0 {
			continue
		}
		levels = append(levels, Level{Price: p, Qty: q})
	}
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})
	if len(levels) > n {
		levels = levels[:n]
	}
	return levels
}
