package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ndrandal/marketdata-collector/internal/errs"
)

// storeRetryBackoff mirrors the Stream Worker's canonical reconnect
// schedule (spec §4.3); a transient store failure retries a batch on the
// same cadence rather than inventing a second policy.
var storeRetryBackoff = []time.Duration{
	1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second,
}

// TableStats tracks per-table row/error counters, supplementing the
// original's collection_stats bookkeeping (spec SPEC_FULL §5) so the
// out-of-scope monitoring dashboard has something to read.
type TableStats struct {
	Inserted int64
	Dropped  int64
}

// namedExecer is the slice of *sqlx.DB the Writer needs for a bare
// insert, kept narrow so tests can substitute a hand-written fake
// instead of a mocking library (the teacher never imports one either).
type namedExecer interface {
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

// txBeginner is satisfied by *sqlx.DB (and not by the fakes writer_test.go
// uses), so the Writer can detect a real pooled connection and scope each
// insert inside a transaction carrying the SET LOCAL session timeouts of
// spec §5. A fake namedExecer without this method just skips the
// transaction wrapping.
type txBeginner interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// Writer is the idempotent Batch Writer of spec §4.5: one
// insert_<table> method per table, each using ON CONFLICT DO NOTHING
// against the documented uniqueness key, retried on transient failure
// and dropped (counted, not retried) on permanent failure.
type Writer struct {
	db     namedExecer
	dryRun bool

	mu    sync.Mutex
	stats map[string]*TableStats
}

// NewWriter creates a Writer. When dryRun is true, every insert becomes a
// no-op that still advances the stats counters (spec §6.4's DRY_RUN).
func NewWriter(db namedExecer, dryRun bool) *Writer {
	return &Writer{db: db, dryRun: dryRun, stats: make(map[string]*TableStats)}
}

func (w *Writer) statsFor(table string) *TableStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.stats[table]
	if !ok {
		s = &TableStats{}
		w.stats[table] = s
	}
	return s
}

// Stats returns a snapshot of per-table counters.
func (w *Writer) Stats() map[string]TableStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]TableStats, len(w.stats))
	for k, v := range w.stats {
		out[k] = TableStats{Inserted: atomic.LoadInt64(&v.Inserted), Dropped: atomic.LoadInt64(&v.Dropped)}
	}
	return out
}

// execWithRetry runs insertFn, retrying on transient store errors per
// storeRetryBackoff and giving up (dropping the batch, counting it) on
// permanent errors. Context cancellation aborts the retry loop without
// counting a drop, letting the caller's shutdown flush try once more if
// it wants to.
func (w *Writer) execWithRetry(ctx context.Context, table string, n int, insertFn func() error) error {
	stats := w.statsFor(table)

	if w.dryRun {
		atomic.AddInt64(&stats.Inserted, int64(n))
		return nil
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = insertFn()
		if lastErr == nil {
			atomic.AddInt64(&stats.Inserted, int64(n))
			return nil
		}

		kind := errs.ClassifyStoreError(lastErr)
		if kind == errs.KindStorePermanent {
			atomic.AddInt64(&stats.Dropped, int64(n))
			log.Printf("persist: %s insert dropped (permanent error): %v", table, lastErr)
			return errs.Wrap(errs.KindStorePermanent, lastErr)
		}

		idx := attempt
		if idx >= len(storeRetryBackoff) {
			idx = len(storeRetryBackoff) - 1
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(storeRetryBackoff[idx]):
		}
		log.Printf("persist: %s insert retry %d after transient error: %v", table, attempt+1, lastErr)
	}
}

// execInsert runs query/arg against w.db, scoping it inside a transaction
// with SetSessionTimeouts applied when w.db is a real *sqlx.DB
// (txBeginner); narrower fakes fall back to a direct NamedExecContext.
func (w *Writer) execInsert(ctx context.Context, query string, arg interface{}) (sql.Result, error) {
	txb, ok := w.db.(txBeginner)
	if !ok {
		return w.db.NamedExecContext(ctx, query, arg)
	}

	tx, err := txb.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("persist: begin tx: %w", err)
	}
	if err := SetSessionTimeouts(ctx, tx); err != nil {
		tx.Rollback()
		return nil, err
	}
	res, err := tx.NamedExecContext(ctx, query, arg)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("persist: commit tx: %w", err)
	}
	return res, nil
}

func (w *Writer) InsertBookTicker(ctx context.Context, rows []BookTickerRow) error {
	if len(rows) == 0 {
		return nil
	}
	const q = `
INSERT INTO book_ticker (ts_exchange, symbol_id, update_id, best_bid, best_ask, bid_qty, ask_qty, spread, mid)
VALUES (:ts_exchange, :symbol_id, :update_id, :best_bid, :best_ask, :bid_qty, :ask_qty, :spread, :mid)
ON CONFLICT (symbol_id, ts_exchange, ts_ingest) DO NOTHING`

	return w.execWithRetry(ctx, "book_ticker", len(rows), func() error {
		_, err := w.execInsert(ctx, q, toNamedBookTicker(rows))
		return err
	})
}

func (w *Writer) InsertTrades(ctx context.Context, rows []TradeRow) error {
	if len(rows) == 0 {
		return nil
	}
	const q = `
INSERT INTO trades (ts_exchange, symbol_id, agg_trade_id, price, qty, is_buyer_maker)
VALUES (:ts_exchange, :symbol_id, :agg_trade_id, :price, :qty, :is_buyer_maker)
ON CONFLICT (symbol_id, agg_trade_id) DO NOTHING`

	return w.execWithRetry(ctx, "trades", len(rows), func() error {
		_, err := w.execInsert(ctx, q, toNamedTrades(rows))
		return err
	})
}

func (w *Writer) InsertDepth(ctx context.Context, rows []DepthEventRow) error {
	if len(rows) == 0 {
		return nil
	}
	const q = `
INSERT INTO depth_events (ts_exchange, symbol_id, first_update_id, final_update_id, prev_final_update_id, bids, asks)
VALUES (:ts_exchange, :symbol_id, :first_update_id, :final_update_id, :prev_final_update_id, :bids, :asks)
ON CONFLICT (symbol_id, ts_exchange, final_update_id) DO NOTHING`

	return w.execWithRetry(ctx, "depth_events", len(rows), func() error {
		_, err := w.execInsert(ctx, q, toNamedDepth(rows))
		return err
	})
}

func (w *Writer) InsertTopN(ctx context.Context, rows []TopNRow) error {
	if len(rows) == 0 {
		return nil
	}
	const q = `
INSERT INTO orderbook_topn (
	ts_exchange, symbol_id,
	b1_price, b1_qty, b2_price, b2_qty, b3_price, b3_qty, b4_price, b4_qty, b5_price, b5_qty,
	a1_price, a1_qty, a2_price, a2_qty, a3_price, a3_qty, a4_price, a4_qty, a5_price, a5_qty,
	microprice, i1, i5, wall_size_bid, wall_size_ask, wall_dist_bid_bps, wall_dist_ask_bps
) VALUES (
	:ts_exchange, :symbol_id,
	:b1_price, :b1_qty, :b2_price, :b2_qty, :b3_price, :b3_qty, :b4_price, :b4_qty, :b5_price, :b5_qty,
	:a1_price, :a1_qty, :a2_price, :a2_qty, :a3_price, :a3_qty, :a4_price, :a4_qty, :a5_price, :a5_qty,
	:microprice, :i1, :i5, :wall_size_bid, :wall_size_ask, :wall_dist_bid_bps, :wall_dist_ask_bps
) ON CONFLICT (symbol_id, ts_exchange) DO NOTHING`

	return w.execWithRetry(ctx, "orderbook_topn", len(rows), func() error {
		_, err := w.execInsert(ctx, q, toNamedTopN(rows))
		return err
	})
}

func (w *Writer) InsertMarkPrice(ctx context.Context, rows []MarkPriceRow) error {
	if len(rows) == 0 {
		return nil
	}
	const q = `
INSERT INTO mark_price (ts_exchange, symbol_id, event_type, mark_price, index_price, est_settlement_price, funding_rate, next_funding_time)
VALUES (:ts_exchange, :symbol_id, :event_type, :mark_price, :index_price, :est_settlement_price, :funding_rate, :next_funding_time)
ON CONFLICT (symbol_id, ts_exchange) DO NOTHING`

	return w.execWithRetry(ctx, "mark_price", len(rows), func() error {
		_, err := w.execInsert(ctx, q, toNamedMarkPrice(rows))
		return err
	})
}

func (w *Writer) InsertForceOrders(ctx context.Context, rows []ForceOrderRow) error {
	if len(rows) == 0 {
		return nil
	}
	const q = `
INSERT INTO force_orders (ts_exchange, symbol_id, side, price, qty, raw)
VALUES (:ts_exchange, :symbol_id, :side, :price, :qty, :raw)
ON CONFLICT (symbol_id, ts_exchange) DO NOTHING`

	return w.execWithRetry(ctx, "force_orders", len(rows), func() error {
		_, err := w.execInsert(ctx, q, toNamedForceOrders(rows))
		return err
	})
}

// Named-parameter row shims: sqlx.NamedExecContext needs struct tags, so
// each row type gets a lightweight wire-shaped twin at insert time rather
// than carrying db tags on the domain row types themselves.

type namedBookTicker struct {
	TSExchange time.Time `db:"ts_exchange"`
	SymbolID   int64     `db:"symbol_id"`
	UpdateID   int64     `db:"update_id"`
	BestBid    float64   `db:"best_bid"`
	BestAsk    float64   `db:"best_ask"`
	BidQty     float64   `db:"bid_qty"`
	AskQty     float64   `db:"ask_qty"`
	Spread     float64   `db:"spread"`
	Mid        float64   `db:"mid"`
}

func toNamedBookTicker(rows []BookTickerRow) []namedBookTicker {
	out := make([]namedBookTicker, len(rows))
	for i, r := range rows {
		out[i] = namedBookTicker{r.TSExchange, r.SymbolID, r.UpdateID, r.BestBid, r.BestAsk, r.BidQty, r.AskQty, r.Spread, r.Mid}
	}
	return out
}

type namedTrade struct {
	TSExchange   time.Time `db:"ts_exchange"`
	SymbolID     int64     `db:"symbol_id"`
	AggTradeID   int64     `db:"agg_trade_id"`
	Price        float64   `db:"price"`
	Qty          float64   `db:"qty"`
	IsBuyerMaker bool      `db:"is_buyer_maker"`
}

func toNamedTrades(rows []TradeRow) []namedTrade {
	out := make([]namedTrade, len(rows))
	for i, r := range rows {
		out[i] = namedTrade{r.TSExchange, r.SymbolID, r.AggTradeID, r.Price, r.Qty, r.IsBuyerMaker}
	}
	return out
}

type namedDepth struct {
	TSExchange    time.Time `db:"ts_exchange"`
	SymbolID      int64     `db:"symbol_id"`
	FirstUpdateID int64     `db:"first_update_id"`
	FinalUpdateID int64     `db:"final_update_id"`
	PrevFinalID   int64     `db:"prev_final_update_id"`
	Bids          []byte    `db:"bids"`
	Asks          []byte    `db:"asks"`
}

func toNamedDepth(rows []DepthEventRow) []namedDepth {
	out := make([]namedDepth, len(rows))
	for i, r := range rows {
		bids, asks := r.BidsJSON, r.AsksJSON
		if bids == nil {
			bids, _ = json.Marshal([]any{})
		}
		if asks == nil {
			asks, _ = json.Marshal([]any{})
		}
		out[i] = namedDepth{r.TSExchange, r.SymbolID, r.FirstUpdateID, r.FinalUpdateID, r.PrevFinalID, bids, asks}
	}
	return out
}

func toNamedTopN(rows []TopNRow) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		m := map[string]any{
			"ts_exchange": r.TSExchange,
			"symbol_id":   r.SymbolID,
			"microprice":  r.Microprice,
			"i1":          r.I1,
			"i5":          r.I5,
			"wall_size_bid":     r.WallSizeBid,
			"wall_size_ask":     r.WallSizeAsk,
			"wall_dist_bid_bps": r.WallDistBidBp,
			"wall_dist_ask_bps": r.WallDistAskBp,
		}
		for lvl := 0; lvl < 5; lvl++ {
			pricePrefix := fmt.Sprintf("b%d_price", lvl+1)
			qtyPrefix := fmt.Sprintf("b%d_qty", lvl+1)
			if lvl < len(r.Bids) {
				m[pricePrefix] = r.Bids[lvl].Price
				m[qtyPrefix] = r.Bids[lvl].Qty
			} else {
				m[pricePrefix] = nil
				m[qtyPrefix] = nil
			}
			aPricePrefix := fmt.Sprintf("a%d_price", lvl+1)
			aQtyPrefix := fmt.Sprintf("a%d_qty", lvl+1)
			if lvl < len(r.Asks) {
				m[aPricePrefix] = r.Asks[lvl].Price
				m[aQtyPrefix] = r.Asks[lvl].Qty
			} else {
				m[aPricePrefix] = nil
				m[aQtyPrefix] = nil
			}
		}
		out[i] = m
	}
	return out
}

type namedMarkPrice struct {
	TSExchange     time.Time `db:"ts_exchange"`
	SymbolID       int64     `db:"symbol_id"`
	EventType      string    `db:"event_type"`
	MarkPrice      float64   `db:"mark_price"`
	IndexPrice     float64   `db:"index_price"`
	EstSettlePrice float64   `db:"est_settlement_price"`
	FundingRate    float64   `db:"funding_rate"`
	NextFunding    time.Time `db:"next_funding_time"`
}

func toNamedMarkPrice(rows []MarkPriceRow) []namedMarkPrice {
	out := make([]namedMarkPrice, len(rows))
	for i, r := range rows {
		out[i] = namedMarkPrice{r.TSExchange, r.SymbolID, r.EventType, r.MarkPrice, r.IndexPrice, r.EstSettlePrice, r.FundingRate, r.NextFunding}
	}
	return out
}

type namedForceOrder struct {
	TSExchange time.Time `db:"ts_exchange"`
	SymbolID   int64     `db:"symbol_id"`
	Side       string    `db:"side"`
	Price      float64   `db:"price"`
	Qty        float64   `db:"qty"`
	Raw        []byte    `db:"raw"`
}

func toNamedForceOrders(rows []ForceOrderRow) []namedForceOrder {
	out := make([]namedForceOrder, len(rows))
	for i, r := range rows {
		out[i] = namedForceOrder{r.TSExchange, r.SymbolID, r.Side, r.Price, r.Qty, r.Raw}
	}
	return out
}
