package persist

import (
	"context"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
)

// ddlStatements is the literal schema of spec §6.3, issued idempotently
// at startup via CREATE TABLE IF NOT EXISTS. Each table's conflict target
// below matches the uniqueness column documented in §6.3.
var ddlStatements = []string{
	`CREATE TABLE IF NOT EXISTS symbols (
		id          BIGSERIAL PRIMARY KEY,
		exchange    TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		base_asset  TEXT NOT NULL,
		quote_asset TEXT NOT NULL,
		is_active   BOOLEAN NOT NULL DEFAULT true,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (exchange, symbol)
	)`,
	`CREATE TABLE IF NOT EXISTS book_ticker (
		ts_exchange TIMESTAMPTZ NOT NULL,
		ts_ingest   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		symbol_id   BIGINT NOT NULL REFERENCES symbols(id),
		update_id   BIGINT,
		best_bid    DOUBLE PRECISION NOT NULL,
		best_ask    DOUBLE PRECISION NOT NULL,
		bid_qty     DOUBLE PRECISION NOT NULL,
		ask_qty     DOUBLE PRECISION NOT NULL,
		spread      DOUBLE PRECISION NOT NULL,
		mid         DOUBLE PRECISION NOT NULL,
		UNIQUE (symbol_id, ts_exchange, ts_ingest)
	)`,
	`CREATE TABLE IF NOT EXISTS trades (
		ts_exchange    TIMESTAMPTZ NOT NULL,
		ts_ingest      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		symbol_id      BIGINT NOT NULL REFERENCES symbols(id),
		agg_trade_id   BIGINT NOT NULL,
		price          DOUBLE PRECISION NOT NULL,
		qty            DOUBLE PRECISION NOT NULL,
		is_buyer_maker BOOLEAN NOT NULL,
		UNIQUE (symbol_id, agg_trade_id)
	)`,
	`CREATE TABLE IF NOT EXISTS depth_events (
		ts_exchange           TIMESTAMPTZ NOT NULL,
		ts_ingest             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		symbol_id             BIGINT NOT NULL REFERENCES symbols(id),
		first_update_id       BIGINT NOT NULL,
		final_update_id       BIGINT NOT NULL,
		prev_final_update_id  BIGINT,
		bids                  JSONB NOT NULL,
		asks                  JSONB NOT NULL,
		UNIQUE (symbol_id, ts_exchange, final_update_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orderbook_topn (
		ts_exchange      TIMESTAMPTZ NOT NULL,
		ts_ingest        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		symbol_id        BIGINT NOT NULL REFERENCES symbols(id),
		b1_price DOUBLE PRECISION, b1_qty DOUBLE PRECISION,
		b2_price DOUBLE PRECISION, b2_qty DOUBLE PRECISION,
		b3_price DOUBLE PRECISION, b3_qty DOUBLE PRECISION,
		b4_price DOUBLE PRECISION, b4_qty DOUBLE PRECISION,
		b5_price DOUBLE PRECISION, b5_qty DOUBLE PRECISION,
		a1_price DOUBLE PRECISION, a1_qty DOUBLE PRECISION,
		a2_price DOUBLE PRECISION, a2_qty DOUBLE PRECISION,
		a3_price DOUBLE PRECISION, a3_qty DOUBLE PRECISION,
		a4_price DOUBLE PRECISION, a4_qty DOUBLE PRECISION,
		a5_price DOUBLE PRECISION, a5_qty DOUBLE PRECISION,
		microprice      DOUBLE PRECISION,
		i1              DOUBLE PRECISION,
		i5              DOUBLE PRECISION,
		wall_size_bid   DOUBLE PRECISION,
		wall_size_ask   DOUBLE PRECISION,
		wall_dist_bid_bps DOUBLE PRECISION,
		wall_dist_ask_bps DOUBLE PRECISION,
		UNIQUE (symbol_id, ts_exchange)
	)`,
	`CREATE TABLE IF NOT EXISTS mark_price (
		ts_exchange            TIMESTAMPTZ NOT NULL,
		ts_ingest              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		symbol_id              BIGINT NOT NULL REFERENCES symbols(id),
		event_type             TEXT NOT NULL DEFAULT 'markPriceUpdate',
		mark_price             DOUBLE PRECISION NOT NULL,
		index_price            DOUBLE PRECISION NOT NULL,
		est_settlement_price   DOUBLE PRECISION,
		funding_rate           DOUBLE PRECISION,
		next_funding_time      TIMESTAMPTZ,
		UNIQUE (symbol_id, ts_exchange)
	)`,
	`CREATE TABLE IF NOT EXISTS force_orders (
		ts_exchange TIMESTAMPTZ NOT NULL,
		ts_ingest   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		symbol_id   BIGINT NOT NULL REFERENCES symbols(id),
		side        TEXT NOT NULL,
		price       DOUBLE PRECISION NOT NULL,
		qty         DOUBLE PRECISION NOT NULL,
		raw         JSONB,
		UNIQUE (symbol_id, ts_exchange)
	)`,
	`CREATE TABLE IF NOT EXISTS collection_stats (
		symbol_id     BIGINT PRIMARY KEY REFERENCES symbols(id),
		table_name    TEXT NOT NULL,
		row_count     BIGINT NOT NULL DEFAULT 0,
		error_count   BIGINT NOT NULL DEFAULT 0,
		last_ts       TIMESTAMPTZ,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// indexStatements supplement the unique constraints above with lookup
// indexes the batch writer and the (out-of-scope) dashboard both rely on.
var indexStatements = []string{
	`CREATE INDEX IF NOT EXISTS idx_book_ticker_symbol_ts ON book_ticker (symbol_id, ts_exchange DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_symbol_ts ON trades (symbol_id, ts_exchange DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_depth_events_symbol_ts ON depth_events (symbol_id, ts_exchange DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_orderbook_topn_symbol_ts ON orderbook_topn (symbol_id, ts_exchange DESC)`,
}

// hypertableCandidates are tables partitioned by ts_exchange when
// TimescaleDB is installed. create_hypertable is best-effort: the
// original Python schema never required a hypertable either, so a
// missing extension logs a warning rather than failing startup.
var hypertableCandidates = []string{
	"book_ticker", "trades", "depth_events", "orderbook_topn", "mark_price", "force_orders",
}

// EnsureSchema creates all tables, indexes, and (best-effort) hypertables
// idempotently. Safe to call on every startup.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range ddlStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("persist: create table: %w", err)
		}
	}
	for _, stmt := range indexStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("persist: create index: %w", err)
		}
	}
	for _, table := range hypertableCandidates {
		stmt := fmt.Sprintf(`SELECT create_hypertable('%s', 'ts_exchange', if_not_exists => true, migrate_data => true)`, table)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			log.Printf("persist: create_hypertable(%s) skipped (TimescaleDB not installed?): %v", table, err)
		}
	}
	log.Println("persist: schema ensured")
	return nil
}
