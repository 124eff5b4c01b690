// Package symbol resolves exchange symbol names to stable store-side
// ids, caching results so the hot decode/persist path never blocks on a
// query.
package symbol

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// Symbol is the registry's view of a tradable instrument.
type Symbol struct {
	ID         int64
	Exchange   string
	Name       string
	BaseAsset  string
	QuoteAsset string
	IsActive   bool
}

// Querier is the subset of *sqlx.DB/*sql.DB the registry needs, kept
// narrow so tests can supply a fake without pulling in a mocking library.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const defaultExchange = "binance-futures"

// Registry resolves symbol names to ids, upserting on first observation.
// Reads are served from an in-memory cache guarded by a RWMutex; writes
// take the exclusive guard only for the duration of the cache update, not
// the query itself, so a slow upsert can't stall concurrent readers of
// unrelated symbols (§3.2: "shared read-mostly; writers hold a short
// exclusive guard").
type Registry struct {
	db       Querier
	exchange string

	mu    sync.RWMutex
	byKey map[string]*Symbol // "EXCHANGE|NAME" -> symbol
	byID  map[int64]*Symbol
}

// New creates a Registry backed by db. exchange defaults to
// "binance-futures" when empty.
func New(db Querier, exchange string) *Registry {
	if exchange == "" {
		exchange = defaultExchange
	}
	return &Registry{
		db:       db,
		exchange: exchange,
		byKey:    make(map[string]*Symbol),
		byID:     make(map[int64]*Symbol),
	}
}

func cacheKey(exchange, name string) string {
	return exchange + "|" + name
}

// Resolve returns the cached id for name if present; otherwise it upserts
// the symbol row and caches the result. Mirrors spec §4.1's
// INSERT ... ON CONFLICT (exchange, symbol) DO UPDATE ... RETURNING id.
func (r *Registry) Resolve(ctx context.Context, name, baseAsset, quoteAsset string) (int64, error) {
	key := cacheKey(r.exchange, name)

	r.mu.RLock()
	if s, ok := r.byKey[key]; ok {
		r.mu.RUnlock()
		return s.ID, nil
	}
	r.mu.RUnlock()

	const upsert = `
INSERT INTO symbols (exchange, symbol, base_asset, quote_asset, is_active, updated_at)
VALUES ($1, $2, $3, $4, true, NOW())
ON CONFLICT (exchange, symbol)
DO UPDATE SET base_asset = EXCLUDED.base_asset, quote_asset = EXCLUDED.quote_asset, updated_at = NOW()
RETURNING id`

	var id int64
	if err := r.db.QueryRowContext(ctx, upsert, r.exchange, name, baseAsset, quoteAsset).Scan(&id); err != nil {
		return 0, fmt.Errorf("symbol: resolve %s: %w", name, err)
	}

	sym := &Symbol{ID: id, Exchange: r.exchange, Name: name, BaseAsset: baseAsset, QuoteAsset: quoteAsset, IsActive: true}

	r.mu.Lock()
	r.byKey[key] = sym
	r.byID[id] = sym
	r.mu.Unlock()

	return id, nil
}

// Preload loads all active symbols for the registry's exchange in one
// query, populating the cache ahead of the hot path (spec §4.1).
func (r *Registry) Preload(ctx context.Context) (int, error) {
	const q = `SELECT id, exchange, symbol, base_asset, quote_asset, is_active FROM symbols WHERE exchange = $1 AND is_active = true`

	rows, err := r.db.QueryContext(ctx, q, r.exchange)
	if err != nil {
		return 0, fmt.Errorf("symbol: preload: %w", err)
	}
	defer rows.Close()

	loaded := 0
	r.mu.Lock()
	defer r.mu.Unlock()
	for rows.Next() {
		s := &Symbol{}
		if err := rows.Scan(&s.ID, &s.Exchange, &s.Name, &s.BaseAsset, &s.QuoteAsset, &s.IsActive); err != nil {
			return loaded, fmt.Errorf("symbol: preload scan: %w", err)
		}
		r.byKey[cacheKey(s.Exchange, s.Name)] = s
		r.byID[s.ID] = s
		loaded++
	}
	return loaded, rows.Err()
}

// Lookup returns the cached symbol for id, if known.
func (r *Registry) Lookup(id int64) (*Symbol, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// Len reports the number of cached symbols.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}

// BootstrapUniverse is the built-in candidate symbol list used when
// config.Symbols is empty and exchangeInfo resolution (handled by
// internal/supervisor) needs a fallback set to filter against. Limited to
// the USDT-perp majors; not exhaustive, the supervisor always prefers the
// live exchangeInfo universe when it's reachable.
func BootstrapUniverse() []string {
	return []string{
		"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "XRPUSDT",
		"ADAUSDT", "DOGEUSDT", "AVAXUSDT", "LINKUSDT", "DOTUSDT",
		"MATICUSDT", "LTCUSDT", "TRXUSDT", "NEARUSDT", "ATOMUSDT",
		"UNIUSDT", "ETCUSDT", "FILUSDT", "APTUSDT", "ARBUSDT",
	}
}
