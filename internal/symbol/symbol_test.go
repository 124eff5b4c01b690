package symbol

import "testing"

func TestCacheKeyUniquePerExchange(t *testing.T) {
	a := cacheKey("binance-futures", "BTCUSDT")
	b := cacheKey("binance-spot", "BTCUSDT")
	if a == b {
		t.Fatal("expected distinct cache keys for distinct exchanges")
	}
}

func TestRegistryLookupMissing(t *testing.T) {
	r := New(nil, "")
	if _, ok := r.Lookup(42); ok {
		t.Fatal("expected Lookup to miss on empty registry")
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got len %d", r.Len())
	}
}

func TestRegistryDefaultExchange(t *testing.T) {
	r := New(nil, "")
	if r.exchange != defaultExchange {
		t.Fatalf("expected default exchange %q, got %q", defaultExchange, r.exchange)
	}
}

// TestRegistryCacheInsertAndLookup exercises the cache bookkeeping
// directly (bypassing the DB round trip, which needs a live *sql.DB): it
// stores an entry in both indices (byKey and byID) the way Resolve does
// after an upsert, and confirms Lookup and Len read it back.
func TestRegistryCacheInsertAndLookup(t *testing.T) {
	r := New(nil, "binance-futures")
	sym := &Symbol{ID: 7, Exchange: "binance-futures", Name: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", IsActive: true}

	r.mu.Lock()
	r.byKey[cacheKey(sym.Exchange, sym.Name)] = sym
	r.byID[sym.ID] = sym
	r.mu.Unlock()

	got, ok := r.Lookup(7)
	if !ok || got.Name != "BTCUSDT" {
		t.Fatalf("expected cached BTCUSDT at id 7, got %+v ok=%v", got, ok)
	}
	if r.Len() != 1 {
		t.Fatalf("expected len 1, got %d", r.Len())
	}
}

func TestBootstrapUniverseNonEmpty(t *testing.T) {
	syms := BootstrapUniverse()
	if len(syms) == 0 {
		t.Fatal("expected a non-empty bootstrap universe")
	}
	seen := make(map[string]bool)
	for _, s := range syms {
		if seen[s] {
			t.Fatalf("duplicate symbol %s in bootstrap universe", s)
		}
		seen[s] = true
	}
}
