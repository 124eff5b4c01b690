package persist

import (
	"context"
	"log"
	"time"
)

// retentionTables lists the tables pruned by RunRetention, grounded on
// original_source/collector/storage/postgres_manager.py's
// cleanup_old_data, which deletes rows older than retention_days from
// the raw event tables (the registry and stats tables are never pruned).
var retentionTables = []string{
	"book_ticker", "trades", "depth_events", "orderbook_topn", "mark_price", "force_orders",
}

// RunRetention periodically deletes rows older than retentionDays from
// every table in retentionTables. Blocks until ctx is cancelled. Pass
// retentionDays <= 0 to disable.
func RunRetention(ctx context.Context, store *Store, retentionDays int) {
	if retentionDays <= 0 {
		log.Println("persist: retention disabled (keep forever)")
		return
	}

	const interval = 1 * time.Hour
	log.Printf("persist: retention pruning rows older than %d days every %v", retentionDays, interval)

	prune(ctx, store, retentionDays)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune(ctx, store, retentionDays)
		}
	}
}

func prune(ctx context.Context, store *Store, retentionDays int) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	for _, table := range retentionTables {
		result, err := store.db.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE ts_exchange < $1`, cutoff)
		if err != nil {
			log.Printf("persist: retention prune %s error: %v", table, err)
			continue
		}
		if n, err := result.RowsAffected(); err == nil && n > 0 {
			log.Printf("persist: retention pruned %d rows from %s older than %s", n, table, cutoff.Format(time.DateOnly))
		}
	}
}
