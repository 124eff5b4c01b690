// Package watchdog periodically scans active Postgres sessions and
// cancels ones that have run long enough to risk exhausting the pool
// (spec §4.7's DB Watchdog).
package watchdog

import (
	"context"
	"database/sql"
	"log"
	"time"
)

// Rows is the subset of *sql.Rows the watchdog needs; narrowed to an
// interface so tests can supply an in-memory fake instead of a real
// driver.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// selfApplicationName is the application_name the store sets on its own
// sessions (internal/persist.applicationName); the watchdog excludes
// sessions carrying it so it never cancels itself or the writer/
// reconstructor's own connections — grounded on
// original_source/collector/storage/postgres_manager.py's
// server_settings={'application_name': 'orderbook_collector'}.
const selfApplicationName = "marketdata-collector"

// Querier is the narrow subset of *sqlx.DB the watchdog needs.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// DBAdapter wraps a *sql.DB-shaped store (e.g. *sqlx.DB) to satisfy
// Querier; needed because *sql.Rows structurally satisfies Rows but
// *sql.DB's QueryContext signature returns the concrete *sql.Rows type,
// not the Rows interface.
type DBAdapter struct {
	DB interface {
		QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
		ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	}
}

func (a DBAdapter) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	return a.DB.QueryContext(ctx, query, args...)
}

func (a DBAdapter) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return a.DB.ExecContext(ctx, query, args...)
}

type activeSession struct {
	pid             int
	applicationName string
	ageSeconds      float64
}

// Watchdog scans pg_stat_activity at Interval and cancels sessions whose
// state is 'active' and whose age exceeds Threshold, excluding its own
// application_name.
type Watchdog struct {
	db        Querier
	Interval  time.Duration
	Threshold time.Duration

	cancelled int64
}

// New creates a Watchdog. interval/threshold <= 0 fall back to spec
// §4.7's defaults (60s scan period, 120s age threshold).
func New(db Querier, interval, threshold time.Duration) *Watchdog {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if threshold <= 0 {
		threshold = 120 * time.Second
	}
	return &Watchdog{db: db, Interval: interval, Threshold: threshold}
}

// Run blocks, scanning every Interval until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.scanOnce(ctx); err != nil {
				log.Printf("watchdog: scan error: %v", err)
			}
		}
	}
}

// Cancelled returns the number of sessions cancelled so far.
func (w *Watchdog) Cancelled() int64 { return w.cancelled }

const scanQuery = `
SELECT pid, COALESCE(application_name, ''), EXTRACT(EPOCH FROM (now() - query_start))
FROM pg_stat_activity
WHERE state = 'active'
  AND pid <> pg_backend_pid()`

func (w *Watchdog) scanOnce(ctx context.Context) error {
	rows, err := w.db.QueryContext(ctx, scanQuery)
	if err != nil {
		return err
	}
	defer rows.Close()

	var toCancel []activeSession
	for rows.Next() {
		var s activeSession
		if err := rows.Scan(&s.pid, &s.applicationName, &s.ageSeconds); err != nil {
			return err
		}
		if s.applicationName == selfApplicationName {
			continue
		}
		if s.ageSeconds >= w.Threshold.Seconds() {
			toCancel = append(toCancel, s)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, s := range toCancel {
		if _, err := w.db.ExecContext(ctx, `SELECT pg_cancel_backend($1)`, s.pid); err != nil {
			log.Printf("watchdog: cancel pid %d failed: %v", s.pid, err)
			continue
		}
		w.cancelled++
		log.Printf("watchdog: cancelled pid %d (app=%q, age=%.0fs)", s.pid, s.applicationName, s.ageSeconds)
	}
	return nil
}
