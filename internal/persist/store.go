package persist

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const applicationName = "marketdata-collector"

// Default statement/lock/idle timeouts, set via SET LOCAL at session init
// (spec §5's "Timeouts").
const (
	statementTimeout      = 15 * time.Second
	lockTimeout           = 5 * time.Second
	idleInTransactionTime = 10 * time.Second
)

// Store wraps a pooled Postgres connection used by the Batch Writer, the
// symbol registry's lookups, and the DB Watchdog.
type Store struct {
	db *sqlx.DB
}

// NewStore opens a connection pool to dsn, negotiating TLS per sslMode
// and setting the application_name used by the watchdog's self-exclusion
// allowlist.
//
// sslMode follows libpq's sslmode values: disable, allow, prefer, require,
// verify-ca, verify-full. verify-ca/verify-full additionally load
// sslRootCert when set (grounded on
// original_source/collector/storage/postgres_manager.py's ssl context
// selection).
func NewStore(ctx context.Context, dsn, sslMode, sslRootCert string, poolSize int) (*Store, error) {
	connStr, err := buildConnString(dsn, sslMode, sslRootCert)
	if err != nil {
		return nil, fmt.Errorf("persist: build conn string: %w", err)
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("persist: connect: %w", err)
	}

	if poolSize <= 0 {
		poolSize = 20
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(maxInt(poolSize/10, 1))
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: ping: %w", err)
	}

	log.Printf("persist: connected to postgres (sslmode=%s, pool=%d)", sslMode, poolSize)
	return &Store{db: db}, nil
}

// buildConnString appends libpq sslmode/sslrootcert parameters to dsn and
// the application_name the watchdog recognizes as a collector session.
func buildConnString(dsn, sslMode, sslRootCert string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("empty DSN")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if sslMode != "" {
		q.Set("sslmode", sslMode)
	}
	if sslRootCert != "" {
		q.Set("sslrootcert", sslRootCert)
	}
	q.Set("application_name", applicationName)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DB returns the underlying *sqlx.DB.
func (s *Store) DB() *sqlx.DB { return s.db }

// Close closes the pool.
func (s *Store) Close() error { return s.db.Close() }

// Migrate applies schema DDL; see schema.go.
func (s *Store) Migrate(ctx context.Context) error {
	return EnsureSchema(ctx, s.db)
}

// SetSessionTimeouts applies the per-session SET LOCAL timeouts of
// spec §5 at the start of a transaction/connection's working set.
func SetSessionTimeouts(ctx context.Context, tx *sqlx.Tx) error {
	stmts := []string{
		fmt.Sprintf("SET LOCAL statement_timeout = %d", statementTimeout.Milliseconds()),
		fmt.Sprintf("SET LOCAL lock_timeout = %d", lockTimeout.Milliseconds()),
		fmt.Sprintf("SET LOCAL idle_in_transaction_session_timeout = %d", idleInTransactionTime.Milliseconds()),
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("persist: set session timeout: %w", err)
		}
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
