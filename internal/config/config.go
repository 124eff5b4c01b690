// Package config loads collector configuration from environment variables,
// following the flag.XxxVar(&field, name, envOrDefault(...), usage) idiom.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all collector configuration, resolved from spec §6.4.
type Config struct {
	// Store
	DatabaseURL   string
	DBSSLMode     string
	DBSSLRootCert string
	DryRun        bool

	// Exchange endpoints
	BinanceWSURL   string
	BinanceBaseURL string

	// Symbol universe
	Symbols        []string // explicit override, empty = resolve via exchangeInfo
	TotalSymbols   int
	StartingSymbol string

	// Channels / shards
	Channels         []string
	Shards           int // desired shard count for the main ticker stream group, 0 = planner's built-in per-shard default
	EnableDepth      bool
	DepthTopSymbols  int
	EnableMarkPrice  bool
	EnableForceOrder bool

	// Batch buffers
	BatchSize     int
	FlushInterval time.Duration

	// DB watchdog
	EnableDBWatchdog   bool
	DBWatchdogInterval time.Duration
	DBWatchdogThresh   time.Duration

	// Retention
	RetentionDays int

	// Misc
	Seed int64
}

// Load parses flags and environment variables into a Config. Environment
// variables take precedence as defaults; flags allow overriding them at
// the command line, matching the teacher's envOrDefault layering.
func Load() (*Config, error) {
	c := &Config{}

	var symbolsCSV, channelsCSV string

	flag.StringVar(&c.DatabaseURL, "database-url", envStr("DATABASE_URL", ""), "Postgres DSN, required")
	flag.StringVar(&c.DBSSLMode, "db-sslmode", envStr("DB_SSLMODE", "prefer"), "Postgres sslmode")
	flag.StringVar(&c.DBSSLRootCert, "db-sslrootcert", envStr("DB_SSLROOTCERT", ""), "path to CA root cert, used when sslmode is verify-ca/verify-full")
	flag.BoolVar(&c.DryRun, "dry-run", envBool("DRY_RUN", false), "disable persistence; buffers still fill, writes become no-ops")

	flag.StringVar(&c.BinanceWSURL, "binance-ws-url", envStr("BINANCE_WS_URL", "wss://fstream.binance.com"), "exchange combined-stream WS host")
	flag.StringVar(&c.BinanceBaseURL, "binance-base-url", envStr("BINANCE_BASE_URL", "https://fapi.binance.com"), "exchange REST host")

	flag.StringVar(&symbolsCSV, "symbols", envStr("SYMBOLS", ""), "comma-separated explicit symbol set, overrides built-in resolution")
	flag.IntVar(&c.TotalSymbols, "total-symbols", envInt("TOTAL_SYMBOLS", 0), "cap on resolved symbol universe size, 0 = no cap")
	flag.StringVar(&c.StartingSymbol, "starting-symbol", envStr("STARTING_SYMBOL", ""), "rotate the resolved universe to start at this symbol")

	flag.StringVar(&channelsCSV, "channels", envStr("CHANNELS", "bookTicker,aggTrade,depth"), "comma-separated channel set, stored upper-cased in Config.Channels; the supervisor does not read it and subscribes to its fixed channel classes (toggled by the enable-* flags)")
	flag.IntVar(&c.Shards, "shards", envInt("SHARDS", 0), "desired shard count for the main (bookTicker/aggTrade) stream group, 0 = size shards using the built-in default of 50 symbols per shard")
	flag.BoolVar(&c.EnableDepth, "enable-depth", envBool("ENABLE_DEPTH", true), "subscribe to depth diffs")
	flag.IntVar(&c.DepthTopSymbols, "depth-top-symbols", envInt("DEPTH_TOP_SYMBOLS", 10), "number of symbols (by rank) scoped into depth@100ms")
	flag.BoolVar(&c.EnableMarkPrice, "enable-mark-price", envBool("ENABLE_MARK_PRICE", true), "subscribe to markPrice@1s")
	flag.BoolVar(&c.EnableForceOrder, "enable-force-order", envBool("ENABLE_FORCE_ORDER", true), "subscribe to forceOrder")

	flag.IntVar(&c.BatchSize, "batch-size", envInt("BATCH_SIZE", 0), "rows buffered per table before a size-triggered flush, 0 = use internal/persist's per-table default (spec §4.5); set explicitly to override every table uniformly")
	flag.DurationVar(&c.FlushInterval, "flush-interval", envDuration("FLUSH_INTERVAL", 0), "max buffer age before an age-triggered flush, 0 = use internal/persist's per-table default; set explicitly to override every table uniformly")

	flag.BoolVar(&c.EnableDBWatchdog, "enable-db-watchdog", envBool("ENABLE_DB_WATCHDOG", true), "run the periodic pg_stat_activity watchdog")
	flag.DurationVar(&c.DBWatchdogInterval, "db-watchdog-interval", envDuration("DB_WATCHDOG_INTERVAL", 60*time.Second), "watchdog scan period")
	flag.DurationVar(&c.DBWatchdogThresh, "db-watchdog-threshold", envDuration("DB_WATCHDOG_THRESHOLD", 120*time.Second), "session age beyond which the watchdog cancels a backend")

	flag.IntVar(&c.RetentionDays, "retention-days", envInt("RETENTION_DAYS", 30), "days of raw event rows to retain, 0 = keep forever")

	flag.Int64Var(&c.Seed, "seed", envInt64("SEED", 0), "PRNG seed for reconnect jitter, 0 = time-derived")

	flag.Parse()

	c.Symbols = splitCSV(symbolsCSV)
	c.Channels = splitCSV(channelsCSV)
	if len(c.Channels) == 0 {
		c.Channels = []string{"bookTicker", "aggTrade", "depth"}
	}

	return c, c.validate()
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" && !c.DryRun {
		return fmt.Errorf("config: DATABASE_URL is required unless DRY_RUN is set")
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("config: BATCH_SIZE must not be negative, got %d", c.BatchSize)
	}
	if c.FlushInterval < 0 {
		return fmt.Errorf("config: FLUSH_INTERVAL must not be negative, got %s", c.FlushInterval)
	}
	return nil
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
