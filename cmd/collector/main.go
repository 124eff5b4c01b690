// Command collector runs the marketdata collector: it resolves a symbol
// universe, maintains sharded WebSocket connections to the exchange,
// reconstructs top-of-book order state, and persists everything to
// Postgres in idempotent batches.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ndrandal/marketdata-collector/internal/config"
	"github.com/ndrandal/marketdata-collector/internal/persist"
	"github.com/ndrandal/marketdata-collector/internal/supervisor"
)

// runID identifies this process instance in logs and the /health
// endpoint, letting an operator tell restarts apart in aggregated logs.
var runID = uuid.New().String()

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("collector: config error: %v", err)
		return 1
	}
	log.Printf("collector: starting run=%s dry_run=%v", runID, cfg.DryRun)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *persist.Store
	if cfg.DatabaseURL != "" {
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		store, err = persist.NewStore(initCtx, cfg.DatabaseURL, cfg.DBSSLMode, cfg.DBSSLRootCert, 20)
		cancel()
		if err != nil {
			log.Printf("collector: store init failed: %v", err)
			return 1
		}
		if err := store.Migrate(ctx); err != nil {
			log.Printf("collector: schema migration failed: %v", err)
			return 1
		}
		go persist.RunRetention(ctx, store, cfg.RetentionDays)
	} else if !cfg.DryRun {
		log.Printf("collector: DATABASE_URL not set and DRY_RUN not set, exiting")
		return 1
	}

	healthSrv := startHealthServer(cfg)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		healthSrv.Shutdown(shutdownCtx)
	}()

	sup := supervisor.New(cfg, store)

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			log.Printf("collector: supervisor exited with error: %v", err)
			return 1
		}
		log.Printf("collector: clean shutdown")
		return 0
	case <-ctx.Done():
		err := <-done
		if err != nil {
			log.Printf("collector: supervisor exited with error after signal: %v", err)
			return 1
		}
		log.Printf("collector: shutdown complete after signal")
		return 130
	}
}

// startHealthServer exposes a minimal liveness endpoint, the only HTTP
// surface this service needs — a dashboard or alerting layer consuming
// collection_stats lives outside this module's scope.
func startHealthServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"run_id":  runID,
			"dry_run": cfg.DryRun,
		})
	})

	srv := &http.Server{Addr: ":8090", Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("collector: health server error: %v", err)
		}
	}()
	return srv
}
