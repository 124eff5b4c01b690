package supervisor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ndrandal/marketdata-collector/internal/config"
	"github.com/ndrandal/marketdata-collector/internal/decode"
	"github.com/ndrandal/marketdata-collector/internal/errs"
	"github.com/ndrandal/marketdata-collector/internal/persist"
	"github.com/ndrandal/marketdata-collector/internal/stream"
	"github.com/ndrandal/marketdata-collector/internal/support"
	"github.com/ndrandal/marketdata-collector/internal/symbol"
	"github.com/ndrandal/marketdata-collector/internal/topn"
	"github.com/ndrandal/marketdata-collector/internal/watchdog"
)

// gracefulShutdownWindow bounds how long Run waits for in-flight buffers
// to flush once cancellation is observed (spec §5).
const gracefulShutdownWindow = 10 * time.Second

// Supervisor owns the top-level lifecycle: universe resolution, shard
// planning, and launching the stream workers, batch writer, reconstructor,
// and DB watchdog (spec §4.7).
type Supervisor struct {
	cfg      *config.Config
	registry *symbol.Registry
	writer   *persist.Writer
	store    *persist.Store
	recon    *topn.Reconstructor
	wd       *watchdog.Watchdog

	buffers *bufferSet

	restClient *http.Client

	// localIDs substitutes for the registry when no store is configured
	// (dry-run with no reachable database): symbol ids are allocated
	// in-memory instead of upserted against the symbols table.
	localMu     sync.Mutex
	localIDs    map[string]int64
	nextLocalID int64
}

// New wires a Supervisor from an already-loaded config and an open Store.
// When store is nil (DRY_RUN without a reachable database), persistence
// becomes a no-op through the writer's own dry-run path and the watchdog
// is skipped entirely.
func New(cfg *config.Config, store *persist.Store) *Supervisor {
	s := &Supervisor{
		cfg:        cfg,
		store:      store,
		buffers:    newBufferSet(cfg),
		restClient: &http.Client{Timeout: 10 * time.Second},
		localIDs:   make(map[string]int64),
	}

	if store != nil {
		s.registry = symbol.New(store.DB(), "binance-futures")
		s.writer = persist.NewWriter(store.DB(), cfg.DryRun)
		if cfg.EnableDBWatchdog {
			s.wd = watchdog.New(watchdog.DBAdapter{DB: store.DB()}, cfg.DBWatchdogInterval, cfg.DBWatchdogThresh)
		}
	} else {
		s.writer = persist.NewWriter(noopExecer{}, true)
	}

	s.recon = topn.New(restSnapshotter{client: s.restClient, baseURL: cfg.BinanceBaseURL, limiter: rate.NewLimiter(rate.Every(2*time.Second), 5)})
	return s
}

// Run resolves the symbol universe, plans shards, launches every worker
// plus the flush/watchdog loops, and blocks until ctx is cancelled, at
// which point it flushes buffers within gracefulShutdownWindow and
// returns.
func (s *Supervisor) Run(ctx context.Context) error {
	universe, err := s.resolveUniverse(ctx)
	if err != nil {
		return errs.Wrap(errs.KindConfig, err)
	}
	log.Printf("supervisor: resolved %d symbols", len(universe))

	if s.store != nil {
		if _, err := s.registry.Preload(ctx); err != nil {
			log.Printf("supervisor: registry preload failed (continuing, upserts will populate on demand): %v", err)
		}
	}

	classes := s.buildChannelClasses(universe)
	shards := s.planShards(universe, classes)
	log.Printf("supervisor: planned %d shards", len(shards))

	rawFrames := make(chan []byte, 4096)
	rng := support.NewRNG(s.cfg.Seed)

	var wg sync.WaitGroup
	for _, shard := range shards {
		w := stream.NewWorker(shard, s.cfg.BinanceWSURL, rawFrames, rng)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				log.Printf("supervisor: shard %s failed permanently: %v", shard.ShardID, err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.dispatchLoop(ctx, rawFrames)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.buffers.runFlushLoop(ctx, s.writer)
	}()

	if s.wd != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.wd.Run(ctx)
		}()
	}

	<-ctx.Done()
	log.Println("supervisor: shutdown signal received, flushing buffers")

	flushCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownWindow)
	defer cancel()
	s.buffers.flushAll(flushCtx, s.writer)

	wg.Wait()

	if s.store != nil {
		s.store.Close()
	}
	return nil
}

func (s *Supervisor) resolveUniverse(ctx context.Context) ([]string, error) {
	candidates := s.cfg.Symbols
	if len(candidates) == 0 {
		candidates = symbol.BootstrapUniverse()
	}

	client := NewExchangeInfoClient(s.cfg.BinanceBaseURL)
	live, err := client.FetchTradableUSDTPerps(ctx)
	if err != nil {
		log.Printf("supervisor: exchangeInfo unavailable (%v), trusting configured/bootstrap symbols as-is", err)
		live = candidates
	}

	return ResolveUniverse(candidates, live, s.cfg.TotalSymbols, s.cfg.StartingSymbol)
}

func (s *Supervisor) buildChannelClasses(universe []string) []stream.ChannelClass {
	var classes []stream.ChannelClass
	classes = append(classes, stream.ChannelClass{Label: "ticker", Channels: []string{"bookTicker", "aggTrade"}})

	if s.cfg.EnableDepth {
		depthSymbols := universe
		if s.cfg.DepthTopSymbols > 0 && s.cfg.DepthTopSymbols < len(universe) {
			depthSymbols = universe[:s.cfg.DepthTopSymbols]
		}
		classes = append(classes, stream.ChannelClass{Label: "depth", Channels: []string{"depth@100ms"}, Symbols: depthSymbols})
	}
	if s.cfg.EnableMarkPrice {
		classes = append(classes, stream.ChannelClass{Label: "markprice", Channels: []string{"markPrice@1s"}})
	}
	if s.cfg.EnableForceOrder {
		classes = append(classes, stream.ChannelClass{Label: "forceorder", Channels: []string{"forceOrder"}})
	}
	return classes
}

// planShards turns SHARDS (spec §6.4's "shard count for the main stream
// group") into the planner's per-shard symbol count, applied only to the
// "ticker" class (bookTicker+aggTrade, which spans the full universe);
// depth/markprice/forceorder classes keep the planner's built-in
// symbols-per-shard default, since SHARDS names a count for the main
// group specifically, not a global override.
func (s *Supervisor) planShards(universe []string, classes []stream.ChannelClass) []stream.ShardConfig {
	var shards []stream.ShardConfig
	for _, class := range classes {
		perShard := 0
		if class.Label == "ticker" && s.cfg.Shards > 0 {
			perShard = ceilDiv(len(universe), s.cfg.Shards)
		}
		shards = append(shards, stream.Plan(universe, []stream.ChannelClass{class}, perShard)...)
	}
	return shards
}

func ceilDiv(total, shards int) int {
	if shards <= 0 {
		return 0
	}
	n := (total + shards - 1) / shards
	if n < 1 {
		n = 1
	}
	return n
}

// dispatchLoop decodes raw frames and routes them to the per-table
// buffers (and the reconstructor, for depth diffs), spec §2's Decoder ->
// Router -> Buffers path.
func (s *Supervisor) dispatchLoop(ctx context.Context, frames <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-frames:
			ev, err := decode.Decode(frame)
			if err != nil {
				continue // parse error: frame dropped; no counter is kept
			}
			if ev == nil {
				continue // unrecognized stream suffix, silently ignored
			}
			s.route(ctx, ev)
		}
	}
}

func (s *Supervisor) route(ctx context.Context, ev decode.Event) {
	symbolID, err := s.resolveSymbolID(ctx, ev.Symbol())
	if err != nil {
		log.Printf("supervisor: symbol resolve failed for %s: %v", ev.Symbol(), err)
		return
	}

	switch e := ev.(type) {
	case *decode.BookTickerEvent:
		if s.buffers.bookTicker.Add(persist.BookTickerRow{
			TSExchange: e.ExchangeTime(), SymbolID: symbolID, UpdateID: e.UpdateID,
			BestBid: e.BestBid, BestAsk: e.BestAsk, BidQty: e.BidQty, AskQty: e.AskQty,
			Spread: e.BestAsk - e.BestBid, Mid: (e.BestAsk + e.BestBid) / 2,
		}) {
			if err := s.writer.InsertBookTicker(ctx, s.buffers.bookTicker.Flush()); err != nil {
				log.Printf("supervisor: book_ticker flush: %v", err)
			}
		}
	case *decode.TradeEvent:
		if s.buffers.trades.Add(persist.TradeRow{
			TSExchange: e.ExchangeTime(), SymbolID: symbolID, AggTradeID: e.AggTradeID,
			Price: e.Price, Qty: e.Qty, IsBuyerMaker: e.IsBuyerMaker,
		}) {
			if err := s.writer.InsertTrades(ctx, s.buffers.trades.Flush()); err != nil {
				log.Printf("supervisor: trades flush: %v", err)
			}
		}
	case *decode.DepthDiffEvent:
		bidsJSON, _ := json.Marshal(e.Bids)
		asksJSON, _ := json.Marshal(e.Asks)
		if s.buffers.depth.Add(persist.DepthEventRow{
			TSExchange: e.ExchangeTime(), SymbolID: symbolID,
			FirstUpdateID: e.FirstUpdateID, FinalUpdateID: e.FinalUpdateID, PrevFinalID: e.PrevFinalID,
			BidsJSON: bidsJSON, AsksJSON: asksJSON,
		}) {
			if err := s.writer.InsertDepth(ctx, s.buffers.depth.Flush()); err != nil {
				log.Printf("supervisor: depth_events flush: %v", err)
			}
		}
		s.routeTopN(ctx, e, symbolID)
	case *decode.MarkPriceEvent:
		if s.buffers.markPrice.Add(persist.MarkPriceRow{
			TSExchange: e.ExchangeTime(), SymbolID: symbolID, EventType: "markPriceUpdate",
			MarkPrice: e.MarkPrice, IndexPrice: e.IndexPrice, EstSettlePrice: e.EstSettlePrice,
			FundingRate: e.FundingRate, NextFunding: e.NextFundingTime,
		}) {
			if err := s.writer.InsertMarkPrice(ctx, s.buffers.markPrice.Flush()); err != nil {
				log.Printf("supervisor: mark_price flush: %v", err)
			}
		}
	case *decode.ForceOrderEvent:
		if s.buffers.forceOrders.Add(persist.ForceOrderRow{
			TSExchange: e.ExchangeTime(), SymbolID: symbolID, Side: e.Side, Price: e.Price, Qty: e.Qty, Raw: e.Raw,
		}) {
			if err := s.writer.InsertForceOrders(ctx, s.buffers.forceOrders.Flush()); err != nil {
				log.Printf("supervisor: force_orders flush: %v", err)
			}
		}
	}
}

// resolveSymbolID resolves an exchange ticker to a stable id, via the
// registry when a store is configured or an in-memory allocator in
// store-less dry-run mode.
func (s *Supervisor) resolveSymbolID(ctx context.Context, name string) (int64, error) {
	if s.registry != nil {
		return s.registry.Resolve(ctx, name, "", "")
	}

	s.localMu.Lock()
	defer s.localMu.Unlock()
	if id, ok := s.localIDs[name]; ok {
		return id, nil
	}
	s.nextLocalID++
	s.localIDs[name] = s.nextLocalID
	return s.nextLocalID, nil
}

func (s *Supervisor) routeTopN(ctx context.Context, e *decode.DepthDiffEvent, symbolID int64) {
	snap, err := s.recon.Process(ctx, e)
	if err != nil {
		if !errs.Is(err, errs.KindREST) {
			log.Printf("supervisor: reconstructor error for %s: %v", e.Symbol(), err)
		}
		return
	}
	if snap == nil {
		return
	}

	row := persist.TopNRow{
		TSExchange: snap.TSExchange, SymbolID: symbolID,
		Microprice: snap.Features.Microprice, I1: snap.Features.I1, I5: snap.Features.I5,
		WallSizeBid: snap.Features.WallSizeBid, WallSizeAsk: snap.Features.WallSizeAsk,
		WallDistBidBp: snap.Features.WallDistBidBp, WallDistAskBp: snap.Features.WallDistAskBp,
	}
	for i := 0; i < len(snap.Bids) && i < 5; i++ {
		row.Bids = append(row.Bids, levelPairFrom(snap.Bids[i]))
	}
	for i := 0; i < len(snap.Asks) && i < 5; i++ {
		row.Asks = append(row.Asks, levelPairFrom(snap.Asks[i]))
	}
	if s.buffers.topN.Add(row) {
		if err := s.writer.InsertTopN(ctx, s.buffers.topN.Flush()); err != nil {
			log.Printf("supervisor: orderbook_topn flush: %v", err)
		}
	}
}

func levelPairFrom(l topn.Level) persist.LevelPair {
	return persist.LevelPair{Price: l.Price, Qty: l.Qty}
}

// restSnapshotter implements topn.Snapshotter against the real exchange
// REST endpoint (spec §6.2), rate-limited by a single limiter shared by
// all symbols (the per-symbol limit lives in internal/topn).
type restSnapshotter struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
}

type depthSnapshotResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

func (r restSnapshotter) FetchSnapshot(ctx context.Context, symbol string) (int64, []decode.PriceLevel, []decode.PriceLevel, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return 0, nil, nil, err
	}

	url := fmt.Sprintf("%s/fapi/v1/depth?symbol=%s&limit=1000", r.baseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, nil, nil, fmt.Errorf("depth snapshot status %d", resp.StatusCode)
	}

	var parsed depthSnapshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, nil, nil, err
	}

	bids, err := toLevels(parsed.Bids)
	if err != nil {
		return 0, nil, nil, err
	}
	asks, err := toLevels(parsed.Asks)
	if err != nil {
		return 0, nil, nil, err
	}
	return parsed.LastUpdateID, bids, asks, nil
}

func toLevels(raw [][2]string) ([]decode.PriceLevel, error) {
	out := make([]decode.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		var p, q float64
		if _, err := fmt.Sscanf(pair[0], "%g", &p); err != nil {
			return nil, err
		}
		if _, err := fmt.Sscanf(pair[1], "%g", &q); err != nil {
			return nil, err
		}
		out = append(out, decode.PriceLevel{Price: p, Qty: q})
	}
	return out, nil
}

// noopExecer backs the writer when no store is available (dry-run with
// no reachable database): NamedExecContext should never actually be
// called because the writer's own dryRun flag short-circuits first, but
// it must still satisfy the namedExecer interface.
type noopExecer struct{}

func (noopExecer) NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error) {
	return nil, fmt.Errorf("supervisor: no store configured")
}
