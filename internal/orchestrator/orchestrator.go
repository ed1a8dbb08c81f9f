// Package orchestrator is the single-threaded event-consumer core: it wires
// the market-data plane (bookcache/dedup/exchangepool/subscription/governor)
// to the detection engine (relation/strategy) and, through one per-
// opportunity pipeline, to risk gating, bounded-concurrency execution, and
// the durable/notification sinks (position/stats/notifier). One goroutine
// owns the event-consumer loop; execution fans out through a bounded
// goroutine pool so a slow fill never blocks the next detection.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	concpool "github.com/sourcegraph/conc/pool"

	"arbcore/internal/bookcache"
	"arbcore/internal/config"
	"arbcore/internal/dedup"
	"arbcore/internal/exchangepool"
	"arbcore/internal/exchangerest"
	"arbcore/internal/governor"
	"arbcore/internal/notifier"
	"arbcore/internal/position"
	"arbcore/internal/relation"
	"arbcore/internal/risk"
	"arbcore/internal/stats"
	"arbcore/internal/strategy"
	"arbcore/internal/subscription"
	"arbcore/internal/types"
)

// defaultTickDecimals is the fixed-point precision orders are truncated to
// when no richer tick-size metadata is available for a token, matching the
// teacher's 0.01 fallback in parseTickSize.
const defaultTickDecimals = 2

// Executor is the narrow port the execution stage drives; satisfied by
// *exchangerest.Client and easily faked in tests.
type Executor interface {
	PostOrders(ctx context.Context, orders []exchangerest.OrderRequest) ([]exchangerest.OrderResponse, error)
}

// MarketSource discovers the current market universe, satisfied by
// *exchangerest.Client's GetMarkets paging in production.
type MarketSource interface {
	GetMarkets(ctx context.Context, cursor string) (*types.GammaMarketsPage, error)
}

// Orchestrator owns every subsystem's lifecycle and is the sole writer of
// the market/cluster maps and runtime counters.
type Orchestrator struct {
	cfg    config.Config
	logger *slog.Logger

	cache     *bookcache.Cache
	dedup     *dedup.Deduplicator
	pool      *exchangepool.Pool
	relations *relation.Cache
	registry  *strategy.Registry
	riskMgr   *risk.Manager
	positions *position.Store
	recorder  *stats.Recorder
	notify    *notifier.Registry
	governor  *governor.Governor
	scorer    *subscription.Scorer
	partition *subscription.Partitioner

	exec    Executor
	markets MarketSource

	marketsMu   sync.RWMutex
	marketByID  map[types.MarketId]types.Market
	tokenMarket map[types.TokenId]types.MarketId

	exposureMu sync.Mutex
	exposure   map[types.MarketId]decimal.Decimal

	execPool *concpool.Pool
	execSem  chan struct{}

	detected     atomic.Int64
	executed     atomic.Int64
	rejected     atomic.Int64
	execFailures atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires every subsystem against cfg, deriving L2 exchange credentials
// via the L1 wallet if none are configured, exactly as the teacher's
// engine.New does for its market-making client.
func New(cfg config.Config, logger *slog.Logger) (*Orchestrator, error) {
	auth, err := exchangerest.NewAuth(cfg)
	if err != nil {
		return nil, fmt.Errorf("build auth: %w", err)
	}
	client := exchangerest.NewClient(cfg, auth, logger)
	if !auth.HasL2Credentials() {
		logger.Info("no L2 credentials, deriving API key via L1")
		creds, err := client.DeriveAPIKey(context.Background())
		if err != nil {
			return nil, fmt.Errorf("derive api key: %w", err)
		}
		auth.SetCredentials(*creds)
	}

	store, err := position.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open position store: %w", err)
	}

	var recorder *stats.Recorder
	if cfg.Stats.DSN != "" {
		recorder, err = stats.NewRecorder(cfg.Stats.DSN)
		if err != nil {
			return nil, fmt.Errorf("open stats recorder: %w", err)
		}
	}

	notify := notifier.New()
	notify.Register("log", notifier.NewLogSink(logger))

	poolCfg := exchangepool.Config{
		URL:                    cfg.API.WSMarketURL,
		ShardCount:             cfg.API.ShardCount,
		RotationInterval:       30 * time.Minute,
		SilenceTimeout:         30 * time.Second,
		InitialBackoff:         time.Second,
		MaxBackoff:             time.Minute,
		BackoffMultiplier:      2,
		MaxConsecutiveFailures: 5,
		CooldownAfterTrip:      time.Minute,
	}

	o := &Orchestrator{
		cfg:         cfg,
		logger:      logger.With("component", "orchestrator"),
		cache:       bookcache.New(),
		dedup:       dedup.New(dedup.Strategy(cfg.Dedup.Strategy), time.Duration(cfg.Dedup.CacheTTLSecs)*time.Second, cfg.Dedup.MaxCacheEntries),
		pool:        exchangepool.New(poolCfg, logger),
		relations:   relation.New(cfg.Inference.MinConfidence),
		riskMgr:     risk.NewManager(cfg.Risk, logger),
		positions:   store,
		recorder:    recorder,
		notify:      notify,
		governor:    governor.New(cfg.Governor, cfg.Subscription.MaxTokens, logger),
		scorer:      subscription.NewScorer(cfg.Subscription),
		partition:   subscription.NewPartitioner(cfg.Subscription, cfg.API.ShardCount),
		exec:        client,
		markets:     client,
		marketByID:  make(map[types.MarketId]types.Market),
		tokenMarket: make(map[types.TokenId]types.MarketId),
		exposure:    make(map[types.MarketId]decimal.Decimal),
	}

	o.registry = strategy.NewRegistry([]strategy.Strategy{
		strategy.NewSingleCondition(),
		strategy.NewMarketRebalancing(),
		strategy.NewCombinatorial(cfg.ClusterDetection.LMSRLiquidity, cfg.ClusterDetection.MaxIterations, cfg.ClusterDetection.ConvergenceEpsilon),
	}, cfg.Strategies.Enabled, logger)

	if recorder != nil {
		o.relations.SetPersister(recorder)
	}

	o.cache.OnCrossed(o.onCrossedBook)

	return o, nil
}

// RuntimeStats returns a snapshot of process-wide counters.
func (o *Orchestrator) RuntimeStats() types.RuntimeStats {
	return types.RuntimeStats{
		OpportunitiesDetected: o.detected.Load(),
		OpportunitiesExecuted: o.executed.Load(),
		OpportunitiesRejected: o.rejected.Load(),
		ExecutionFailures:     o.execFailures.Load(),
	}
}

// Notifier exposes the notification registry for the control surface to
// attach additional sinks (e.g. a WS push hub) to.
func (o *Orchestrator) Notifier() *notifier.Registry { return o.notify }

// Positions exposes the position store for the control surface's snapshot
// endpoints.
func (o *Orchestrator) Positions() *position.Store { return o.positions }

// RiskManager exposes the risk gate for the control surface's
// activate/reset/set-limit operations.
func (o *Orchestrator) RiskManager() *risk.Manager { return o.riskMgr }

// PoolStats exposes connection-pool health for the control surface.
func (o *Orchestrator) PoolStats() types.PoolStats { return o.pool.Snapshot() }

// Relations exposes the relation cache so the inference driver can share it
// and the control surface can render the current cluster view.
func (o *Orchestrator) Relations() *relation.Cache { return o.relations }

// RegisterMarket adds or replaces a market in the orchestrator's universe,
// wiring its outcome tokens into the book cache and the token->market index.
// Exposed so discovery and tests can populate the universe directly.
func (o *Orchestrator) RegisterMarket(m types.Market) {
	tokens := make([]types.TokenId, 0, len(m.Outcomes))
	for _, outcome := range m.Outcomes {
		tokens = append(tokens, outcome.TokenID)
	}

	o.marketsMu.Lock()
	o.marketByID[m.ID] = m
	for _, t := range tokens {
		o.tokenMarket[t] = m.ID
	}
	o.marketsMu.Unlock()

	o.cache.RegisterMarket(m.ID, tokens)
}

// Markets returns a snapshot of every currently known market, used by the
// inference driver's periodic batching.
func (o *Orchestrator) Markets() []types.Market {
	o.marketsMu.RLock()
	defer o.marketsMu.RUnlock()
	out := make([]types.Market, 0, len(o.marketByID))
	for _, m := range o.marketByID {
		out = append(out, m)
	}
	return out
}

func (o *Orchestrator) marketOf(token types.TokenId) (types.Market, bool) {
	o.marketsMu.RLock()
	defer o.marketsMu.RUnlock()
	id, ok := o.tokenMarket[token]
	if !ok {
		return types.Market{}, false
	}
	m, ok := o.marketByID[id]
	return m, ok
}

// Start launches every background goroutine: the connection pool, the
// adaptive governor, the single event-consumer loop and the periodic market
// discovery loop. It does not block.
func (o *Orchestrator) Start(ctx context.Context) {
	o.ctx, o.cancel = context.WithCancel(ctx)
	maxConcurrent := o.cfg.Risk.MaxConcurrentExecutions
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	o.execPool = concpool.New().WithMaxGoroutines(maxConcurrent)
	o.execSem = make(chan struct{}, maxConcurrent)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pool.Run(o.ctx)
	}()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.governor.Run(o.ctx)
	}()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.consumeEvents()
	}()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.RunDiscovery(o.ctx)
	}()
}

// Stop cancels every goroutine, waits for them to exit, drains in-flight
// executions, and closes owned resources.
func (o *Orchestrator) Stop() {
	o.logger.Info("shutting down")
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	if o.execPool != nil {
		o.execPool.Wait()
	}
	if err := o.positions.Close(); err != nil {
		o.logger.Error("close position store", "error", err)
	}
	if o.recorder != nil {
		if err := o.recorder.Close(); err != nil {
			o.logger.Error("close stats recorder", "error", err)
		}
	}
	o.logger.Info("shutdown complete")
}

// consumeEvents is the single-threaded core: it selects over the pool's
// book, price-change, settlement and connection-event channels (the pool's
// TickSizeEvents channel is not read), the governor's decisions, and the
// relation-prune and dedup-GC tickers, applying mutations to the book cache and relation graph, and dispatching
// detection/execution for every market a mutation could have affected.
func (o *Orchestrator) consumeEvents() {
	pruneTicker := time.NewTicker(time.Minute)
	defer pruneTicker.Stop()
	dedupTicker := time.NewTicker(30 * time.Second)
	defer dedupTicker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case evt := <-o.pool.BookEvents():
			o.onBookEvent(evt)
		case evt := <-o.pool.PriceChangeEvents():
			o.onPriceChange(evt)
		case evt := <-o.pool.SettlementEvents():
			o.onSettlement(evt)
		case evt := <-o.pool.ConnectionEvents():
			o.onConnectionEvent(evt)
		case d := <-o.governor.Decisions():
			o.onGovernorDecision(d)
		case <-pruneTicker.C:
			o.relations.PruneExpired(time.Now())
		case <-dedupTicker.C:
			o.dedup.GC()
		}
	}
}

func (o *Orchestrator) onBookEvent(evt types.WSBookEvent) {
	if o.dedup.IsDuplicate(dedup.Event{Token: evt.AssetID, Kind: "book", Hash: evt.Hash, Timestamp: evt.Timestamp}) {
		return
	}
	token := types.TokenId(evt.AssetID)
	bids := convertLevels(evt.Bids)
	asks := convertLevels(evt.Asks)
	o.cache.ApplySnapshot(token, bids, asks, evt.Hash)
	o.onTokenMutated(token)
}

func (o *Orchestrator) onPriceChange(evt types.WSPriceChangeEvent) {
	for _, pc := range evt.PriceChanges {
		if o.dedup.IsDuplicate(dedup.Event{Token: pc.AssetID, Kind: "price_change", Hash: pc.Hash, Timestamp: evt.Timestamp}) {
			continue
		}
		price, err := decimal.NewFromString(pc.Price)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(pc.Size)
		if err != nil {
			continue
		}
		side := types.Buy
		if pc.Side == string(types.Sell) {
			side = types.Sell
		}
		token := types.TokenId(pc.AssetID)
		o.cache.ApplyDelta(token, side, price, size, pc.Hash)
		o.onTokenMutated(token)
	}
}

func (o *Orchestrator) onTokenMutated(token types.TokenId) {
	market, ok := o.marketOf(token)
	if !ok {
		return
	}
	o.detectFor(market)
}

func (o *Orchestrator) detectFor(market types.Market) {
	cluster, hasCluster := o.relations.ClusterFor(market.ID)

	var clusterPtr *types.Cluster
	clusterMarkets := map[types.MarketId]types.Market{}
	if hasCluster {
		clusterPtr = &cluster
		o.marketsMu.RLock()
		for _, mid := range cluster.Markets {
			if m, found := o.marketByID[mid]; found {
				clusterMarkets[mid] = m
			}
		}
		o.marketsMu.RUnlock()
	}

	mc := strategy.MarketContext{Market: market, Cluster: clusterPtr}
	dc := strategy.DetectionContext{
		Cache:     o.cache,
		Market:    market,
		Cluster:   clusterPtr,
		Markets:   clusterMarkets,
		MinEdge:   o.cfg.Risk.MinEdgeThreshold,
		MinProfit: o.cfg.Risk.MinProfitThreshold,
	}

	for _, result := range o.registry.Dispatch(mc, dc) {
		for _, opp := range result.Opportunities {
			o.onOpportunity(opp)
		}
	}
}

func (o *Orchestrator) onSettlement(evt types.WSMarketSettledEvent) {
	marketID := types.MarketId(evt.Market)
	o.marketsMu.RLock()
	market, ok := o.marketByID[marketID]
	o.marketsMu.RUnlock()
	if !ok {
		return
	}

	var winningToken types.TokenId
	for _, outcome := range market.Outcomes {
		if outcome.Name == evt.WinningOutcome {
			winningToken = outcome.TokenID
			break
		}
	}

	if err := o.positions.OnSettlement(marketID, winningToken); err != nil {
		o.logger.Error("settle positions", "market", marketID, "error", err)
	}
	o.notify.Publish(notifier.Event{
		Kind:     notifier.EventSummary,
		MarketID: marketID,
		Message:  "market settled",
	})
}

func (o *Orchestrator) onConnectionEvent(evt exchangepool.ConnectionEvent) {
	o.logger.Info("connection event", "shard", evt.ShardID, "kind", evt.Kind)
}

func (o *Orchestrator) onGovernorDecision(d governor.Decision) {
	o.logger.Info("governor decision", "direction", d.Direction, "delta", d.Delta)
}

func (o *Orchestrator) onCrossedBook(w bookcache.CrossedWarning) {
	o.logger.Warn("crossed book trimmed", "token", w.Token, "bid", w.Bid.Price, "ask", w.Ask.Price)
	o.notify.Publish(notifier.Event{Kind: notifier.EventRisk, Message: "crossed book trimmed"})
}

func convertLevels(levels []types.WSPriceLevel) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(levels))
	for _, l := range levels {
		price, err := decimal.NewFromString(l.Price)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(l.Size)
		if err != nil {
			continue
		}
		out = append(out, types.PriceLevel{Price: price, Size: size})
	}
	return out
}
