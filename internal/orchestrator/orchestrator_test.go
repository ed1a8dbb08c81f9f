package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	concpool "github.com/sourcegraph/conc/pool"

	"arbcore/internal/bookcache"
	"arbcore/internal/config"
	"arbcore/internal/dedup"
	"arbcore/internal/exchangerest"
	"arbcore/internal/notifier"
	"arbcore/internal/position"
	"arbcore/internal/relation"
	"arbcore/internal/risk"
	"arbcore/internal/strategy"
	"arbcore/internal/subscription"
	"arbcore/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeExecutor answers every PostOrders call with a fixed per-order result,
// set per test.
type fakeExecutor struct {
	results []exchangerest.OrderResponse
	err     error
	calls   int
}

func (f *fakeExecutor) PostOrders(ctx context.Context, orders []exchangerest.OrderRequest) ([]exchangerest.OrderResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.results != nil {
		return f.results, nil
	}
	out := make([]exchangerest.OrderResponse, len(orders))
	for i := range orders {
		out[i] = exchangerest.OrderResponse{Success: true, OrderID: "o", Status: "matched"}
	}
	return out, nil
}

type fakeMarketSource struct{}

func (fakeMarketSource) GetMarkets(ctx context.Context, cursor string) (*types.GammaMarketsPage, error) {
	return &types.GammaMarketsPage{}, nil
}

// stubStrategy returns a fixed set of opportunities every time it applies,
// and counts how many times Detect was called.
type stubStrategy struct {
	opportunities []types.Opportunity
	calls         int
}

func (s *stubStrategy) Name() types.StrategyName { return types.StrategyName("stub") }
func (s *stubStrategy) AppliesTo(ctx strategy.MarketContext) bool { return true }
func (s *stubStrategy) Detect(ctx strategy.DetectionContext) strategy.DetectionResult {
	s.calls++
	return strategy.DetectionResult{Opportunities: s.opportunities}
}
func (s *stubStrategy) WarmStart(previous strategy.DetectionResult) {}

func testMarket() types.Market {
	return types.Market{
		ID:       "m1",
		Question: "will it happen",
		Outcomes: []types.Outcome{
			{TokenID: "yes", Name: "YES"},
			{TokenID: "no", Name: "NO"},
		},
		Payout: decimal.NewFromInt(1),
		Active: true,
	}
}

// newTestOrchestrator builds an Orchestrator with every subsystem real
// except Executor/MarketSource, which are faked, wiring stub through the
// registry so detection is driven deterministically instead of through the
// real strategies.
func newTestOrchestrator(t *testing.T, stub *stubStrategy, exec Executor, riskCfg config.RiskConfig) *Orchestrator {
	t.Helper()
	store, err := position.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open position store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger := testLogger()
	o := &Orchestrator{
		cfg:         config.Config{Risk: riskCfg},
		logger:      logger,
		cache:       bookcache.New(),
		dedup:       dedup.New(dedup.StrategyHash, time.Minute, 1000),
		relations:   relation.New(0.8),
		riskMgr:     risk.NewManager(riskCfg, logger),
		positions:   store,
		notify:      notifier.New(),
		scorer:      subscription.NewScorer(config.SubscriptionConfig{}),
		partition:   subscription.NewPartitioner(config.SubscriptionConfig{}, 1),
		exec:        exec,
		markets:     fakeMarketSource{},
		marketByID:  make(map[types.MarketId]types.Market),
		tokenMarket: make(map[types.TokenId]types.MarketId),
		exposure:    make(map[types.MarketId]decimal.Decimal),
	}
	o.registry = strategy.NewRegistry([]strategy.Strategy{stub}, []string{"stub"}, logger)
	o.ctx = context.Background()
	o.execPool = concpool.New().WithMaxGoroutines(2)
	o.execSem = make(chan struct{}, 2)
	return o
}

func approvingRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositionPerMarket: 10000,
		MaxTotalExposure:     10000,
		MinProfitThreshold:   0,
		MaxSlippage:          0.5,
		ExecutionTimeoutSecs: 5,
	}
}

func TestOnBookEventDetectsAndExecutesOpportunity(t *testing.T) {
	t.Parallel()
	market := testMarket()
	opp := types.Opportunity{
		ID:             "opp-1",
		Strategy:       types.StrategySingleCondition,
		MarketIDs:      []types.MarketId{market.ID},
		Edge:           decimal.NewFromFloat(0.05),
		ExpectedProfit: decimal.NewFromFloat(1.5),
		Legs: []types.Leg{
			{Token: "yes", Side: types.Buy, Price: decimal.NewFromFloat(0.40), Size: decimal.NewFromInt(10)},
		},
		DetectedAt: time.Now(),
	}
	stub := &stubStrategy{opportunities: []types.Opportunity{opp}}
	exec := &fakeExecutor{}
	o := newTestOrchestrator(t, stub, exec, approvingRiskConfig())
	o.RegisterMarket(market)

	o.cache.ApplySnapshot("yes",
		[]types.PriceLevel{{Price: decimal.NewFromFloat(0.40), Size: decimal.NewFromInt(100)}},
		[]types.PriceLevel{{Price: decimal.NewFromFloat(0.41), Size: decimal.NewFromInt(100)}},
		"h1")

	o.onBookEvent(types.WSBookEvent{
		AssetID: "yes",
		Hash:    "h2",
		Bids:    []types.WSPriceLevel{{Price: "0.40", Size: "100"}},
		Asks:    []types.WSPriceLevel{{Price: "0.41", Size: "100"}},
	})

	o.execPool.Wait()

	if stub.calls == 0 {
		t.Fatal("expected detection to run")
	}
	if exec.calls != 1 {
		t.Fatalf("exec.calls = %d, want 1", exec.calls)
	}
	if o.executed.Load() != 1 {
		t.Fatalf("executed = %d, want 1", o.executed.Load())
	}
	open, err := o.positions.LoadOpenPositions()
	if err != nil {
		t.Fatalf("LoadOpenPositions: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open positions = %d, want 1", len(open))
	}
	if open[0].OpportunityID != opp.ID {
		t.Errorf("opportunity id = %q, want %q", open[0].OpportunityID, opp.ID)
	}
}

func TestOnOpportunityRejectsOnSlippage(t *testing.T) {
	t.Parallel()
	market := testMarket()
	opp := types.Opportunity{
		ID:        "opp-2",
		MarketIDs: []types.MarketId{market.ID},
		Legs: []types.Leg{
			{Token: "yes", Side: types.Buy, Price: decimal.NewFromFloat(0.10), Size: decimal.NewFromInt(10)},
		},
		DetectedAt: time.Now(),
	}
	stub := &stubStrategy{}
	exec := &fakeExecutor{}
	cfg := approvingRiskConfig()
	cfg.MaxSlippage = 0.01
	o := newTestOrchestrator(t, stub, exec, cfg)
	o.RegisterMarket(market)
	o.cache.ApplySnapshot("yes",
		[]types.PriceLevel{{Price: decimal.NewFromFloat(0.30), Size: decimal.NewFromInt(100)}},
		[]types.PriceLevel{{Price: decimal.NewFromFloat(0.31), Size: decimal.NewFromInt(100)}},
		"h1")

	o.onOpportunity(opp)
	o.execPool.Wait()

	if exec.calls != 0 {
		t.Fatalf("exec.calls = %d, want 0 (rejected by slippage check)", exec.calls)
	}
	if o.rejected.Load() != 1 {
		t.Fatalf("rejected = %d, want 1", o.rejected.Load())
	}
	if o.executed.Load() != 0 {
		t.Fatalf("executed = %d, want 0", o.executed.Load())
	}
}

func TestOnOpportunityRejectsOnRiskGate(t *testing.T) {
	t.Parallel()
	market := testMarket()
	opp := types.Opportunity{
		ID:        "opp-3",
		MarketIDs: []types.MarketId{market.ID},
		Legs: []types.Leg{
			{Token: "yes", Side: types.Buy, Price: decimal.NewFromFloat(0.40), Size: decimal.NewFromInt(10)},
		},
		ExpectedProfit: decimal.NewFromFloat(1),
		DetectedAt:     time.Now(),
	}
	stub := &stubStrategy{}
	exec := &fakeExecutor{}
	cfg := approvingRiskConfig()
	cfg.MaxTotalExposure = 0
	o := newTestOrchestrator(t, stub, exec, cfg)
	o.RegisterMarket(market)
	o.cache.ApplySnapshot("yes",
		[]types.PriceLevel{{Price: decimal.NewFromFloat(0.40), Size: decimal.NewFromInt(100)}},
		[]types.PriceLevel{{Price: decimal.NewFromFloat(0.41), Size: decimal.NewFromInt(100)}},
		"h1")

	o.onOpportunity(opp)
	o.execPool.Wait()

	if exec.calls != 0 {
		t.Fatalf("exec.calls = %d, want 0 (rejected by risk gate)", exec.calls)
	}
	if o.rejected.Load() != 1 {
		t.Fatalf("rejected = %d, want 1", o.rejected.Load())
	}
}

func TestOnSettlementClosesPositions(t *testing.T) {
	t.Parallel()
	market := testMarket()
	stub := &stubStrategy{}
	o := newTestOrchestrator(t, stub, &fakeExecutor{}, approvingRiskConfig())
	o.RegisterMarket(market)

	pos := types.Position{
		ID:            "pos-1",
		OpportunityID: "opp-1",
		MarketIDs:     []types.MarketId{market.ID},
		Legs: []types.Leg{
			{Token: "yes", Side: types.Buy, Price: decimal.NewFromFloat(0.4), Size: decimal.NewFromInt(10)},
			{Token: "no", Side: types.Buy, Price: decimal.NewFromFloat(0.5), Size: decimal.NewFromInt(10)},
		},
		Status:   types.PositionOpen,
		OpenedAt: time.Now(),
	}
	if err := o.positions.OpenPosition(pos); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	o.onSettlement(types.WSMarketSettledEvent{Market: string(market.ID), WinningOutcome: "YES"})

	open, err := o.positions.LoadOpenPositions()
	if err != nil {
		t.Fatalf("LoadOpenPositions: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("open positions after settlement = %d, want 0", len(open))
	}
	closed, err := o.positions.LoadClosedPositions()
	if err != nil {
		t.Fatalf("LoadClosedPositions: %v", err)
	}
	if len(closed) != 1 {
		t.Fatalf("closed positions = %d, want 1", len(closed))
	}
}

func TestAggregateStatus(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		results []exchangerest.OrderResponse
		want    types.ExecutionStatus
	}{
		{"empty", nil, types.ExecRejected},
		{"all success", []exchangerest.OrderResponse{{Success: true}, {Success: true}}, types.ExecFilled},
		{"all failure", []exchangerest.OrderResponse{{Success: false}, {Success: false}}, types.ExecRejected},
		{"mixed", []exchangerest.OrderResponse{{Success: true}, {Success: false}}, types.ExecPartial},
	}
	for _, tc := range cases {
		if got := aggregateStatus(tc.results); got != tc.want {
			t.Errorf("%s: aggregateStatus = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestMarketFromGamma(t *testing.T) {
	t.Parallel()
	g := types.GammaMarket{
		ConditionID: "cond-1",
		Question:    "q",
		Tokens: []types.GammaToken{
			{TokenID: "t1", Outcome: "YES"},
			{TokenID: "t2", Outcome: "NO"},
		},
		Active: true,
	}
	m := marketFromGamma(g)
	if m.ID != "cond-1" || !m.IsBinary() || m.Outcomes[0].TokenID != "t1" {
		t.Fatalf("unexpected market: %+v", m)
	}
	if !m.Payout.Equal(decimal.NewFromInt(1)) {
		t.Errorf("payout = %s, want 1", m.Payout)
	}
}
