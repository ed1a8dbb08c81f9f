package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"arbcore/internal/types"
)

// MarketRebalancing detects Σ outcomes < $1 mispricing in a single market's
// mutually exclusive, exhaustive outcomes (binary or categorical): buying
// every outcome's best ask guarantees the $1 payout.
type MarketRebalancing struct{}

// NewMarketRebalancing builds the market-rebalancing detector.
func NewMarketRebalancing() *MarketRebalancing { return &MarketRebalancing{} }

func (m *MarketRebalancing) Name() types.StrategyName { return types.StrategyMarketRebalancing }

func (m *MarketRebalancing) AppliesTo(ctx MarketContext) bool {
	return len(ctx.Market.Outcomes) >= 2
}

func (m *MarketRebalancing) Detect(ctx DetectionContext) DetectionResult {
	outcomes := ctx.Market.Outcomes
	if len(outcomes) < 2 {
		return DetectionResult{}
	}

	legs := make([]types.Leg, 0, len(outcomes))
	total := decimal.Zero
	var volume decimal.Decimal
	first := true

	for _, o := range outcomes {
		book, ok := ctx.Cache.Get(o.TokenID)
		if !ok {
			return DetectionResult{}
		}
		ask, ok := book.BestAsk()
		if !ok {
			return DetectionResult{}
		}
		total = total.Add(ask.Price)
		if first || ask.Size.LessThan(volume) {
			volume = ask.Size
			first = false
		}
		legs = append(legs, types.Leg{Token: o.TokenID, Side: types.Buy, Price: ask.Price, Size: ask.Size})
	}

	one := decimal.NewFromInt(1)
	edge := one.Sub(total)
	if edge.LessThan(decimal.NewFromFloat(ctx.MinEdge)) {
		return DetectionResult{}
	}

	for i := range legs {
		legs[i].Size = volume
	}
	expectedProfit := edge.Mul(volume)
	if expectedProfit.LessThan(decimal.NewFromFloat(ctx.MinProfit)) {
		return DetectionResult{}
	}

	opp := types.Opportunity{
		Strategy:       types.StrategyMarketRebalancing,
		MarketIDs:      []types.MarketId{ctx.Market.ID},
		Edge:           edge,
		ExpectedProfit: expectedProfit,
		Legs:           legs,
		DetectedAt:     time.Now(),
	}
	return DetectionResult{Opportunities: []types.Opportunity{opp}}
}

func (m *MarketRebalancing) WarmStart(DetectionResult) {}
