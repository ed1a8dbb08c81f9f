package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"arbcore/internal/types"
)

// SingleCondition detects YES+NO < $1 mispricing in binary markets: the
// combined cost of buying both outcomes' best ask is less than the $1
// payout, guaranteeing a profit regardless of settlement.
type SingleCondition struct{}

// NewSingleCondition builds the single-condition detector.
func NewSingleCondition() *SingleCondition { return &SingleCondition{} }

func (s *SingleCondition) Name() types.StrategyName { return types.StrategySingleCondition }

func (s *SingleCondition) AppliesTo(ctx MarketContext) bool { return ctx.Market.IsBinary() }

func (s *SingleCondition) Detect(ctx DetectionContext) DetectionResult {
	if !ctx.Market.IsBinary() {
		return DetectionResult{}
	}
	yesToken := ctx.Market.Outcomes[0].TokenID
	noToken := ctx.Market.Outcomes[1].TokenID

	yesBook, noBook, ok := ctx.Cache.GetPair(yesToken, noToken)
	if !ok {
		return DetectionResult{}
	}
	yesAsk, ok := yesBook.BestAsk()
	if !ok {
		return DetectionResult{}
	}
	noAsk, ok := noBook.BestAsk()
	if !ok {
		return DetectionResult{}
	}

	one := decimal.NewFromInt(1)
	totalCost := yesAsk.Price.Add(noAsk.Price)
	edge := one.Sub(totalCost)
	if edge.LessThan(decimal.NewFromFloat(ctx.MinEdge)) {
		return DetectionResult{}
	}

	volume := yesAsk.Size
	if noAsk.Size.LessThan(volume) {
		volume = noAsk.Size
	}
	expectedProfit := edge.Mul(volume)
	if expectedProfit.LessThan(decimal.NewFromFloat(ctx.MinProfit)) {
		return DetectionResult{}
	}

	opp := types.Opportunity{
		Strategy:       types.StrategySingleCondition,
		MarketIDs:      []types.MarketId{ctx.Market.ID},
		Edge:           edge,
		ExpectedProfit: expectedProfit,
		Legs: []types.Leg{
			{Token: yesToken, Side: types.Buy, Price: yesAsk.Price, Size: volume},
			{Token: noToken, Side: types.Buy, Price: noAsk.Price, Size: volume},
		},
		DetectedAt: time.Now(),
	}
	return DetectionResult{Opportunities: []types.Opportunity{opp}}
}

func (s *SingleCondition) WarmStart(DetectionResult) {}
