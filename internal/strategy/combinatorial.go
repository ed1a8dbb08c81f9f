package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"arbcore/internal/solver"
	"arbcore/internal/types"
)

// Combinatorial detects cross-market arbitrage within a cluster of markets
// tied together by MutuallyExclusive/ExactlyOne relations: if the sum of
// best asks across the cluster's primary outcome tokens undercuts the
// polytope's bound (1), buying the basket guarantees the payout.
//
// The raw violation is what gates the decision (spec's "gap between
// observed and projection is the arbitrage edge"); a Frank-Wolfe projection
// onto the polytope is additionally run and attached for observability and
// to seed the next call's warm start.
type Combinatorial struct {
	b        float64
	maxIters int
	epsilon  float64

	lastIterate map[types.ClusterId][]decimal.Decimal
}

// NewCombinatorial builds the combinatorial detector with the given LMSR
// liquidity parameter and Frank-Wolfe iteration budget.
func NewCombinatorial(b float64, maxIters int, epsilon float64) *Combinatorial {
	return &Combinatorial{
		b:           b,
		maxIters:    maxIters,
		epsilon:     epsilon,
		lastIterate: make(map[types.ClusterId][]decimal.Decimal),
	}
}

func (c *Combinatorial) Name() types.StrategyName { return types.StrategyCombinatorial }

func (c *Combinatorial) AppliesTo(ctx MarketContext) bool { return ctx.Cluster != nil }

// primaryToken picks the token whose price anchors a market's membership in
// the cluster's polytope. For a binary market this is the YES side; for a
// categorical market the first outcome (the relation applies per-market, so
// the detector treats each member market as contributing one dimension).
func primaryToken(m types.Market) (types.TokenId, bool) {
	if len(m.Outcomes) == 0 {
		return "", false
	}
	return m.Outcomes[0].TokenID, true
}

func (c *Combinatorial) Detect(ctx DetectionContext) DetectionResult {
	if ctx.Cluster == nil || len(ctx.Cluster.Markets) < 2 {
		return DetectionResult{}
	}

	tokens := make([]types.TokenId, 0, len(ctx.Cluster.Markets))
	asks := make([]decimal.Decimal, 0, len(ctx.Cluster.Markets))
	sizes := make([]decimal.Decimal, 0, len(ctx.Cluster.Markets))

	// Every market in the cluster contributes one dimension; the current
	// event only guarantees freshness for ctx.Market, but the rest are safe
	// to read from the shared cache too since each Get is a point-in-time
	// snapshot under its own lock. ctx.Markets resolves each cluster member
	// to the market metadata needed to pick its primary (anchor) token.
	for _, mid := range ctx.Cluster.Markets {
		m := ctx.Market
		if mid != ctx.Market.ID {
			found, ok := ctx.Markets[mid]
			if !ok {
				continue
			}
			m = found
		}
		t, found := primaryToken(m)
		if !found {
			continue
		}
		book, ok := ctx.Cache.Get(t)
		if !ok {
			continue
		}
		ask, ok := book.BestAsk()
		if !ok {
			continue
		}
		tokens = append(tokens, t)
		asks = append(asks, ask.Price)
		sizes = append(sizes, ask.Size)
	}

	if len(asks) < 2 {
		return DetectionResult{}
	}

	poly := solver.Polytope{
		Dim: len(asks),
		Constraints: []solver.Constraint{
			{Indices: indexRange(len(asks)), Sense: senseFor(ctx.Cluster.Relations), RHS: 1},
		},
	}
	cfg := solver.FrankWolfeConfig{B: c.b, MaxIters: c.maxIters, Epsilon: c.epsilon}
	warm := c.lastIterate[ctx.Cluster.ID]
	fw, err := solver.Project(asks, poly, cfg, warm)
	if err != nil {
		return DetectionResult{}
	}
	c.lastIterate[ctx.Cluster.ID] = fw.Iterate

	edge := fw.Gap
	if edge.LessThan(decimal.NewFromFloat(ctx.MinEdge)) {
		return DetectionResult{}
	}

	volume := sizes[0]
	for _, s := range sizes[1:] {
		if s.LessThan(volume) {
			volume = s
		}
	}
	expectedProfit := edge.Mul(volume)
	if expectedProfit.LessThan(decimal.NewFromFloat(ctx.MinProfit)) {
		return DetectionResult{}
	}

	legs := make([]types.Leg, len(tokens))
	for i, t := range tokens {
		legs[i] = types.Leg{Token: t, Side: types.Buy, Price: asks[i], Size: volume}
	}

	opp := types.Opportunity{
		Strategy:       types.StrategyCombinatorial,
		MarketIDs:      ctx.Cluster.Markets,
		Edge:           edge,
		ExpectedProfit: expectedProfit,
		Legs:           legs,
		DetectedAt:     time.Now(),
	}
	return DetectionResult{Opportunities: []types.Opportunity{opp}, WarmState: fw}
}

// WarmStart is a no-op: Detect already keys its own warm-start iterate by
// cluster id internally (c.lastIterate), since that is the only place the
// cluster id detection ran against is known. It exists to satisfy the
// Strategy interface; the registry does not call it.
func (c *Combinatorial) WarmStart(DetectionResult) {}

func indexRange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func senseFor(relationIDs []types.RelationId) solver.ConstraintSense {
	// Both relation kinds bound the basket sum at 1 from above; ExactlyOne
	// additionally requires equality, but for arbitrage purposes only the
	// upper bound matters, so both map to the looser LessEqual here.
	_ = relationIDs
	return solver.LessEqual
}
