// Package strategy implements the arbitrage detection strategies and the
// registry that dispatches market/cluster events to every applicable,
// enabled one.
//
// Each strategy is one flat interface — name/applies-to/detect/warm-start —
// with no deeper trait hierarchy, the same shape the teacher's market-making
// strategy exposes for a single capability.
package strategy

import (
	"strings"

	"arbcore/internal/bookcache"
	"arbcore/internal/types"
)

// MarketContext is the market (and, for combinatorial detection, cluster)
// a strategy is asked whether it applies to.
type MarketContext struct {
	Market  types.Market
	Cluster *types.Cluster
}

// DetectionContext carries everything a strategy needs to run detection for
// one market/cluster event.
type DetectionContext struct {
	Cache     *bookcache.Cache
	Market    types.Market
	Cluster   *types.Cluster
	Markets   map[types.MarketId]types.Market // every market in Cluster, keyed by id
	MinEdge   float64                         // risk.min_edge_threshold
	MinProfit float64                         // dollars; risk.min_profit_threshold
}

// DetectionResult is what a detection pass returns, including whatever
// warm-start state the strategy wants carried into its next call.
type DetectionResult struct {
	Opportunities []types.Opportunity
	WarmState     interface{}
}

// Strategy is the single capability every detection algorithm implements.
type Strategy interface {
	Name() types.StrategyName
	AppliesTo(ctx MarketContext) bool
	Detect(ctx DetectionContext) DetectionResult
	WarmStart(previous DetectionResult)
}

// NormalizeName applies the configured normalization: trim, lowercase,
// "-" -> "_".
func NormalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	return strings.ReplaceAll(n, "-", "_")
}
