package orchestrator

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"arbcore/internal/subscription"
	"arbcore/internal/types"
)

// RunDiscovery periodically pages the full Gamma market universe, scores
// and partitions it into the connection pool's shards, and registers every
// surviving market so detection has something to dispatch against. It
// blocks until ctx is canceled and should run in its own goroutine,
// independent of the event-consumer loop.
func (o *Orchestrator) RunDiscovery(ctx context.Context) {
	interval := o.cfg.Subscription.RescoreInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	o.discoverOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.discoverOnce(ctx)
		}
	}
}

func (o *Orchestrator) discoverOnce(ctx context.Context) {
	candidates, err := o.fetchCandidates(ctx)
	if err != nil {
		o.logger.Error("discovery fetch failed", "error", err)
		return
	}

	ranked := o.scorer.Rank(candidates)
	assignment := o.partition.Assign(ranked)

	byShard := make(map[int][]types.TokenId)
	registered := make(map[types.MarketId]bool, len(ranked))
	for _, sc := range ranked {
		market := sc.Candidate.Market
		assignedAny := false
		for _, outcome := range market.Outcomes {
			if shard, ok := assignment[outcome.TokenID]; ok {
				byShard[shard] = append(byShard[shard], outcome.TokenID)
				assignedAny = true
			}
		}
		if assignedAny && !registered[market.ID] {
			o.RegisterMarket(market)
			registered[market.ID] = true
		}
	}

	for shard, tokens := range byShard {
		if err := o.pool.AssignShard(shard, tokens); err != nil {
			o.logger.Error("assign shard", "shard", shard, "error", err)
		}
	}

	o.logger.Info("discovery cycle complete",
		"candidates", len(candidates), "eligible", len(ranked), "markets_registered", len(registered))
}

// fetchCandidates pages GetMarkets to exhaustion and converts every Gamma
// market into a scoring candidate.
func (o *Orchestrator) fetchCandidates(ctx context.Context) ([]subscription.Candidate, error) {
	var out []subscription.Candidate
	cursor := ""
	for {
		page, err := o.markets.GetMarkets(ctx, cursor)
		if err != nil {
			return nil, err
		}
		for _, g := range page.Data {
			out = append(out, subscription.Candidate{
				Market:    marketFromGamma(g),
				Spread:    g.Spread,
				Volume24h: g.Volume24h,
				Liquidity: g.Liquidity,
			})
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return out, nil
}

// marketFromGamma converts the Gamma REST wire shape into the domain
// Market type. Binary markets carry a YES/NO outcome pair; categorical
// markets carry one outcome per token, named after its Gamma outcome
// label.
func marketFromGamma(g types.GammaMarket) types.Market {
	outcomes := make([]types.Outcome, 0, len(g.Tokens))
	for _, t := range g.Tokens {
		outcomes = append(outcomes, types.Outcome{
			TokenID: types.TokenId(t.TokenID),
			Name:    t.Outcome,
		})
	}
	return types.Market{
		ID:       types.MarketId(g.ConditionID),
		Question: g.Question,
		Outcomes: outcomes,
		Payout:   decimal.NewFromInt(1),
		Active:   g.Active,
		Closed:   g.Closed,
	}
}
