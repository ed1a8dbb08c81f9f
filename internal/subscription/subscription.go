// Package subscription assigns eligible market tokens to connection shards.
// Scoring reuses the teacher's scanner formula (spread x sqrt(volume24h) x
// liquidity factor); partitioning spreads high-score tokens across shards
// for resilience and keeps every outcome of one market co-located so the
// book cache's GetPair reads stay meaningful within a shard's data.
package subscription

import (
	"math"
	"sort"

	"arbcore/internal/config"
	"arbcore/internal/types"
)

// Candidate is a market considered for subscription, carrying the Gamma
// API fields the scorer needs beyond what types.Market tracks.
type Candidate struct {
	Market    types.Market
	Spread    float64
	Volume24h float64
	Liquidity float64
}

// Scorer ranks and filters candidates using the teacher's scanner formula.
type Scorer struct {
	cfg config.SubscriptionConfig
}

// NewScorer builds a scorer against the given subscription thresholds.
func NewScorer(cfg config.SubscriptionConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Eligible applies the hard filters: active, not closed, minimum liquidity
// and 24h volume. Score is meaningless for ineligible candidates.
func (s *Scorer) Eligible(c Candidate) bool {
	if !c.Market.Active || c.Market.Closed {
		return false
	}
	if c.Liquidity < s.cfg.MinLiquidity {
		return false
	}
	if c.Volume24h < s.cfg.MinVolume24h {
		return false
	}
	return true
}

// Score computes spread x sqrt(volume24h) x min(liquidity/10000, 1).
func (s *Scorer) Score(c Candidate) float64 {
	liquidityFactor := math.Min(c.Liquidity/10000.0, 1.0)
	return c.Spread * math.Sqrt(c.Volume24h) * liquidityFactor
}

// Scored pairs a candidate with its computed score, kept around so the
// partitioner and score-drift check don't need to recompute it.
type Scored struct {
	Candidate Candidate
	Score     float64
}

// Rank filters to eligible candidates and returns them scored and sorted
// descending.
func (s *Scorer) Rank(candidates []Candidate) []Scored {
	out := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		if !s.Eligible(c) {
			continue
		}
		out = append(out, Scored{Candidate: c, Score: s.Score(c)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Assignment maps every subscribed token to the shard index that owns it.
type Assignment map[types.TokenId]int

// Partitioner spreads ranked markets across N shards.
type Partitioner struct {
	cfg        config.SubscriptionConfig
	shardCount int
}

// NewPartitioner builds a partitioner over shardCount connection shards.
func NewPartitioner(cfg config.SubscriptionConfig, shardCount int) *Partitioner {
	if shardCount < 1 {
		shardCount = 1
	}
	return &Partitioner{cfg: cfg, shardCount: shardCount}
}

// Assign places every outcome token of each ranked market into a shard.
// All outcomes of one market always land in the same shard. Markets are
// walked highest-score-first and placed round-robin across shards (wrapping
// to the next shard with spare capacity) so that resilience does not
// concentrate the best opportunities behind one connection. A market is
// dropped entirely if no shard has room for all of its outcomes, and
// max_tokens caps the overall subscription breadth before partitioning.
func (p *Partitioner) Assign(ranked []Scored) Assignment {
	assignment := make(Assignment)
	shardSize := make([]int, p.shardCount)

	maxTokens := p.cfg.MaxTokens
	tokensUsed := 0
	next := 0

	for _, sc := range ranked {
		outcomes := sc.Candidate.Market.Outcomes
		if len(outcomes) == 0 {
			continue
		}
		if maxTokens > 0 && tokensUsed+len(outcomes) > maxTokens {
			continue
		}

		placed := false
		for i := 0; i < p.shardCount; i++ {
			shard := (next + i) % p.shardCount
			if p.cfg.MaxPerShard > 0 && shardSize[shard]+len(outcomes) > p.cfg.MaxPerShard {
				continue
			}
			for _, o := range outcomes {
				assignment[o.TokenID] = shard
			}
			shardSize[shard] += len(outcomes)
			tokensUsed += len(outcomes)
			next = shard + 1
			placed = true
			break
		}
		if !placed {
			continue
		}
	}
	return assignment
}

// ScoreDrifted reports whether a token's score moved by more than the
// configured fraction since it was last assigned, which on its own is
// sufficient justification for a rebalance.
func (p *Partitioner) ScoreDrifted(oldScore, newScore float64) bool {
	if oldScore == 0 {
		return newScore != 0
	}
	drift := math.Abs(newScore-oldScore) / math.Abs(oldScore)
	return drift > p.cfg.ScoreDriftThreshold
}

// ShardCounts returns the current shard sizes implied by an assignment,
// useful for health reporting and rebalance decisions.
func ShardCounts(a Assignment, shardCount int) []int {
	counts := make([]int, shardCount)
	for _, shard := range a {
		if shard >= 0 && shard < shardCount {
			counts[shard]++
		}
	}
	return counts
}
