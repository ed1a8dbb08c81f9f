package subscription

import (
	"testing"

	"arbcore/internal/config"
	"arbcore/internal/types"
)

func binaryCandidate(id types.MarketId, yes, no types.TokenId, spread, volume, liquidity float64) Candidate {
	return Candidate{
		Market: types.Market{
			ID:       id,
			Active:   true,
			Outcomes: []types.Outcome{{TokenID: yes, Name: "YES"}, {TokenID: no, Name: "NO"}},
		},
		Spread:    spread,
		Volume24h: volume,
		Liquidity: liquidity,
	}
}

func TestEligibleFiltersInactiveAndThin(t *testing.T) {
	t.Parallel()
	s := NewScorer(config.SubscriptionConfig{MinLiquidity: 1000, MinVolume24h: 500})

	active := binaryCandidate("m1", "y1", "n1", 0.05, 10000, 2000)
	if !s.Eligible(active) {
		t.Error("expected eligible candidate to pass")
	}

	thin := binaryCandidate("m2", "y2", "n2", 0.05, 10000, 100)
	if s.Eligible(thin) {
		t.Error("expected low-liquidity candidate to be rejected")
	}

	closed := active
	closed.Market.Closed = true
	if s.Eligible(closed) {
		t.Error("expected closed market to be rejected")
	}
}

func TestRankSortsDescendingByScore(t *testing.T) {
	t.Parallel()
	s := NewScorer(config.SubscriptionConfig{})
	candidates := []Candidate{
		binaryCandidate("low", "y1", "n1", 0.01, 100, 5000),
		binaryCandidate("high", "y2", "n2", 0.10, 10000, 5000),
	}
	ranked := s.Rank(candidates)
	if len(ranked) != 2 {
		t.Fatalf("ranked = %d, want 2", len(ranked))
	}
	if ranked[0].Candidate.Market.ID != "high" {
		t.Errorf("top-ranked market = %v, want high", ranked[0].Candidate.Market.ID)
	}
}

func TestAssignKeepsBinaryOutcomesTogether(t *testing.T) {
	t.Parallel()
	s := NewScorer(config.SubscriptionConfig{})
	ranked := s.Rank([]Candidate{binaryCandidate("m1", "yes1", "no1", 0.05, 10000, 5000)})

	p := NewPartitioner(config.SubscriptionConfig{MaxPerShard: 10}, 3)
	assignment := p.Assign(ranked)

	if assignment["yes1"] != assignment["no1"] {
		t.Fatalf("yes/no shards = %d/%d, want equal", assignment["yes1"], assignment["no1"])
	}
}

func TestAssignSpreadsHighScoreMarketsAcrossShards(t *testing.T) {
	t.Parallel()
	s := NewScorer(config.SubscriptionConfig{})
	candidates := []Candidate{
		binaryCandidate("m1", "y1", "n1", 0.05, 10000, 5000),
		binaryCandidate("m2", "y2", "n2", 0.05, 10000, 5000),
		binaryCandidate("m3", "y3", "n3", 0.05, 10000, 5000),
	}
	ranked := s.Rank(candidates)

	p := NewPartitioner(config.SubscriptionConfig{MaxPerShard: 10}, 3)
	assignment := p.Assign(ranked)

	shards := map[int]bool{}
	for _, shard := range assignment {
		shards[shard] = true
	}
	if len(shards) != 3 {
		t.Fatalf("expected markets spread across 3 distinct shards, got %d", len(shards))
	}
}

func TestAssignRespectsMaxPerShard(t *testing.T) {
	t.Parallel()
	s := NewScorer(config.SubscriptionConfig{})
	candidates := []Candidate{
		binaryCandidate("m1", "y1", "n1", 0.05, 10000, 5000),
		binaryCandidate("m2", "y2", "n2", 0.05, 10000, 5000),
	}
	ranked := s.Rank(candidates)

	p := NewPartitioner(config.SubscriptionConfig{MaxPerShard: 2}, 1)
	assignment := p.Assign(ranked)

	counts := ShardCounts(assignment, 1)
	if counts[0] > 2 {
		t.Fatalf("shard 0 has %d tokens, want <= 2 (max_per_shard)", counts[0])
	}
	// second market's pair (2 tokens) cannot fit alongside the first's, so it
	// should be dropped rather than split across outcomes.
	if len(assignment) != 2 {
		t.Fatalf("assignment size = %d, want 2 (only first market fits)", len(assignment))
	}
}

func TestAssignRespectsMaxTokens(t *testing.T) {
	t.Parallel()
	s := NewScorer(config.SubscriptionConfig{})
	candidates := []Candidate{
		binaryCandidate("m1", "y1", "n1", 0.05, 10000, 5000),
		binaryCandidate("m2", "y2", "n2", 0.05, 10000, 5000),
	}
	ranked := s.Rank(candidates)

	p := NewPartitioner(config.SubscriptionConfig{MaxPerShard: 10, MaxTokens: 2}, 2)
	assignment := p.Assign(ranked)

	if len(assignment) != 2 {
		t.Fatalf("assignment size = %d, want 2 (max_tokens caps overall breadth)", len(assignment))
	}
}

func TestScoreDrifted(t *testing.T) {
	t.Parallel()
	p := NewPartitioner(config.SubscriptionConfig{ScoreDriftThreshold: 0.25}, 2)
	if p.ScoreDrifted(1.0, 1.1) {
		t.Error("10%% drift should be under the 25%% threshold")
	}
	if !p.ScoreDrifted(1.0, 1.5) {
		t.Error("50%% drift should exceed the 25%% threshold")
	}
}
