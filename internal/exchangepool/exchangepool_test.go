package exchangepool

import (
	"io"
	"log/slog"
	"testing"

	"arbcore/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewCreatesConfiguredShardCount(t *testing.T) {
	t.Parallel()
	p := New(Config{URL: "wss://example", ShardCount: 4}, testLogger())
	if len(p.shards) != 4 {
		t.Fatalf("shard count = %d, want 4", len(p.shards))
	}
	for _, s := range p.shards {
		if s.state != Connecting {
			t.Errorf("shard %d initial state = %v, want connecting", s.id, s.state)
		}
	}
}

func TestNewDefaultsToOneShard(t *testing.T) {
	t.Parallel()
	p := New(Config{URL: "wss://example"}, testLogger())
	if len(p.shards) != 1 {
		t.Fatalf("shard count = %d, want 1 (defaulted)", len(p.shards))
	}
}

func TestAssignShardTracksSubscriptionWithoutLiveConnection(t *testing.T) {
	t.Parallel()
	p := New(Config{URL: "wss://example", ShardCount: 2}, testLogger())
	if err := p.AssignShard(1, []types.TokenId{"t1", "t2"}); err != nil {
		t.Fatalf("AssignShard() error = %v", err)
	}

	s := p.shards[1]
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.subscribed["t1"] || !s.subscribed["t2"] {
		t.Fatalf("subscribed = %v, want t1 and t2 present", s.subscribed)
	}
}

func TestAssignShardRejectsOutOfRangeIndex(t *testing.T) {
	t.Parallel()
	p := New(Config{URL: "wss://example", ShardCount: 2}, testLogger())
	if err := p.AssignShard(5, []types.TokenId{"t1"}); err == nil {
		t.Fatal("expected error for out-of-range shard id")
	}
}

func TestDispatchRoutesBookEvent(t *testing.T) {
	t.Parallel()
	p := New(Config{URL: "wss://example", ShardCount: 1}, testLogger())
	p.dispatch([]byte(`{"event_type":"book","asset_id":"t1","market":"m1","hash":"h1"}`))

	select {
	case evt := <-p.bookCh:
		if evt.AssetID != "t1" {
			t.Errorf("AssetID = %q, want t1", evt.AssetID)
		}
	default:
		t.Fatal("expected a book event on bookCh")
	}
}

func TestDispatchRoutesPriceChangeEvent(t *testing.T) {
	t.Parallel()
	p := New(Config{URL: "wss://example", ShardCount: 1}, testLogger())
	p.dispatch([]byte(`{"event_type":"price_change","market":"m1"}`))

	select {
	case evt := <-p.priceChangeCh:
		if evt.Market != "m1" {
			t.Errorf("Market = %q, want m1", evt.Market)
		}
	default:
		t.Fatal("expected a price_change event on priceChangeCh")
	}
}

func TestDispatchRoutesSettlementEvent(t *testing.T) {
	t.Parallel()
	p := New(Config{URL: "wss://example", ShardCount: 1}, testLogger())
	p.dispatch([]byte(`{"event_type":"market_resolved","market":"m1","winning_outcome":"yes1"}`))

	select {
	case evt := <-p.settledCh:
		if evt.WinningOutcome != "yes1" {
			t.Errorf("WinningOutcome = %q, want yes1", evt.WinningOutcome)
		}
	default:
		t.Fatal("expected a settlement event on settledCh")
	}
}

func TestDispatchIgnoresUnknownEventType(t *testing.T) {
	t.Parallel()
	p := New(Config{URL: "wss://example", ShardCount: 1}, testLogger())
	p.dispatch([]byte(`{"event_type":"last_trade_price"}`))

	select {
	case <-p.bookCh:
		t.Fatal("unexpected event on bookCh")
	case <-p.priceChangeCh:
		t.Fatal("unexpected event on priceChangeCh")
	default:
	}
}

func TestSnapshotCountsSubscribedTokens(t *testing.T) {
	t.Parallel()
	p := New(Config{URL: "wss://example", ShardCount: 2}, testLogger())
	_ = p.AssignShard(0, []types.TokenId{"t1", "t2"})
	_ = p.AssignShard(1, []types.TokenId{"t3"})

	stats := p.Snapshot()
	if stats.TokenCount != 3 {
		t.Fatalf("TokenCount = %d, want 3", stats.TokenCount)
	}
	if stats.ActiveConnections != 0 {
		t.Fatalf("ActiveConnections = %d, want 0 (no shard has connected yet)", stats.ActiveConnections)
	}
}
