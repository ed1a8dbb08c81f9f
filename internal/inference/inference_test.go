package inference

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"arbcore/internal/relation"
	"arbcore/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubInferrer struct {
	relations []types.Relation
	err       error
	calls     int
	lastBatch []MarketBatch
}

func (s *stubInferrer) Infer(ctx context.Context, batches []MarketBatch) ([]types.Relation, error) {
	s.calls++
	s.lastBatch = batches
	if s.err != nil {
		return nil, s.err
	}
	return s.relations, nil
}

func TestScanOnceFiltersBelowMinConfidence(t *testing.T) {
	t.Parallel()
	cache := relation.New(0.8)
	stub := &stubInferrer{relations: []types.Relation{
		{Kind: types.ExactlyOne, Markets: []types.MarketId{"a", "b"}, Confidence: 0.9},
		{Kind: types.ExactlyOne, Markets: []types.MarketId{"c", "d"}, Confidence: 0.5},
	}}
	markets := func() []types.Market {
		return []types.Market{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	}

	d := NewDriver(stub, cache, markets, 0.8, 50, time.Minute, time.Hour, testLogger())
	if err := d.ScanOnce(context.Background()); err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}

	if _, ok := cache.ClusterOf("a"); !ok {
		t.Error("high-confidence relation should have been upserted")
	}
	if _, ok := cache.ClusterOf("c"); ok {
		t.Error("low-confidence relation should have been dropped")
	}
}

func TestScanOnceBatchesBySize(t *testing.T) {
	t.Parallel()
	cache := relation.New(0.5)
	stub := &stubInferrer{}
	markets := func() []types.Market {
		out := make([]types.Market, 5)
		for i := range out {
			out[i] = types.Market{ID: types.MarketId(string(rune('a' + i)))}
		}
		return out
	}

	d := NewDriver(stub, cache, markets, 0.5, 2, time.Minute, time.Hour, testLogger())
	if err := d.ScanOnce(context.Background()); err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if len(stub.lastBatch) != 3 {
		t.Fatalf("batch count = %d, want 3 (2+2+1)", len(stub.lastBatch))
	}
	if len(stub.lastBatch[0].Markets) != 2 || len(stub.lastBatch[2].Markets) != 1 {
		t.Fatalf("unexpected batch sizes: %+v", stub.lastBatch)
	}
}

func TestScanOnceSkipsWhenNoMarkets(t *testing.T) {
	t.Parallel()
	cache := relation.New(0.5)
	stub := &stubInferrer{}
	d := NewDriver(stub, cache, func() []types.Market { return nil }, 0.5, 50, time.Minute, time.Hour, testLogger())

	if err := d.ScanOnce(context.Background()); err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if stub.calls != 0 {
		t.Error("inferrer should not be called when there are no markets")
	}
}

func TestScanOnceReturnsInferrerError(t *testing.T) {
	t.Parallel()
	cache := relation.New(0.5)
	stub := &stubInferrer{err: errors.New("upstream unavailable")}
	markets := func() []types.Market { return []types.Market{{ID: "a"}} }
	d := NewDriver(stub, cache, markets, 0.5, 50, time.Minute, time.Hour, testLogger())

	if err := d.ScanOnce(context.Background()); err == nil {
		t.Fatal("expected error to propagate from Inferrer")
	}
}
