// Package inference wires an external LLM collaborator's relation
// judgments into the relation cache. The package only defines the narrow
// port and the periodic driver that calls it; prompt construction and model
// selection live entirely behind the Inferrer implementation handed to New.
package inference

import (
	"context"
	"log/slog"
	"time"

	"arbcore/internal/relation"
	"arbcore/internal/types"
)

// MarketBatch is one group of markets submitted to the inferrer together,
// sized by config's batch_size.
type MarketBatch struct {
	Markets []types.Market
}

// Inferrer is the narrow port an external LLM collaborator implements. It
// returns every relation it judges to hold across the markets in batches,
// independent of confidence filtering (the driver applies min_confidence).
type Inferrer interface {
	Infer(ctx context.Context, batches []MarketBatch) ([]types.Relation, error)
}

// Driver periodically batches known markets, calls an Inferrer, and applies
// the confidence floor before handing surviving relations to the relation
// cache.
type Driver struct {
	inferrer      Inferrer
	cache         *relation.Cache
	minConfidence float64
	batchSize     int
	interval      time.Duration
	ttl           time.Duration
	logger        *slog.Logger

	markets func() []types.Market
}

// NewDriver builds a Driver. markets is called at the start of every scan to
// snapshot the current market universe; it is supplied as a func rather
// than a static slice because the universe changes as markets are
// discovered/settled.
func NewDriver(inferrer Inferrer, cache *relation.Cache, markets func() []types.Market, minConfidence float64, batchSize int, interval, ttl time.Duration, logger *slog.Logger) *Driver {
	return &Driver{
		inferrer:      inferrer,
		cache:         cache,
		markets:       markets,
		minConfidence: minConfidence,
		batchSize:     batchSize,
		interval:      interval,
		ttl:           ttl,
		logger:        logger.With("component", "inference"),
	}
}

// Run blocks, scanning on every tick until ctx is canceled.
func (d *Driver) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.scan(ctx)
		}
	}
}

// ScanOnce runs a single inference pass immediately, outside Run's ticker.
func (d *Driver) ScanOnce(ctx context.Context) error {
	return d.scan(ctx)
}

func (d *Driver) scan(ctx context.Context) error {
	markets := d.markets()
	if len(markets) == 0 {
		return nil
	}

	batches := batchMarkets(markets, d.batchSize)
	relations, err := d.inferrer.Infer(ctx, batches)
	if err != nil {
		d.logger.Error("inference call failed", "error", err)
		return err
	}

	now := time.Now()
	accepted := 0
	for _, r := range relations {
		if r.Confidence < d.minConfidence {
			continue
		}
		if r.InferredAt.IsZero() {
			r.InferredAt = now
		}
		if r.ExpiresAt.IsZero() {
			r.ExpiresAt = now.Add(d.ttl)
		}
		if r.ID == "" {
			r.ID = types.RelationId(string(r.Kind) + ":" + joinMarketIDs(r.Markets))
		}
		d.cache.Upsert(r)
		accepted++
	}
	d.cache.PruneExpired(now)

	d.logger.Info("inference scan complete",
		"markets", len(markets), "batches", len(batches),
		"relations_returned", len(relations), "relations_accepted", accepted)
	return nil
}

func batchMarkets(markets []types.Market, size int) []MarketBatch {
	if size <= 0 {
		size = len(markets)
	}
	if size == 0 {
		return nil
	}
	batches := make([]MarketBatch, 0, (len(markets)+size-1)/size)
	for i := 0; i < len(markets); i += size {
		end := i + size
		if end > len(markets) {
			end = len(markets)
		}
		batches = append(batches, MarketBatch{Markets: markets[i:end]})
	}
	return batches
}

func joinMarketIDs(ids []types.MarketId) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += "+"
		}
		out += string(id)
	}
	return out
}
