// Package bookcache maintains a concurrency-safe in-memory mirror of every
// subscribed token's order book, built from REST snapshots and incremental
// WebSocket deltas.
package bookcache

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arbcore/internal/types"
)

// CrossedWarning is raised when applying a delta would leave a book crossed
// (best_bid >= best_ask); the crossing side's offending level is trimmed
// before the write is accepted.
type CrossedWarning struct {
	Token types.TokenId
	Bid   types.PriceLevel
	Ask   types.PriceLevel
}

// Cache is a concurrency-safe map of token to order book. Readers take a
// single RLock per lookup; get_pair reads both tokens' books under one
// RLock so the pair is observed atomically with respect to writers.
type Cache struct {
	mu           sync.RWMutex
	books        map[types.TokenId]types.OrderBook
	marketTokens map[types.MarketId][]types.TokenId

	// onCrossed is invoked (outside the lock) whenever a delta is trimmed to
	// resolve a crossed book. Optional; nil by default.
	onCrossed func(CrossedWarning)
}

// New creates an empty book cache.
func New() *Cache {
	return &Cache{
		books:        make(map[types.TokenId]types.OrderBook),
		marketTokens: make(map[types.MarketId][]types.TokenId),
	}
}

// OnCrossed registers a callback invoked whenever ApplyDelta must trim a
// level to keep a book from crossing. Typically wired to the notifier
// registry by the orchestrator.
func (c *Cache) OnCrossed(fn func(CrossedWarning)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCrossed = fn
}

// RegisterMarket records which tokens belong to a market, so GetPair and
// other market-scoped reads know which books to fetch.
func (c *Cache) RegisterMarket(market types.MarketId, tokens []types.TokenId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marketTokens[market] = append([]types.TokenId(nil), tokens...)
}

// ApplySnapshot replaces a token's book wholesale (REST load or WS "book" event).
func (c *Cache) ApplySnapshot(token types.TokenId, bids, asks []types.PriceLevel, hash string) {
	book := types.OrderBook{
		Token:     token,
		Bids:      sortedBids(bids),
		Asks:      sortedAsks(asks),
		Hash:      hash,
		Timestamp: time.Now(),
	}
	c.mu.Lock()
	c.books[token] = book
	c.mu.Unlock()
}

// ApplyDelta applies an incremental price_change: a size of zero removes the
// level, any other size inserts or replaces it. The result is re-sorted so
// BestBid/BestAsk stay correct.
func (c *Cache) ApplyDelta(token types.TokenId, side types.Side, price, size decimal.Decimal, hash string) {
	c.mu.Lock()

	book, ok := c.books[token]
	if !ok {
		book = types.OrderBook{Token: token}
	}

	// Copy the touched side before editing it so books already handed out by
	// Get/GetPair/GetMarket keep their levels unchanged.
	switch side {
	case types.Buy:
		book.Bids = upsertLevel(append([]types.PriceLevel(nil), book.Bids...), price, size, true)
	case types.Sell:
		book.Asks = upsertLevel(append([]types.PriceLevel(nil), book.Asks...), price, size, false)
	}
	book.Hash = hash
	book.Timestamp = time.Now()

	var warning *CrossedWarning
	if Crossed(book) {
		bid, _ := book.BestBid()
		ask, _ := book.BestAsk()
		// Trim the side the incoming delta just touched; it is the side
		// responsible for the new crossing.
		switch side {
		case types.Buy:
			book.Bids = book.Bids[1:]
		case types.Sell:
			book.Asks = book.Asks[1:]
		}
		warning = &CrossedWarning{Token: token, Bid: bid, Ask: ask}
	}

	c.books[token] = book
	cb := c.onCrossed
	c.mu.Unlock()

	if warning != nil && cb != nil {
		cb(*warning)
	}
}

// upsertLevel inserts, replaces or removes a price level, keeping the slice
// sorted descending (bids) or ascending (asks).
func upsertLevel(levels []types.PriceLevel, price, size decimal.Decimal, desc bool) []types.PriceLevel {
	idx := -1
	for i, l := range levels {
		if l.Price.Equal(price) {
			idx = i
			break
		}
	}
	if size.IsZero() {
		if idx >= 0 {
			levels = append(levels[:idx], levels[idx+1:]...)
		}
		return levels
	}
	if idx >= 0 {
		levels[idx].Size = size
		return levels
	}
	levels = append(levels, types.PriceLevel{Price: price, Size: size})
	sort.Slice(levels, func(i, j int) bool {
		if desc {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
	return levels
}

func sortedBids(levels []types.PriceLevel) []types.PriceLevel {
	out := append([]types.PriceLevel(nil), levels...)
	sort.Slice(out, func(i, j int) bool { return out[i].Price.GreaterThan(out[j].Price) })
	return out
}

func sortedAsks(levels []types.PriceLevel) []types.PriceLevel {
	out := append([]types.PriceLevel(nil), levels...)
	sort.Slice(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out
}

// Get returns a snapshot copy of a single token's book.
func (c *Cache) Get(token types.TokenId) (types.OrderBook, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.books[token]
	return b, ok
}

// GetPair reads two tokens' books under a single RLock, so the pair is
// observed as of the same instant with respect to concurrent writers.
func (c *Cache) GetPair(a, b types.TokenId) (types.OrderBook, types.OrderBook, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ba, ok1 := c.books[a]
	bb, ok2 := c.books[b]
	return ba, bb, ok1 && ok2
}

// GetMarket reads every token book belonging to a market under one RLock.
func (c *Cache) GetMarket(market types.MarketId) ([]types.OrderBook, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tokens, ok := c.marketTokens[market]
	if !ok {
		return nil, false
	}
	out := make([]types.OrderBook, 0, len(tokens))
	for _, t := range tokens {
		if b, ok := c.books[t]; ok {
			out = append(out, b)
		}
	}
	return out, true
}

// IsStale reports whether a token's book hasn't updated within maxAge, or
// has never received data.
func (c *Cache) IsStale(token types.TokenId, maxAge time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.books[token]
	if !ok || b.Timestamp.IsZero() {
		return true
	}
	return time.Since(b.Timestamp) > maxAge
}

// Crossed reports whether a book's best bid is >= its best ask, which is
// never a valid state and signals upstream corruption.
func Crossed(b types.OrderBook) bool {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return false
	}
	return bid.Price.GreaterThanOrEqual(ask.Price)
}

// TokenCount returns how many distinct tokens currently have a book.
func (c *Cache) TokenCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.books)
}
