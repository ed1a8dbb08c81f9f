// Package types defines the shared vocabulary used across all packages:
// identifiers, markets, order books, relations, clusters, opportunities,
// positions and the wire shapes of exchange WebSocket/REST events.
//
// It has no dependency on any other internal package, so every layer of the
// system can import it without creating cycles.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// TokenId identifies a single outcome token. Equality and hashing only.
type TokenId string

// MarketId identifies a market (a condition with one or more outcome tokens).
type MarketId string

// RelationId identifies an inferred logical relation between markets.
type RelationId string

// ClusterId identifies a derived cluster of transitively-related markets.
type ClusterId string

// OpportunityId identifies a single detected arbitrage opportunity.
type OpportunityId string

// PositionId identifies an open or closed position.
type PositionId string

// Side is the direction of a leg: BUY (take the ask) or SELL (take the bid).
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Outcome is one named outcome token within a market (e.g. "YES"/"NO", or
// a named candidate in a categorical market).
type Outcome struct {
	TokenID TokenId
	Name    string
}

// Market is a single condition with one or more mutually-priced outcomes.
// A binary market has exactly two outcomes tagged YES/NO; categorical
// markets have two or more. Payout is the unit payoff of a winning outcome.
type Market struct {
	ID       MarketId
	Question string
	Outcomes []Outcome
	Payout   decimal.Decimal
	Active   bool
	Closed   bool
	EndDate  time.Time
}

// IsBinary reports whether the market has exactly two outcomes.
func (m Market) IsBinary() bool { return len(m.Outcomes) == 2 }

// PriceLevel is a single book level: a price in (0,1] and a non-negative size.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBook is an immutable snapshot of one token's order book. Bids are
// sorted descending by price, asks ascending; a well-formed book never has
// best_bid >= best_ask. The book cache's ApplyDelta trims a level to keep a
// book from crossing; ApplySnapshot stores a snapshot's levels as given and
// does not check them for crossing.
type OrderBook struct {
	Token     TokenId
	Bids      []PriceLevel
	Asks      []PriceLevel
	Hash      string
	Timestamp time.Time
}

// BestBid returns the highest bid level, if any.
func (b OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask level, if any.
func (b OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// RelationKind tags the two supported logical relation variants.
type RelationKind string

const (
	MutuallyExclusive RelationKind = "mutually_exclusive"
	ExactlyOne        RelationKind = "exactly_one"
)

// Relation is an inferred logical relation between a set of markets, with a
// confidence score and an expiry. A relation is valid only while
// now < ExpiresAt and Confidence >= the configured minimum.
type Relation struct {
	ID         RelationId
	Kind       RelationKind
	Markets    []MarketId
	Confidence float64
	Reasoning  string
	InferredAt time.Time
	ExpiresAt  time.Time
}

// Valid reports whether the relation has not expired and clears the given
// minimum confidence threshold.
func (r Relation) Valid(now time.Time, minConfidence float64) bool {
	return now.Before(r.ExpiresAt) && r.Confidence >= minConfidence
}

// Cluster is the maximal set of markets transitively connected by valid
// relations. Membership is derived, never user-declared.
type Cluster struct {
	ID              ClusterId
	Markets         []MarketId
	Relations       []RelationId
	ConstraintsJSON string
}

// Leg is one side of a multi-leg arbitrage trade.
type Leg struct {
	Token TokenId
	Side  Side
	Price decimal.Decimal
	Size  decimal.Decimal
}

// StrategyName identifies a detection strategy after normalization
// (trim, lowercase, "-" -> "_").
type StrategyName string

const (
	StrategySingleCondition   StrategyName = "single_condition"
	StrategyMarketRebalancing StrategyName = "market_rebalancing"
	StrategyCombinatorial     StrategyName = "combinatorial"
)

// Opportunity is a detected arbitrage opportunity ready for risk evaluation.
type Opportunity struct {
	ID              OpportunityId
	Strategy        StrategyName
	MarketIDs       []MarketId
	Edge            decimal.Decimal
	ExpectedProfit  decimal.Decimal
	Legs            []Leg
	DetectedAt      time.Time
}

// PositionStatus is the lifecycle state of a Position.
type PositionStatus string

const (
	PositionOpen     PositionStatus = "open"
	PositionClosed   PositionStatus = "closed"
	PositionSettling PositionStatus = "settling"
	PositionFailed   PositionStatus = "failed"
	PositionPartial  PositionStatus = "partial"
)

// CloseReason explains why a position transitioned out of Open.
type CloseReason string

const (
	CloseSettled   CloseReason = "settled"
	CloseManual    CloseReason = "manual"
	CloseFailed    CloseReason = "failed"
	CloseThrottled CloseReason = "throttled"
)

// Position tracks one executed (or partially-executed) opportunity from open
// through settlement or failure.
type Position struct {
	ID             PositionId
	OpportunityID  OpportunityId
	Strategy       StrategyName
	MarketIDs      []MarketId
	Legs           []Leg
	Size           decimal.Decimal
	ExpectedProfit decimal.Decimal
	RealizedProfit *decimal.Decimal
	Status         PositionStatus
	OpenedAt       time.Time
	ClosedAt       *time.Time
	CloseReason    *CloseReason
}

// PositionSnapshot aggregates open-position exposure and position counts,
// read by the control surface's status snapshot.
type PositionSnapshot struct {
	OpenCount        int
	ClosedCount      int
	TotalExposureUSD decimal.Decimal
}

// PoolStats are counters describing connection-pool health.
type PoolStats struct {
	ActiveConnections int
	Rotations         int64
	Restarts          int64
	DroppedEvents     int64
	MarketCount       int
	TokenCount        int
}

// RuntimeStats are process-wide counters surfaced on the control API.
type RuntimeStats struct {
	OpportunitiesDetected int64
	OpportunitiesExecuted int64
	OpportunitiesRejected int64
	ExecutionFailures     int64
}

// ————————————————————————————————————————————————————————————————————————
// Exchange WebSocket wire events (market data ingress)
// ————————————————————————————————————————————————————————————————————————

// WSPriceLevel is the JSON shape of a single bid/ask level on the wire.
// Price and size travel as decimal strings to preserve precision.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// WSBookEvent is a full order-book snapshot, replacing the local book for
// the given asset wholesale.
type WSBookEvent struct {
	EventType string         `json:"event_type"` // "book"
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
}

// WSPriceChange is one level delta within a price_change event.
type WSPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"` // 0 = level removed
	Side    string `json:"side"`
	Hash    string `json:"hash"`
}

// WSPriceChangeEvent is an incremental book update, applied level-wise then
// re-sorted by the book cache.
type WSPriceChangeEvent struct {
	EventType    string          `json:"event_type"` // "price_change"
	Market       string          `json:"market"`
	Timestamp    string          `json:"timestamp"`
	PriceChanges []WSPriceChange `json:"changes"`
}

// WSTickSizeChangeEvent is an informational event. The pool decodes it onto
// its TickSizeEvents channel; nothing counts it or acts on it.
type WSTickSizeChangeEvent struct {
	EventType string `json:"event_type"` // "tick_size_change"
	AssetID   string `json:"asset_id"`
}

// WSMarketSettledEvent announces settlement of a market. It bypasses
// strategies and is routed straight to the position manager.
type WSMarketSettledEvent struct {
	EventType      string `json:"event_type"` // "market_resolved"
	Market         string `json:"market"`
	WinningOutcome string `json:"winning_outcome"`
}

// WSSubscribeMsg is the initial subscription message sent on connect.
type WSSubscribeMsg struct {
	Type     string   `json:"type"` // "market"
	AssetIDs []string `json:"assets_ids,omitempty"`
}

// WSUpdateMsg dynamically subscribes/unsubscribes after connect.
type WSUpdateMsg struct {
	AssetIDs  []string `json:"assets_ids,omitempty"`
	Operation string   `json:"operation"` // "subscribe" | "unsubscribe"
}

// ————————————————————————————————————————————————————————————————————————
// Exchange REST ingress/egress
// ————————————————————————————————————————————————————————————————————————

// GammaToken is one outcome token as returned by GET /markets.
type GammaToken struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Price   string `json:"price,omitempty"`
}

// GammaMarket is the JSON shape of one element of GET /markets.
type GammaMarket struct {
	ConditionID string       `json:"condition_id"`
	Question    string       `json:"question,omitempty"`
	Tokens      []GammaToken `json:"tokens"`
	Active      bool         `json:"active"`
	Closed      bool         `json:"closed"`
	Volume24h   float64      `json:"volume_24h,omitempty"`
	Liquidity   float64      `json:"liquidity,omitempty"`
	Spread      float64      `json:"spread,omitempty"`
}

// GammaMarketsPage is the paginated response of GET /markets.
type GammaMarketsPage struct {
	Data       []GammaMarket `json:"data"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// BookResponse is the REST response from GET /book for a single token.
type BookResponse struct {
	AssetID string         `json:"asset_id"`
	Bids    []WSPriceLevel `json:"bids"`
	Asks    []WSPriceLevel `json:"asks"`
	Hash    string         `json:"hash"`
}

// ExecutionStatus is the outcome status of an order submitted through the
// ArbitrageExecutor port.
type ExecutionStatus string

const (
	ExecFilled  ExecutionStatus = "filled"
	ExecPartial ExecutionStatus = "partial"
	ExecRejected ExecutionStatus = "rejected"
)

// ExecutionResult is what an ArbitrageExecutor returns for one submitted leg.
type ExecutionResult struct {
	OrderID      string
	FilledSize   decimal.Decimal
	AveragePrice decimal.Decimal
	Status       ExecutionStatus
}
