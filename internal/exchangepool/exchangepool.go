// Package exchangepool maintains P parallel exchange WebSocket connections
// ("shards"), each owning a subset of token subscriptions assigned by
// internal/subscription. It generalizes the teacher's single-connection
// WSFeed (internal/exchange/ws.go) to a fleet: every shard runs the same
// connect/read/reconnect loop, but the pool additionally tracks per-shard
// lifecycle state, rotates connections on a TTL, and trips a circuit
// breaker after repeated consecutive failures.
package exchangepool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker/v2"

	"arbcore/internal/types"
)

// State is a shard's lifecycle stage.
type State string

const (
	Connecting  State = "connecting"
	Subscribing State = "subscribing"
	Active      State = "active"
	Rotating    State = "rotating"
	Restarting  State = "restarting"
	Failed      State = "failed"
)

// ConnectionEventKind tags the variants of ConnectionEvent.
type ConnectionEventKind string

const (
	Connected      ConnectionEventKind = "connected"
	Disconnected   ConnectionEventKind = "disconnected"
	ShardUnhealthy ConnectionEventKind = "shard_unhealthy"
	ShardRecovered ConnectionEventKind = "shard_recovered"
)

// ConnectionEvent reports a shard lifecycle transition.
type ConnectionEvent struct {
	ShardID int
	Kind    ConnectionEventKind
	Reason  string
	At      time.Time
}

// Config tunes reconnect backoff, rotation, and health detection.
type Config struct {
	URL                    string
	ShardCount             int
	RotationInterval       time.Duration
	SilenceTimeout         time.Duration
	InitialBackoff         time.Duration
	MaxBackoff             time.Duration
	BackoffMultiplier      float64
	MaxConsecutiveFailures uint32
	CooldownAfterTrip      time.Duration
}

// Pool owns a fleet of shards and fans their decoded events into shared
// output channels.
type Pool struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	shards []*shard

	bookCh        chan types.WSBookEvent
	priceChangeCh chan types.WSPriceChangeEvent
	tickSizeCh    chan types.WSTickSizeChangeEvent
	settledCh     chan types.WSMarketSettledEvent
	eventsCh      chan ConnectionEvent
}

type shard struct {
	id         int
	state      State
	subscribed map[types.TokenId]bool
	mu         sync.Mutex
	conn       *websocket.Conn
	connMu     sync.Mutex
	breaker    *gobreaker.CircuitBreaker[struct{}]
	lastMsgAt  time.Time
	startedAt  time.Time
}

// New builds a pool with the given shard count, unstarted.
func New(cfg Config, logger *slog.Logger) *Pool {
	if cfg.ShardCount < 1 {
		cfg.ShardCount = 1
	}
	p := &Pool{
		cfg:           cfg,
		logger:        logger.With("component", "exchangepool"),
		bookCh:        make(chan types.WSBookEvent, 1024),
		priceChangeCh: make(chan types.WSPriceChangeEvent, 1024),
		tickSizeCh:    make(chan types.WSTickSizeChangeEvent, 256),
		settledCh:     make(chan types.WSMarketSettledEvent, 256),
		eventsCh:      make(chan ConnectionEvent, 256),
	}
	for i := 0; i < cfg.ShardCount; i++ {
		p.shards = append(p.shards, newShard(i, cfg))
	}
	return p
}

func newShard(id int, cfg Config) *shard {
	s := &shard{id: id, state: Connecting, subscribed: make(map[types.TokenId]bool)}
	settings := gobreaker.Settings{
		Name:        fmt.Sprintf("shard-%d", id),
		Timeout:     cfg.CooldownAfterTrip,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return cfg.MaxConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.MaxConsecutiveFailures
		},
	}
	s.breaker = gobreaker.NewCircuitBreaker[struct{}](settings)
	return s
}

// BookEvents, PriceChangeEvents, TickSizeEvents, SettlementEvents and
// ConnectionEvents return the pool's fan-in read-only output channels.
func (p *Pool) BookEvents() <-chan types.WSBookEvent               { return p.bookCh }
func (p *Pool) PriceChangeEvents() <-chan types.WSPriceChangeEvent  { return p.priceChangeCh }
func (p *Pool) TickSizeEvents() <-chan types.WSTickSizeChangeEvent  { return p.tickSizeCh }
func (p *Pool) SettlementEvents() <-chan types.WSMarketSettledEvent { return p.settledCh }
func (p *Pool) ConnectionEvents() <-chan ConnectionEvent            { return p.eventsCh }

// AssignShard sets a token's home shard subscription set, used by the
// subscription manager when (re)partitioning.
func (p *Pool) AssignShard(shardID int, tokens []types.TokenId) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if shardID < 0 || shardID >= len(p.shards) {
		return fmt.Errorf("shard %d out of range", shardID)
	}
	s := p.shards[shardID]
	s.mu.Lock()
	for _, t := range tokens {
		s.subscribed[t] = true
	}
	s.mu.Unlock()
	return p.subscribe(s, tokens)
}

// Run starts every shard's connection loop, each with independent
// reconnect/rotation state. Blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	p.mu.RLock()
	shards := append([]*shard(nil), p.shards...)
	p.mu.RUnlock()

	for _, s := range shards {
		wg.Add(1)
		go func(s *shard) {
			defer wg.Done()
			p.runShard(ctx, s)
		}(s)
	}
	wg.Wait()
}

func (p *Pool) runShard(ctx context.Context, s *shard) {
	backoff := p.cfg.InitialBackoff
	if backoff == 0 {
		backoff = time.Second
	}
	maxBackoff := p.cfg.MaxBackoff
	if maxBackoff == 0 {
		maxBackoff = 30 * time.Second
	}
	mult := p.cfg.BackoffMultiplier
	if mult <= 1 {
		mult = 2
	}

	for {
		if ctx.Err() != nil {
			return
		}

		s.setState(Connecting)
		_, err := s.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, p.connectAndRead(ctx, s)
		})

		if ctx.Err() != nil {
			return
		}

		s.setState(Restarting)
		p.emitEvent(ConnectionEvent{ShardID: s.id, Kind: Disconnected, Reason: errString(err), At: time.Now()})

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * mult)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (p *Pool) connectAndRead(ctx context.Context, s *shard) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial shard %d: %w", s.id, err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.startedAt = time.Now()
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	s.setState(Subscribing)
	s.mu.Lock()
	tokens := make([]types.TokenId, 0, len(s.subscribed))
	for t := range s.subscribed {
		tokens = append(tokens, t)
	}
	s.mu.Unlock()
	if len(tokens) > 0 {
		if err := p.subscribe(s, tokens); err != nil {
			return fmt.Errorf("subscribe shard %d: %w", s.id, err)
		}
	}

	s.setState(Active)
	p.emitEvent(ConnectionEvent{ShardID: s.id, Kind: Connected, At: time.Now()})

	rotateCtx, rotateCancel := context.WithCancel(ctx)
	defer rotateCancel()
	if p.cfg.RotationInterval > 0 {
		go p.rotationTimer(rotateCtx, s)
	}

	silence := p.cfg.SilenceTimeout
	if silence == 0 {
		silence = 90 * time.Second
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(silence))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read shard %d: %w", s.id, err)
		}
		s.mu.Lock()
		s.lastMsgAt = time.Now()
		s.mu.Unlock()
		p.dispatch(msg)
	}
}

// rotationTimer forces a reconnect once RotationInterval elapses by closing
// the shard's current connection, so the read loop returns and runShard
// dials a replacement after its usual backoff. The old connection is closed
// before the new one is dialed: the shard has no live connection in between,
// and the rotation counts as a failed run in the shard's breaker like any
// other disconnect.
func (p *Pool) rotationTimer(ctx context.Context, s *shard) {
	timer := time.NewTimer(p.cfg.RotationInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		s.setState(Rotating)
		s.connMu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.connMu.Unlock()
	}
}

func (p *Pool) subscribe(s *shard, tokens []types.TokenId) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return nil // queued; sent on next connect via s.subscribed
	}
	ids := make([]string, len(tokens))
	for i, t := range tokens {
		ids[i] = string(t)
	}
	msg := types.WSSubscribeMsg{Type: "market", AssetIDs: ids}
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(msg)
}

func (p *Pool) dispatch(data []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		p.logger.Debug("ignoring non-json message")
		return
	}

	switch envelope.EventType {
	case "book":
		var evt types.WSBookEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			p.logger.Error("unmarshal book event", "error", err)
			return
		}
		select {
		case p.bookCh <- evt:
		default:
			p.logger.Warn("book channel full, dropping event")
		}
	case "price_change":
		var evt types.WSPriceChangeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			p.logger.Error("unmarshal price_change event", "error", err)
			return
		}
		select {
		case p.priceChangeCh <- evt:
		default:
			p.logger.Warn("price_change channel full, dropping event")
		}
	case "tick_size_change":
		var evt types.WSTickSizeChangeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			p.logger.Error("unmarshal tick_size_change event", "error", err)
			return
		}
		select {
		case p.tickSizeCh <- evt:
		default:
			p.logger.Warn("tick_size_change channel full, dropping event")
		}
	case "market_resolved":
		var evt types.WSMarketSettledEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			p.logger.Error("unmarshal market_resolved event", "error", err)
			return
		}
		select {
		case p.settledCh <- evt:
		default:
			p.logger.Warn("settlement channel full, dropping event")
		}
	default:
		p.logger.Debug("ignoring event", "type", envelope.EventType)
	}
}

func (p *Pool) emitEvent(e ConnectionEvent) {
	select {
	case p.eventsCh <- e:
	default:
		p.logger.Warn("connection events channel full, dropping event", "shard", e.ShardID, "kind", e.Kind)
	}
}

func (s *shard) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Snapshot returns a point-in-time view of every shard's lifecycle state
// and subscription count, consumed by the control surface's status
// endpoint.
func (p *Pool) Snapshot() types.PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := types.PoolStats{}
	seenTokens := make(map[types.TokenId]struct{})
	for _, s := range p.shards {
		s.mu.Lock()
		if s.state == Active {
			stats.ActiveConnections++
		}
		for t := range s.subscribed {
			seenTokens[t] = struct{}{}
		}
		s.mu.Unlock()
	}
	stats.TokenCount = len(seenTokens)
	return stats
}
