// Package risk is the pre-trade gate invoked synchronously before execution.
// It checks, in order, the process-wide circuit breaker, per-market and
// total exposure headroom, and the minimum-profit floor; and separately
// owns the circuit breaker itself, which trips manually (Activate) or
// automatically on repeated execution failures. Nothing trips it on
// exchange-connection events.
package risk

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"arbcore/internal/config"
	"arbcore/internal/types"
)

var errExecutionFailed = errors.New("execution failed")

// Decision is the outcome of a risk-gate evaluation.
type Decision struct {
	Approved bool
	Reason   string
}

// Manager enforces exposure and profit gates and owns the circuit breaker.
// Exposure aggregation mirrors the teacher's risk.Manager (per-market +
// global totals recomputed on every report), generalized from YES/NO
// inventory to an opportunity-notional model.
type Manager struct {
	cfg    config.RiskConfig
	logger *slog.Logger

	mu             sync.RWMutex
	marketExposure map[types.MarketId]float64
	totalExposure  float64

	breaker *gobreaker.CircuitBreaker[struct{}]

	mu2           sync.Mutex
	manualTripped bool
	manualReason  string
}

// NewManager builds a risk gate. The circuit breaker trips automatically
// after 5 consecutive failures within a 1-minute window and half-opens
// after CooldownAfterTrip.
func NewManager(cfg config.RiskConfig, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:            cfg,
		logger:         logger.With("component", "risk"),
		marketExposure: make(map[types.MarketId]float64),
	}

	settings := gobreaker.Settings{
		Name:        "execution",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.CooldownAfterTrip,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.logger.Warn("circuit breaker state change", "from", from.String(), "to", to.String())
		},
	}
	m.breaker = gobreaker.NewCircuitBreaker[struct{}](settings)
	return m
}

// RecordExecutionResult feeds an execution outcome to the breaker so
// repeated failures trip it automatically.
func (m *Manager) RecordExecutionResult(success bool) {
	_, _ = m.breaker.Execute(func() (struct{}, error) {
		if !success {
			return struct{}{}, errExecutionFailed
		}
		return struct{}{}, nil
	})
}

// Activate manually trips the circuit breaker with a reason (e.g. an
// operator command via the control surface).
func (m *Manager) Activate(reason string) {
	m.mu2.Lock()
	defer m.mu2.Unlock()
	m.manualTripped = true
	m.manualReason = reason
	m.logger.Error("circuit breaker manually activated", "reason", reason)
}

// Reset clears a manual trip. The automatic gobreaker state still governs
// independently and resets on its own timeout.
func (m *Manager) Reset() {
	m.mu2.Lock()
	defer m.mu2.Unlock()
	m.manualTripped = false
	m.manualReason = ""
}

// IsCircuitBreakerActive reports whether the breaker is open, manually or
// automatically, along with the reason if any.
func (m *Manager) IsCircuitBreakerActive() (bool, string) {
	m.mu2.Lock()
	manual := m.manualTripped
	reason := m.manualReason
	m.mu2.Unlock()
	if manual {
		return true, reason
	}
	if m.breaker.State() == gobreaker.StateOpen {
		return true, "automatic: consecutive execution failures"
	}
	return false, ""
}

// Snapshot reports the current exposure and circuit-breaker state,
// consumed by the control surface's status endpoint the same way the
// teacher's GetRiskSnapshot fed the dashboard.
type Snapshot struct {
	TotalExposure        float64
	MaxTotalExposure     float64
	MaxPositionPerMarket float64
	MinProfitThreshold   float64
	CircuitBreakerActive bool
	CircuitBreakerReason string
}

// Snapshot builds a Snapshot of the manager's current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	total := m.totalExposure
	m.mu.RUnlock()
	active, reason := m.IsCircuitBreakerActive()
	return Snapshot{
		TotalExposure:        total,
		MaxTotalExposure:     m.cfg.MaxTotalExposure,
		MaxPositionPerMarket: m.cfg.MaxPositionPerMarket,
		MinProfitThreshold:   m.cfg.MinProfitThreshold,
		CircuitBreakerActive: active,
		CircuitBreakerReason: reason,
	}
}

// SetLimit updates one of the configured risk limits at runtime, for the
// control surface's set_risk_limit operation. Unknown names are a no-op.
func (m *Manager) SetLimit(name string, value float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch name {
	case "max_position_per_market":
		m.cfg.MaxPositionPerMarket = value
	case "max_total_exposure":
		m.cfg.MaxTotalExposure = value
	case "min_profit_threshold":
		m.cfg.MinProfitThreshold = value
	default:
		return false
	}
	return true
}

// SetExposure updates the live exposure for a market (called after every
// fill/close), recomputing the aggregate total.
func (m *Manager) SetExposure(market types.MarketId, usd float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marketExposure[market] = usd
	total := 0.0
	for _, v := range m.marketExposure {
		total += v
	}
	m.totalExposure = total
}

// Evaluate runs the ordered gate checks against a candidate opportunity's
// notional exposure and expected profit.
func (m *Manager) Evaluate(market types.MarketId, notionalUSD, expectedProfitUSD float64) Decision {
	if active, reason := m.IsCircuitBreakerActive(); active {
		return Decision{Approved: false, Reason: "CircuitBreakerActive: " + reason}
	}

	m.mu.RLock()
	currentMarket := m.marketExposure[market]
	currentTotal := m.totalExposure
	m.mu.RUnlock()

	if currentMarket+notionalUSD > m.cfg.MaxPositionPerMarket {
		return Decision{Approved: false, Reason: "ExposureExceeded: per-market limit"}
	}
	if currentTotal+notionalUSD > m.cfg.MaxTotalExposure {
		return Decision{Approved: false, Reason: "ExposureExceeded: total limit"}
	}
	if expectedProfitUSD < m.cfg.MinProfitThreshold {
		return Decision{Approved: false, Reason: "InsufficientProfit"}
	}
	return Decision{Approved: true}
}
