// Package governor observes per-event ingress latency and scales the
// subscription manager's total subscription breadth to keep p95/p99 within
// budget. It never touches connections itself — it only emits scaling
// requests for the subscription manager to act on, the same separation of
// concerns the teacher's risk.Manager keeps between detecting a breach and
// the engine acting on the resulting KillSignal.
package governor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"arbcore/internal/config"
)

// Direction is the scaling action a Decision requests.
type Direction string

const (
	ScaleUp   Direction = "scale_up"
	ScaleDown Direction = "scale_down"
)

// Decision is a scaling request the subscription manager should act on.
type Decision struct {
	Direction Direction
	Delta     int
	P95       time.Duration
	P99       time.Duration
}

type sample struct {
	latency time.Duration
	at      time.Time
}

// Governor maintains rolling latency windows and applies the scale control
// law on each evaluation tick.
type Governor struct {
	cfg    config.GovernorConfig
	logger *slog.Logger

	mu      sync.Mutex
	samples []sample

	stableStreak int
	hotStreak    int
	current      int

	latencyCh chan time.Duration
	decisions chan Decision
}

// New builds a governor starting from an initial subscription count.
func New(cfg config.GovernorConfig, initialSubscriptions int, logger *slog.Logger) *Governor {
	return &Governor{
		cfg:       cfg,
		logger:    logger.With("component", "governor"),
		current:   initialSubscriptions,
		latencyCh: make(chan time.Duration, 1024),
		decisions: make(chan Decision, 16),
	}
}

// Observe records one event's ingress latency (non-blocking; drops under
// back-pressure rather than stalling the caller).
func (g *Governor) Observe(latency time.Duration) {
	select {
	case g.latencyCh <- latency:
	default:
	}
}

// Decisions returns the channel the subscription manager reads scaling
// requests from.
func (g *Governor) Decisions() <-chan Decision {
	return g.decisions
}

// Run drains observed latencies into the rolling window and evaluates the
// scale control law every EvalInterval. Blocks until ctx is cancelled.
func (g *Governor) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.EvalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case lat := <-g.latencyCh:
			g.record(lat)
		case <-ticker.C:
			g.evaluate()
		}
	}
}

func (g *Governor) record(lat time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.samples = append(g.samples, sample{latency: lat, at: time.Now()})
}

func (g *Governor) evaluate() {
	p50, p95, p99, ok := g.percentiles()
	if !ok {
		return
	}

	target := g.cfg.TargetP95
	stableThreshold := time.Duration(float64(target) * (1 - g.cfg.Hysteresis))

	switch {
	case p95 > target || p99 > g.cfg.MaxP99:
		g.stableStreak = 0
		g.hotStreak++
		if g.hotStreak >= g.cfg.HotCycles {
			g.scaleDown(p95, p99)
			g.hotStreak = 0
		}
	case p95 < stableThreshold:
		g.hotStreak = 0
		g.stableStreak++
		if g.stableStreak >= g.cfg.StableCycles {
			g.scaleUp(p95, p99)
			g.stableStreak = 0
		}
	default:
		g.stableStreak = 0
		g.hotStreak = 0
	}

	_ = p50
}

func (g *Governor) scaleUp(p95, p99 time.Duration) {
	next := g.current + g.cfg.StepUp
	if g.cfg.MaxSubscriptions > 0 && next > g.cfg.MaxSubscriptions {
		next = g.cfg.MaxSubscriptions
	}
	if next == g.current {
		return
	}
	delta := next - g.current
	g.current = next
	g.emit(Decision{Direction: ScaleUp, Delta: delta, P95: p95, P99: p99})
}

func (g *Governor) scaleDown(p95, p99 time.Duration) {
	next := g.current - g.cfg.StepDown
	if next < g.cfg.MinSubscriptions {
		next = g.cfg.MinSubscriptions
	}
	if next == g.current {
		return
	}
	delta := g.current - next
	g.current = next
	g.emit(Decision{Direction: ScaleDown, Delta: delta, P95: p95, P99: p99})
}

func (g *Governor) emit(d Decision) {
	g.logger.Info("scaling decision", "direction", d.Direction, "delta", d.Delta, "p95", d.P95, "p99", d.P99)
	select {
	case g.decisions <- d:
	default:
		g.logger.Warn("decisions channel full, dropping scaling decision")
	}
}

// percentiles computes p50/p95/p99 over samples within window_secs,
// pruning anything older in the same pass.
func (g *Governor) percentiles() (p50, p95, p99 time.Duration, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := time.Now().Add(-time.Duration(g.cfg.WindowSecs) * time.Second)
	kept := g.samples[:0]
	for _, s := range g.samples {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	g.samples = kept

	if len(g.samples) == 0 {
		return 0, 0, 0, false
	}

	latencies := make([]time.Duration, len(g.samples))
	for i, s := range g.samples {
		latencies[i] = s.latency
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	return percentile(latencies, 0.50), percentile(latencies, 0.95), percentile(latencies, 0.99), true
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
