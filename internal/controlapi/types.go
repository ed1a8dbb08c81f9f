// Package controlapi exposes the orchestrator's runtime state and control
// operations over HTTP and pushes live events over WebSocket, the same role
// the teacher's internal/api dashboard server played for its market-making
// bot, generalized from a single-strategy P&L view to opportunity/position/
// cluster snapshots.
package controlapi

import (
	"time"

	"arbcore/internal/notifier"
	"arbcore/internal/position"
	"arbcore/internal/relation"
	"arbcore/internal/risk"
	"arbcore/internal/types"
)

// StatusProvider is the narrow read surface the control API needs from the
// orchestrator, kept separate from orchestrator.Orchestrator so handlers can
// be tested against a fake.
type StatusProvider interface {
	RuntimeStats() types.RuntimeStats
	PoolStats() types.PoolStats
	Positions() *position.Store
	RiskManager() *risk.Manager
	Relations() *relation.Cache
	Notifier() *notifier.Registry
}

// Snapshot is the full point-in-time view served by GET /api/snapshot and
// pushed to every WebSocket client on connect.
type Snapshot struct {
	Timestamp time.Time              `json:"timestamp"`
	Runtime   types.RuntimeStats     `json:"runtime"`
	Pool      types.PoolStats        `json:"pool"`
	Risk      risk.Snapshot          `json:"risk"`
	Positions types.PositionSnapshot `json:"positions"`
	Clusters  []ClusterView          `json:"clusters"`
}

// ClusterView is the JSON shape of one derived cluster.
type ClusterView struct {
	ID        string   `json:"id"`
	Markets   []string `json:"markets"`
	Relations []string `json:"relations"`
}

// BuildSnapshot aggregates every subsystem's current state into a Snapshot.
func BuildSnapshot(p StatusProvider) Snapshot {
	posSnap, _ := p.Positions().Snapshot()

	clusters := p.Relations().All()
	views := make([]ClusterView, 0, len(clusters))
	for _, c := range clusters {
		markets := make([]string, 0, len(c.Markets))
		for _, m := range c.Markets {
			markets = append(markets, string(m))
		}
		relations := make([]string, 0, len(c.Relations))
		for _, r := range c.Relations {
			relations = append(relations, string(r))
		}
		views = append(views, ClusterView{ID: string(c.ID), Markets: markets, Relations: relations})
	}

	return Snapshot{
		Timestamp: time.Now(),
		Runtime:   p.RuntimeStats(),
		Pool:      p.PoolStats(),
		Risk:      p.RiskManager().Snapshot(),
		Positions: posSnap,
		Clusters:  views,
	}
}
