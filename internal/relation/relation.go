// Package relation holds currently-valid logical relations between markets
// (MutuallyExclusive/ExactlyOne, as inferred by an external LLM collaborator)
// and the cluster graph they imply. Clusters are derived, never declared: a
// union-find pass over all valid relations recomputes them on every upsert
// or expiry prune.
package relation

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"arbcore/internal/types"
)

// Persister durably records relation/cluster lifecycle events. A nil
// Persister leaves the cache exactly as before: in-memory only.
type Persister interface {
	RecordRelationUpsert(r types.Relation) error
	RecordClusterSnapshot(clusters []types.Cluster) error
}

// Cache is a read-mostly, single-writer relation/cluster store.
type Cache struct {
	mu            sync.RWMutex
	minConfidence float64
	persist       Persister

	relations map[types.RelationId]types.Relation
	clusters  map[types.ClusterId]types.Cluster
	byMarket  map[types.MarketId]types.ClusterId
}

// New builds an empty cache gating relation validity at minConfidence.
func New(minConfidence float64) *Cache {
	return &Cache{
		minConfidence: minConfidence,
		relations:     make(map[types.RelationId]types.Relation),
		clusters:      make(map[types.ClusterId]types.Cluster),
		byMarket:      make(map[types.MarketId]types.ClusterId),
	}
}

// SetPersister attaches a durable sink for relation upserts and cluster
// recomputations. Called once during wiring, before the cache sees traffic.
func (c *Cache) SetPersister(p Persister) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persist = p
}

// Upsert inserts or replaces a relation and recomputes the cluster graph.
func (c *Cache) Upsert(r types.Relation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.relations[r.ID] = r
	if c.persist != nil {
		if err := c.persist.RecordRelationUpsert(r); err != nil {
			slog.Error("record relation upsert", "relation", r.ID, "error", err)
		}
	}
	c.recompute()
}

// PruneExpired drops every relation that has expired as of now and
// recomputes the cluster graph. After this call no cluster references an
// expired relation.
func (c *Cache) PruneExpired(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, r := range c.relations {
		if !now.Before(r.ExpiresAt) {
			delete(c.relations, id)
		}
	}
	c.recompute()
}

// ClusterOf returns the cluster id a market currently belongs to, if any.
func (c *Cache) ClusterOf(market types.MarketId) (types.ClusterId, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byMarket[market]
	return id, ok
}

// ClusterFor returns the cluster a market belongs to, if any.
func (c *Cache) ClusterFor(market types.MarketId) (types.Cluster, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byMarket[market]
	if !ok {
		return types.Cluster{}, false
	}
	cl, ok := c.clusters[id]
	return cl, ok
}

// All returns every currently derived cluster, for the control surface's
// cluster-view endpoint.
func (c *Cache) All() []types.Cluster {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Cluster, 0, len(c.clusters))
	for _, cl := range c.clusters {
		out = append(out, cl)
	}
	return out
}

// recompute rebuilds the cluster graph from scratch via union-find over
// every relation that is still valid (unexpired and above the confidence
// floor). Callers must hold c.mu for writing.
func (c *Cache) recompute() {
	now := time.Now()
	uf := newUnionFind()

	relationsByMarket := make(map[types.MarketId][]types.RelationId)
	for id, r := range c.relations {
		if !r.Valid(now, c.minConfidence) {
			continue
		}
		for _, m := range r.Markets {
			uf.add(m)
			relationsByMarket[m] = append(relationsByMarket[m], id)
		}
		for i := 1; i < len(r.Markets); i++ {
			uf.union(r.Markets[0], r.Markets[i])
		}
	}

	groups := uf.groups()
	clusters := make(map[types.ClusterId]types.Cluster, len(groups))
	byMarket := make(map[types.MarketId]types.ClusterId, len(groups))

	for root, members := range groups {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })

		relSet := make(map[types.RelationId]struct{})
		for _, m := range members {
			for _, rid := range relationsByMarket[m] {
				relSet[rid] = struct{}{}
			}
		}
		relations := make([]types.RelationId, 0, len(relSet))
		for rid := range relSet {
			relations = append(relations, rid)
		}
		sort.Slice(relations, func(i, j int) bool { return relations[i] < relations[j] })

		cid := types.ClusterId(root)
		cl := types.Cluster{
			ID:        cid,
			Markets:   members,
			Relations: relations,
		}
		clusters[cid] = cl
		for _, m := range members {
			byMarket[m] = cid
		}
	}

	c.clusters = clusters
	c.byMarket = byMarket

	if c.persist != nil {
		snapshot := make([]types.Cluster, 0, len(clusters))
		for _, cl := range clusters {
			snapshot = append(snapshot, cl)
		}
		if err := c.persist.RecordClusterSnapshot(snapshot); err != nil {
			slog.Error("record cluster snapshot", "error", err)
		}
	}
}

// unionFind is a standard disjoint-set structure over market ids, used only
// to derive connected components during recompute; it holds no state
// between calls.
type unionFind struct {
	parent map[types.MarketId]types.MarketId
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[types.MarketId]types.MarketId)}
}

func (u *unionFind) add(m types.MarketId) {
	if _, ok := u.parent[m]; !ok {
		u.parent[m] = m
	}
}

func (u *unionFind) find(m types.MarketId) types.MarketId {
	root := m
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[m] != root {
		u.parent[m], m = root, u.parent[m]
	}
	return root
}

func (u *unionFind) union(a, b types.MarketId) {
	u.add(a)
	u.add(b)
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[ra] = rb
	}
}

func (u *unionFind) groups() map[types.MarketId][]types.MarketId {
	out := make(map[types.MarketId][]types.MarketId)
	for m := range u.parent {
		root := u.find(m)
		out[root] = append(out[root], m)
	}
	return out
}
