// Package position persists open and closed positions in an embedded
// key-value store so state survives a restart. Open and closed positions
// live under separate key prefixes so a crash-recovery scan can rebuild
// exposure from the open set alone, without touching history — the same
// role the teacher's one-file-per-market JSON store played, but indexed for
// range scans instead of a directory listing.
package position

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/shopspring/decimal"

	"arbcore/internal/types"
)

const (
	prefixOpen   = "o:"
	prefixClosed = "c:"
)

// Store persists positions in a Pebble database.
type Store struct {
	db *pebble.DB
}

// Open opens (creating if absent) a Pebble database at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open position store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func openKey(id types.PositionId) []byte   { return append([]byte(prefixOpen), id...) }
func closedKey(id types.PositionId) []byte { return append([]byte(prefixClosed), id...) }

func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// OpenPosition records a newly opened position.
func (s *Store) OpenPosition(pos types.Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}
	return s.db.Set(openKey(pos.ID), data, pebble.Sync)
}

// ClosePosition moves a position from the open set to the closed set,
// stamping the realized profit and close reason. It is a no-op error if the
// position is not currently open.
func (s *Store) ClosePosition(id types.PositionId, reason types.CloseReason, realizedProfit *decimal.Decimal) error {
	key := openKey(id)
	data, closer, err := s.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return fmt.Errorf("close position %s: %w", id, err)
		}
		return fmt.Errorf("get open position: %w", err)
	}
	var pos types.Position
	unmarshalErr := json.Unmarshal(data, &pos)
	closer.Close()
	if unmarshalErr != nil {
		return fmt.Errorf("unmarshal position: %w", unmarshalErr)
	}

	now := time.Now()
	pos.Status = types.PositionClosed
	pos.CloseReason = &reason
	pos.ClosedAt = &now
	if realizedProfit != nil {
		pos.RealizedProfit = realizedProfit
	}

	out, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshal closed position: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(closedKey(id), out, nil); err != nil {
		return err
	}
	if err := batch.Delete(key, nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

// OnSettlement closes every open position in a settled market, crediting or
// zeroing each leg's payout according to whether its token was the winning
// outcome.
func (s *Store) OnSettlement(marketID types.MarketId, winningTokenID types.TokenId) error {
	open, err := s.LoadOpenPositions()
	if err != nil {
		return err
	}
	for _, pos := range open {
		if !involvesMarket(pos, marketID) {
			continue
		}
		profit := settlementProfit(pos, winningTokenID)
		if err := s.ClosePosition(pos.ID, types.CloseSettled, &profit); err != nil {
			return fmt.Errorf("close settled position %s: %w", pos.ID, err)
		}
	}
	return nil
}

func involvesMarket(pos types.Position, marketID types.MarketId) bool {
	for _, m := range pos.MarketIDs {
		if m == marketID {
			return true
		}
	}
	return false
}

func settlementProfit(pos types.Position, winningToken types.TokenId) decimal.Decimal {
	payout := decimal.Zero
	cost := decimal.Zero
	for _, leg := range pos.Legs {
		cost = cost.Add(leg.Size.Mul(leg.Price))
		if leg.Token == winningToken {
			payout = payout.Add(leg.Size)
		}
	}
	return payout.Sub(cost)
}

// LoadOpenPositions returns every currently open position.
func (s *Store) LoadOpenPositions() ([]types.Position, error) {
	return s.scan([]byte(prefixOpen))
}

// LoadClosedPositions returns every closed position on record.
func (s *Store) LoadClosedPositions() ([]types.Position, error) {
	return s.scan([]byte(prefixClosed))
}

func (s *Store) scan(prefix []byte) ([]types.Position, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("new iter: %w", err)
	}
	defer iter.Close()

	var out []types.Position
	for iter.First(); iter.Valid(); iter.Next() {
		var pos types.Position
		if err := json.Unmarshal(iter.Value(), &pos); err != nil {
			continue
		}
		out = append(out, pos)
	}
	return out, nil
}

// Snapshot aggregates exposure and counts across all open and closed
// positions, read by the control surface's status snapshot.
func (s *Store) Snapshot() (types.PositionSnapshot, error) {
	open, err := s.LoadOpenPositions()
	if err != nil {
		return types.PositionSnapshot{}, err
	}
	closed, err := s.LoadClosedPositions()
	if err != nil {
		return types.PositionSnapshot{}, err
	}

	snap := types.PositionSnapshot{
		OpenCount:        len(open),
		ClosedCount:      len(closed),
		TotalExposureUSD: decimal.Zero,
	}
	for _, pos := range open {
		for _, leg := range pos.Legs {
			snap.TotalExposureUSD = snap.TotalExposureUSD.Add(leg.Size.Mul(leg.Price))
		}
	}
	return snap, nil
}
