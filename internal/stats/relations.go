package stats

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"arbcore/internal/types"
)

// RelationRecord is the durable row for one inferred logical relation,
// upserted on every relation.Cache.Upsert call.
type RelationRecord struct {
	ID         string    `gorm:"primaryKey;size:128"`
	Kind       string    `gorm:"not null;size:32"`
	MarketIDs  string    `gorm:"not null;size:512;comment:comma-joined market ids"`
	Confidence float64   `gorm:"not null"`
	Reasoning  string    `gorm:"size:1024"`
	InferredAt time.Time `gorm:"not null"`
	ExpiresAt  time.Time `gorm:"index;not null"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (RelationRecord) TableName() string { return "relations" }

// ClusterRecord is the durable row for one derived cluster, replaced wholesale
// on every relation.Cache recompute since membership has no independent
// identity across recomputations beyond its id.
type ClusterRecord struct {
	ID          string    `gorm:"primaryKey;size:128"`
	MarketIDs   string    `gorm:"not null;size:512;comment:comma-joined market ids"`
	RelationIDs string    `gorm:"not null;size:1024;comment:comma-joined relation ids"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (ClusterRecord) TableName() string { return "clusters" }

func (r *Recorder) migrateRelations() error {
	return r.db.AutoMigrate(&RelationRecord{}, &ClusterRecord{})
}

// RecordRelationUpsert upserts a relation row, implementing
// relation.Persister so internal/relation can stay storage-agnostic.
func (r *Recorder) RecordRelationUpsert(rel types.Relation) error {
	record := RelationRecord{
		ID:         string(rel.ID),
		Kind:       string(rel.Kind),
		MarketIDs:  joinMarketIDs(rel.Markets),
		Confidence: rel.Confidence,
		Reasoning:  rel.Reasoning,
		InferredAt: rel.InferredAt,
		ExpiresAt:  rel.ExpiresAt,
	}
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"kind", "market_ids", "confidence", "reasoning", "inferred_at", "expires_at",
		}),
	}).Create(&record).Error; err != nil {
		return fmt.Errorf("upsert relation: %w", err)
	}
	return nil
}

// RecordClusterSnapshot replaces the clusters table's contents with the
// currently derived cluster graph. Clusters are recomputed from scratch on
// every relation upsert/expiry, so there is no per-cluster update history
// worth keeping: the table always reflects the latest derivation.
func (r *Recorder) RecordClusterSnapshot(clusters []types.Cluster) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&ClusterRecord{}).Error; err != nil {
			return fmt.Errorf("clear clusters: %w", err)
		}
		if len(clusters) == 0 {
			return nil
		}
		records := make([]ClusterRecord, 0, len(clusters))
		for _, cl := range clusters {
			records = append(records, ClusterRecord{
				ID:          string(cl.ID),
				MarketIDs:   joinMarketIDs(cl.Markets),
				RelationIDs: joinRelationIDs(cl.Relations),
			})
		}
		if err := tx.Create(&records).Error; err != nil {
			return fmt.Errorf("insert clusters: %w", err)
		}
		return nil
	})
}

func joinRelationIDs(ids []types.RelationId) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += string(id)
	}
	return out
}
