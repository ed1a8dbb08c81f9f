// Package stats durably records detected and executed opportunities to
// MySQL so profitability can be analyzed after the fact, independent of
// the open/closed position ledger in internal/position.
package stats

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"arbcore/internal/types"
)

// OpportunityRecord is the database row for one detected opportunity.
type OpportunityRecord struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	OpportunityID   string    `gorm:"index;not null;size:64"`
	Strategy        string    `gorm:"index;not null;size:32"`
	MarketIDs       string    `gorm:"not null;size:512;comment:comma-joined market ids"`
	Edge            string    `gorm:"not null;size:64;comment:decimal.Decimal as string"`
	ExpectedProfit  string    `gorm:"not null;size:64;comment:decimal.Decimal as string"`
	DetectedAt      time.Time `gorm:"index;not null"`
	Executed        bool      `gorm:"not null"`
	ExecutionStatus string    `gorm:"size:16"`
	RealizedProfit  string    `gorm:"size:64"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
}

// TableName pins the table name so renames of the Go type don't migrate it.
func (OpportunityRecord) TableName() string {
	return "opportunity_records"
}

// Recorder persists opportunity lifecycle events to MySQL via GORM.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder opens a MySQL connection at dsn and migrates the schema.
func NewRecorder(dsn string) (*Recorder, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to mysql: %w", err)
	}
	if err := db.AutoMigrate(&OpportunityRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	r := &Recorder{db: db}
	if err := r.migrateDaily(); err != nil {
		return nil, err
	}
	if err := r.migrateRelations(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewRecorderWithDB wraps an already-open GORM handle, used by tests with
// a sqlmock-backed connection.
func NewRecorderWithDB(db *gorm.DB) (*Recorder, error) {
	if err := db.AutoMigrate(&OpportunityRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	r := &Recorder{db: db}
	if err := r.migrateDaily(); err != nil {
		return nil, err
	}
	if err := r.migrateRelations(); err != nil {
		return nil, err
	}
	return r, nil
}

// RecordDetection inserts a row for a newly detected opportunity, prior to
// any execution attempt.
func (r *Recorder) RecordDetection(opp types.Opportunity) error {
	record := OpportunityRecord{
		OpportunityID:  string(opp.ID),
		Strategy:       string(opp.Strategy),
		MarketIDs:      joinMarketIDs(opp.MarketIDs),
		Edge:           opp.Edge.String(),
		ExpectedProfit: opp.ExpectedProfit.String(),
		DetectedAt:     opp.DetectedAt,
	}
	if result := r.db.Create(&record); result.Error != nil {
		return fmt.Errorf("record detection: %w", result.Error)
	}
	return nil
}

// RecordExecution updates the row for opportunityID with its final
// execution status and realized profit. No-op (not an error) if the
// opportunity was never recorded as detected.
func (r *Recorder) RecordExecution(opportunityID types.OpportunityId, status types.ExecutionStatus, realizedProfit decimal.Decimal) error {
	result := r.db.Model(&OpportunityRecord{}).
		Where("opportunity_id = ?", string(opportunityID)).
		Updates(map[string]any{
			"executed":         true,
			"execution_status": string(status),
			"realized_profit":  realizedProfit.String(),
		})
	if result.Error != nil {
		return fmt.Errorf("record execution: %w", result.Error)
	}
	return nil
}

// CountByStrategy returns how many opportunities were detected for the
// given strategy name.
func (r *Recorder) CountByStrategy(strategy types.StrategyName) (int64, error) {
	var count int64
	result := r.db.Model(&OpportunityRecord{}).Where("strategy = ?", string(strategy)).Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("count by strategy: %w", result.Error)
	}
	return count, nil
}

// RecentDetections returns the most recently detected opportunities, newest
// first, bounded by limit.
func (r *Recorder) RecentDetections(limit int) ([]OpportunityRecord, error) {
	var records []OpportunityRecord
	result := r.db.Order("detected_at DESC").Limit(limit).Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("recent detections: %w", result.Error)
	}
	return records, nil
}

// Close releases the underlying connection pool.
func (r *Recorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("underlying db: %w", err)
	}
	return sqlDB.Close()
}

func joinMarketIDs(ids []types.MarketId) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += string(id)
	}
	return out
}
