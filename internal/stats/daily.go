package stats

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"arbcore/internal/types"
)

// dateKey truncates a timestamp to its UTC calendar date, the upsert key
// every daily/strategy-daily row is keyed on.
func dateKey(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DailyStats is the per-day row aggregating detection/execution counters
// across every strategy.
type DailyStats struct {
	Date                  time.Time `gorm:"primaryKey"`
	OpportunitiesDetected int64     `gorm:"not null;default:0"`
	OpportunitiesExecuted int64     `gorm:"not null;default:0"`
	OpportunitiesRejected int64     `gorm:"not null;default:0"`
	Wins                  int64     `gorm:"not null;default:0"`
	Losses                int64     `gorm:"not null;default:0"`
	RealizedProfit        string    `gorm:"not null;default:'0';size:64"`
}

func (DailyStats) TableName() string { return "daily_stats" }

// StrategyDailyStats is DailyStats broken out per strategy.
type StrategyDailyStats struct {
	Date                  time.Time `gorm:"primaryKey"`
	Strategy              string    `gorm:"primaryKey;size:32"`
	OpportunitiesDetected int64     `gorm:"not null;default:0"`
	OpportunitiesExecuted int64     `gorm:"not null;default:0"`
	OpportunitiesRejected int64     `gorm:"not null;default:0"`
	Wins                  int64     `gorm:"not null;default:0"`
	Losses                int64     `gorm:"not null;default:0"`
	RealizedProfit        string    `gorm:"not null;default:'0';size:64"`
}

func (StrategyDailyStats) TableName() string { return "strategy_daily_stats" }

// TradeRecord is one append-only row per execution attempt, open through
// close; RecordTradeOpen inserts it, RecordTradeClose updates the same row.
type TradeRecord struct {
	ID             uint       `gorm:"primaryKey;autoIncrement"`
	PositionID     string     `gorm:"index;not null;size:64"`
	OpportunityID  string     `gorm:"index;not null;size:64"`
	Strategy       string     `gorm:"not null;size:32"`
	Status         string     `gorm:"not null;size:16"`
	RealizedProfit string     `gorm:"size:64"`
	OpenedAt       time.Time  `gorm:"not null"`
	ClosedAt       *time.Time `gorm:"index"`
}

func (TradeRecord) TableName() string { return "trades" }

func (r *Recorder) migrateDaily() error {
	return r.db.AutoMigrate(&DailyStats{}, &StrategyDailyStats{}, &TradeRecord{})
}

// upsertCounters applies an upsert-on-conflict increment to daily_stats and
// strategy_daily_stats for the given date/strategy, per spec.md §4.12's
// "(date)" and "(date,strategy)" upsert-key requirement.
func (r *Recorder) upsertCounters(at time.Time, strategy types.StrategyName, detected, executed, rejected, wins, losses int64, profitDelta decimal.Decimal) error {
	date := dateKey(at)

	daily := DailyStats{
		Date:                  date,
		OpportunitiesDetected: detected,
		OpportunitiesExecuted: executed,
		OpportunitiesRejected: rejected,
		Wins:                  wins,
		Losses:                losses,
		RealizedProfit:        profitDelta.String(),
	}
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"opportunities_detected": gorm.Expr("opportunities_detected + ?", detected),
			"opportunities_executed": gorm.Expr("opportunities_executed + ?", executed),
			"opportunities_rejected": gorm.Expr("opportunities_rejected + ?", rejected),
			"wins":                   gorm.Expr("wins + ?", wins),
			"losses":                 gorm.Expr("losses + ?", losses),
			"realized_profit":        gorm.Expr("CAST(realized_profit AS DECIMAL(38,18)) + CAST(? AS DECIMAL(38,18))", profitDelta.String()),
		}),
	}).Create(&daily).Error; err != nil {
		return fmt.Errorf("upsert daily_stats: %w", err)
	}

	strategyDaily := StrategyDailyStats{
		Date:                  date,
		Strategy:              string(strategy),
		OpportunitiesDetected: detected,
		OpportunitiesExecuted: executed,
		OpportunitiesRejected: rejected,
		Wins:                  wins,
		Losses:                losses,
		RealizedProfit:        profitDelta.String(),
	}
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}, {Name: "strategy"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"opportunities_detected": gorm.Expr("opportunities_detected + ?", detected),
			"opportunities_executed": gorm.Expr("opportunities_executed + ?", executed),
			"opportunities_rejected": gorm.Expr("opportunities_rejected + ?", rejected),
			"wins":                   gorm.Expr("wins + ?", wins),
			"losses":                 gorm.Expr("losses + ?", losses),
			"realized_profit":        gorm.Expr("CAST(realized_profit AS DECIMAL(38,18)) + CAST(? AS DECIMAL(38,18))", profitDelta.String()),
		}),
	}).Create(&strategyDaily).Error; err != nil {
		return fmt.Errorf("upsert strategy_daily_stats: %w", err)
	}
	return nil
}

// RecordDetectionCounters increments opportunities_detected in both the
// daily and per-strategy-daily rows. Call alongside RecordDetection, which
// owns the append-only opportunities row.
func (r *Recorder) RecordDetectionCounters(strategy types.StrategyName, at time.Time) error {
	return r.upsertCounters(at, strategy, 1, 0, 0, 0, 0, decimal.Zero)
}

// RecordExecutionCounters increments executed/rejected counters and, when
// the outcome is known, win/loss and realized-profit accumulators.
func (r *Recorder) RecordExecutionCounters(strategy types.StrategyName, at time.Time, executed bool, realizedProfit *decimal.Decimal) error {
	var execCount, rejCount, wins, losses int64
	profit := decimal.Zero
	if executed {
		execCount = 1
	} else {
		rejCount = 1
	}
	if realizedProfit != nil {
		profit = *realizedProfit
		if profit.IsPositive() {
			wins = 1
		} else if profit.IsNegative() {
			losses = 1
		}
	}
	return r.upsertCounters(at, strategy, 0, execCount, rejCount, wins, losses, profit)
}

// RecordTradeOpen inserts a new open trade row.
func (r *Recorder) RecordTradeOpen(positionID types.PositionId, opportunityID types.OpportunityId, strategy types.StrategyName, openedAt time.Time) error {
	trade := TradeRecord{
		PositionID:    string(positionID),
		OpportunityID: string(opportunityID),
		Strategy:      string(strategy),
		Status:        string(types.PositionOpen),
		OpenedAt:      openedAt,
	}
	if err := r.db.Create(&trade).Error; err != nil {
		return fmt.Errorf("record trade open: %w", err)
	}
	return nil
}

// RecordTradeClose updates the trade row for positionID with its final
// status, realized profit and close time.
func (r *Recorder) RecordTradeClose(positionID types.PositionId, status types.PositionStatus, realizedProfit decimal.Decimal, closedAt time.Time) error {
	result := r.db.Model(&TradeRecord{}).
		Where("position_id = ?", string(positionID)).
		Updates(map[string]any{
			"status":          string(status),
			"realized_profit": realizedProfit.String(),
			"closed_at":       closedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("record trade close: %w", result.Error)
	}
	return nil
}

// Summary is the aggregate returned by SummaryForRange/SummaryForToday.
// WinRate is wins/(wins+losses); Undefined is true when that denominator is
// zero, per spec.md §4.12 ("Win-rate ... undefined" when no decided trades
// exist yet).
type Summary struct {
	OpportunitiesDetected int64
	OpportunitiesExecuted int64
	OpportunitiesRejected int64
	Wins                  int64
	Losses                int64
	RealizedProfit        decimal.Decimal
	WinRate               float64
	WinRateUndefined      bool
}

// SummaryForRange aggregates daily_stats rows with Date in [from,to]
// inclusive.
func (r *Recorder) SummaryForRange(from, to time.Time) (Summary, error) {
	var rows []DailyStats
	if err := r.db.Where("date BETWEEN ? AND ?", dateKey(from), dateKey(to)).Find(&rows).Error; err != nil {
		return Summary{}, fmt.Errorf("summary for range: %w", err)
	}
	return summarize(rows), nil
}

// SummaryForToday aggregates today's daily_stats row (UTC calendar day).
func (r *Recorder) SummaryForToday() (Summary, error) {
	return r.SummaryForRange(time.Now(), time.Now())
}

func summarize(rows []DailyStats) Summary {
	var s Summary
	profit := decimal.Zero
	for _, row := range rows {
		s.OpportunitiesDetected += row.OpportunitiesDetected
		s.OpportunitiesExecuted += row.OpportunitiesExecuted
		s.OpportunitiesRejected += row.OpportunitiesRejected
		s.Wins += row.Wins
		s.Losses += row.Losses
		if d, err := decimal.NewFromString(row.RealizedProfit); err == nil {
			profit = profit.Add(d)
		}
	}
	s.RealizedProfit = profit
	denom := s.Wins + s.Losses
	if denom == 0 {
		s.WinRateUndefined = true
	} else {
		s.WinRate = float64(s.Wins) / float64(denom)
	}
	return s
}
