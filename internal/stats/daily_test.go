package stats

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"arbcore/internal/types"
)

func TestRecordDetectionCountersUpsertsBothTables(t *testing.T) {
	t.Parallel()
	r, mock := newMockRecorder(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `daily_stats`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `strategy_daily_stats`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := r.RecordDetectionCounters("single_condition", time.Now()); err != nil {
		t.Fatalf("RecordDetectionCounters: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRecordExecutionCountersTallyWinsAndLosses(t *testing.T) {
	t.Parallel()
	r, mock := newMockRecorder(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `daily_stats`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `strategy_daily_stats`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	profit := decimal.NewFromFloat(4.25)
	err := r.RecordExecutionCounters("combinatorial", time.Now(), true, &profit)
	if err != nil {
		t.Fatalf("RecordExecutionCounters: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRecordTradeOpenAndClose(t *testing.T) {
	t.Parallel()
	r, mock := newMockRecorder(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `trades`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := r.RecordTradeOpen("pos-1", "opp-1", "single_condition", time.Now()); err != nil {
		t.Fatalf("RecordTradeOpen: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `trades`").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := r.RecordTradeClose("pos-1", types.PositionClosed, decimal.NewFromFloat(3.1), time.Now())
	if err != nil {
		t.Fatalf("RecordTradeClose: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSummaryForRangeWinRateUndefinedWithNoDecidedTrades(t *testing.T) {
	t.Parallel()
	r, mock := newMockRecorder(t)

	rows := sqlmock.NewRows([]string{"date", "opportunities_detected", "opportunities_executed", "opportunities_rejected", "wins", "losses", "realized_profit"}).
		AddRow(dateKey(time.Now()), 5, 2, 3, 0, 0, "0")
	mock.ExpectQuery("SELECT \\* FROM `daily_stats`").WillReturnRows(rows)

	summary, err := r.SummaryForToday()
	if err != nil {
		t.Fatalf("SummaryForToday: %v", err)
	}
	if !summary.WinRateUndefined {
		t.Fatal("win rate should be undefined when wins+losses == 0")
	}
	if summary.OpportunitiesDetected != 5 {
		t.Fatalf("OpportunitiesDetected = %d, want 5", summary.OpportunitiesDetected)
	}
}

func TestSummaryForRangeComputesWinRate(t *testing.T) {
	t.Parallel()
	r, mock := newMockRecorder(t)

	rows := sqlmock.NewRows([]string{"date", "opportunities_detected", "opportunities_executed", "opportunities_rejected", "wins", "losses", "realized_profit"}).
		AddRow(dateKey(time.Now().AddDate(0, 0, -1)), 10, 6, 4, 3, 1, "12.50").
		AddRow(dateKey(time.Now()), 8, 5, 3, 2, 2, "-1.25")
	mock.ExpectQuery("SELECT \\* FROM `daily_stats`").WillReturnRows(rows)

	summary, err := r.SummaryForRange(time.Now().AddDate(0, 0, -1), time.Now())
	if err != nil {
		t.Fatalf("SummaryForRange: %v", err)
	}
	if summary.WinRateUndefined {
		t.Fatal("win rate should be defined: 5 wins + 3 losses")
	}
	wantRate := 5.0 / 8.0
	if summary.WinRate != wantRate {
		t.Errorf("WinRate = %v, want %v", summary.WinRate, wantRate)
	}
	wantProfit := decimal.NewFromFloat(12.50).Sub(decimal.NewFromFloat(1.25))
	if !summary.RealizedProfit.Equal(wantProfit) {
		t.Errorf("RealizedProfit = %v, want %v", summary.RealizedProfit, wantProfit)
	}
}

func TestDailyStatsTableNames(t *testing.T) {
	t.Parallel()
	if (DailyStats{}).TableName() != "daily_stats" {
		t.Errorf("DailyStats.TableName() = %q", (DailyStats{}).TableName())
	}
	if (StrategyDailyStats{}).TableName() != "strategy_daily_stats" {
		t.Errorf("StrategyDailyStats.TableName() = %q", (StrategyDailyStats{}).TableName())
	}
	if (TradeRecord{}).TableName() != "trades" {
		t.Errorf("TradeRecord.TableName() = %q", (TradeRecord{}).TableName())
	}
}
