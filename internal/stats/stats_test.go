package stats

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"arbcore/internal/types"
)

func newMockRecorder(t *testing.T) (*Recorder, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}

	return &Recorder{db: gormDB}, mock
}

func TestRecordDetectionInsertsRow(t *testing.T) {
	t.Parallel()
	r, mock := newMockRecorder(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `opportunity_records`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	opp := types.Opportunity{
		ID:             "opp-1",
		Strategy:       "single_condition",
		MarketIDs:      []types.MarketId{"m1"},
		Edge:           decimal.NewFromFloat(0.03),
		ExpectedProfit: decimal.NewFromFloat(12.5),
		DetectedAt:     time.Now(),
	}

	if err := r.RecordDetection(opp); err != nil {
		t.Fatalf("RecordDetection: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRecordExecutionUpdatesRow(t *testing.T) {
	t.Parallel()
	r, mock := newMockRecorder(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `opportunity_records`").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := r.RecordExecution("opp-1", types.ExecFilled, decimal.NewFromFloat(9.75))
	if err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCountByStrategy(t *testing.T) {
	t.Parallel()
	r, mock := newMockRecorder(t)

	rows := sqlmock.NewRows([]string{"count"}).AddRow(3)
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `opportunity_records`").WillReturnRows(rows)

	count, err := r.CountByStrategy("single_condition")
	if err != nil {
		t.Fatalf("CountByStrategy: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
}

func TestJoinMarketIDs(t *testing.T) {
	t.Parallel()
	got := joinMarketIDs([]types.MarketId{"a", "b", "c"})
	if got != "a,b,c" {
		t.Errorf("joinMarketIDs = %q, want a,b,c", got)
	}
	if joinMarketIDs(nil) != "" {
		t.Errorf("joinMarketIDs(nil) should be empty string")
	}
}

func TestOpportunityRecordTableName(t *testing.T) {
	t.Parallel()
	if (OpportunityRecord{}).TableName() != "opportunity_records" {
		t.Errorf("TableName() = %q, want opportunity_records", (OpportunityRecord{}).TableName())
	}
}
