package integrity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bostonrobbie/signalbridge/src/database"
	"github.com/bostonrobbie/signalbridge/src/model"
	"github.com/bostonrobbie/signalbridge/src/repository"
)

var testClock = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func newValidator(db *gorm.DB) *Validator {
	v := NewValidator(Config{PnlTolerance: 1e-9, StuckWalAge: 10 * time.Minute}, db)
	v.now = func() time.Time { return testClock }
	return v
}

func seedWal(t *testing.T, db *gorm.DB, correlationID string) *model.WalEntry {
	t.Helper()
	wal := repository.NewWalRepository(db)
	entry := &model.WalEntry{CorrelationID: correlationID, RawPayload: "{}"}
	require.NoError(t, wal.Create(context.Background(), entry))
	require.NoError(t, wal.MarkProcessing(context.Background(), entry.ID))
	return entry
}

// seedOpen opens a position through the repository so the WAL and log rows
// are consistent with production writes.
func seedOpen(t *testing.T, db *gorm.DB, symbol string, entryPrice float64) *model.OpenPosition {
	t.Helper()
	positions := repository.NewPositionRepository(db)

	entry := seedWal(t, db, "open-"+symbol)
	pos := &model.OpenPosition{
		StrategyID:     1,
		StrategySymbol: symbol,
		Direction:      model.DirectionLong,
		EntryPrice:     entryPrice,
		Quantity:       1,
		EntryTime:      testClock.Add(-time.Hour),
	}
	logRow := &model.WebhookLog{
		WalEntryID:     entry.ID,
		Payload:        "{}",
		Status:         model.WebhookStatusSuccess,
		StrategyID:     1,
		StrategySymbol: symbol,
		Direction:      pos.Direction,
		EntryPrice:     entryPrice,
	}
	require.NoError(t, positions.OpenWithLog(context.Background(), pos, logRow))
	return pos
}

func seedRoundTrip(t *testing.T, db *gorm.DB, symbol string, entryPrice, exitPrice float64) *model.Trade {
	t.Helper()
	positions := repository.NewPositionRepository(db)

	pos := seedOpen(t, db, symbol, entryPrice)

	entry := seedWal(t, db, "close-"+symbol)
	logRow := &model.WebhookLog{
		WalEntryID:     entry.ID,
		Payload:        "{}",
		Status:         model.WebhookStatusSuccess,
		StrategyID:     1,
		StrategySymbol: symbol,
		Direction:      pos.Direction,
		EntryPrice:     entryPrice,
	}
	trade, err := positions.CloseWithTrade(context.Background(), pos, exitPrice, testClock.Add(-30*time.Minute), logRow)
	require.NoError(t, err)
	return trade
}

func violationChecks(report *Report) []string {
	checks := make([]string, 0, len(report.Violations))
	for _, v := range report.Violations {
		checks = append(checks, v.Check)
	}
	return checks
}

func TestValidateCleanLedger(t *testing.T) {
	db := newTestDB(t)
	seedOpen(t, db, "ES", 4500)
	seedRoundTrip(t, db, "NQ", 15000, 15100)

	report, err := newValidator(db).Validate(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Clean)
	assert.Empty(t, report.Violations)
	assert.EqualValues(t, 2, report.Positions)
	assert.EqualValues(t, 1, report.Trades)
	assert.EqualValues(t, 3, report.Logs)
	assert.EqualValues(t, 3, report.WalEntries)
}

func TestValidateFlagsPnlDrift(t *testing.T) {
	db := newTestDB(t)
	trade := seedRoundTrip(t, db, "NQ", 15000, 15100)

	require.NoError(t, db.Model(&model.Trade{}).Where("id = ?", trade.ID).
		Update("pnl", trade.Pnl+5).Error)

	report, err := newValidator(db).Validate(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Clean)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, CheckTradePnl, report.Violations[0].Check)
	assert.Equal(t, trade.ID, report.Violations[0].EntityID)
	assert.Contains(t, report.Violations[0].Detail, "diverges")
}

func TestValidateFlagsIncompleteClosedPositions(t *testing.T) {
	db := newTestDB(t)

	exitPrice := 4510.0
	exitTime := testClock.Add(-time.Hour)
	pnl := 10.0
	missingTrade := uint(9999)

	rows := []model.OpenPosition{
		{StrategySymbol: "A1", Direction: model.DirectionLong, EntryPrice: 4500, Quantity: 1,
			Status: model.PositionStatusClosed},
		{StrategySymbol: "A2", Direction: model.DirectionLong, EntryPrice: 4500, Quantity: 1,
			Status: model.PositionStatusClosed, ExitPrice: &exitPrice, ExitTime: &exitTime, Pnl: &pnl},
		{StrategySymbol: "A3", Direction: model.DirectionLong, EntryPrice: 4500, Quantity: 1,
			Status: model.PositionStatusClosed, ExitPrice: &exitPrice, ExitTime: &exitTime, Pnl: &pnl,
			TradeID: &missingTrade},
	}
	for i := range rows {
		require.NoError(t, db.Create(&rows[i]).Error)
	}

	report, err := newValidator(db).Validate(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Clean)
	require.Len(t, report.Violations, 3)
	for _, v := range report.Violations {
		assert.Equal(t, CheckClosedPositions, v.Check)
	}
	assert.Contains(t, report.Violations[0].Detail, "missing exit facts")
	assert.Contains(t, report.Violations[1].Detail, "links no trade")
	assert.Contains(t, report.Violations[2].Detail, "trade 9999 does not exist")
}

func TestValidateFlagsDoubleOpen(t *testing.T) {
	db := newTestDB(t)

	// Simulate data that arrived while the guard index was absent.
	require.NoError(t, db.Exec("DROP INDEX IF EXISTS uniq_open_position_symbol").Error)
	for i := 0; i < 2; i++ {
		require.NoError(t, db.Create(&model.OpenPosition{
			StrategySymbol: "ES",
			Direction:      model.DirectionLong,
			EntryPrice:     4500,
			Quantity:       1,
			Status:         model.PositionStatusOpen,
		}).Error)
	}

	report, err := newValidator(db).Validate(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Clean)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, CheckOpenSingleton, report.Violations[0].Check)
	assert.Contains(t, report.Violations[0].Detail, "2 open rows for symbol ES")
}

func TestValidateFlagsSuccessLogsWithoutCompletedWal(t *testing.T) {
	db := newTestDB(t)

	wal := repository.NewWalRepository(db)
	entry := seedWal(t, db, "corr-1")
	require.NoError(t, wal.Fail(context.Background(), entry.ID, "boom", nil))

	require.NoError(t, db.Create(&model.WebhookLog{
		WalEntryID: entry.ID,
		Payload:    "{}",
		Status:     model.WebhookStatusSuccess,
	}).Error)
	require.NoError(t, db.Create(&model.WebhookLog{
		WalEntryID: 9999,
		Payload:    "{}",
		Status:     model.WebhookStatusSuccess,
	}).Error)

	// Failed logs with failed WAL entries are fine.
	require.NoError(t, db.Create(&model.WebhookLog{
		WalEntryID: entry.ID + 1000,
		Payload:    "{}",
		Status:     model.WebhookStatusFailed,
	}).Error)

	report, err := newValidator(db).Validate(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Clean)
	require.Len(t, report.Violations, 2)
	assert.Equal(t, CheckSuccessLogWal, report.Violations[0].Check)
	assert.Contains(t, report.Violations[0].Detail, "failed, not completed")
	assert.Contains(t, report.Violations[1].Detail, "no wal entry")
}

func TestValidateFlagsStuckWalEntries(t *testing.T) {
	db := newTestDB(t)

	stale := []model.WalEntry{
		{CorrelationID: "stuck-pending", Status: model.WalStatusPending, RawPayload: "{}",
			CreatedAt: testClock.Add(-time.Hour)},
		{CorrelationID: "stuck-processing", Status: model.WalStatusProcessing, RawPayload: "{}",
			CreatedAt: testClock.Add(-30 * time.Minute)},
		{CorrelationID: "fresh-pending", Status: model.WalStatusPending, RawPayload: "{}",
			CreatedAt: testClock.Add(-time.Minute)},
		{CorrelationID: "old-completed", Status: model.WalStatusCompleted, RawPayload: "{}",
			CreatedAt: testClock.Add(-time.Hour)},
	}
	for i := range stale {
		require.NoError(t, db.Create(&stale[i]).Error)
	}

	report, err := newValidator(db).Validate(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Clean)
	require.Len(t, report.Violations, 2)
	assert.Equal(t, CheckStuckWal, report.Violations[0].Check)
	assert.Contains(t, report.Violations[0].Detail, "stuck-pending")
	assert.Contains(t, report.Violations[0].Detail, "stuck pending for 1h0m0s")
	assert.Contains(t, report.Violations[1].Detail, "stuck-processing")
}
