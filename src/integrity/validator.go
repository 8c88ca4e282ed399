package integrity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/bostonrobbie/signalbridge/src/model"
)

// Check names reported on violations.
const (
	CheckClosedPositions = "closed_position_complete"
	CheckTradePnl        = "trade_pnl_recomputation"
	CheckOpenSingleton   = "single_open_per_symbol"
	CheckSuccessLogWal   = "success_log_has_completed_wal"
	CheckStuckWal        = "no_stuck_wal_entries"
)

type Violation struct {
	Check    string `json:"check"`
	Entity   string `json:"entity"`
	EntityID uint   `json:"entity_id"`
	Detail   string `json:"detail"`
}

type Report struct {
	CheckedAt  time.Time   `json:"checked_at"`
	Clean      bool        `json:"clean"`
	Positions  int64       `json:"positions_scanned"`
	Trades     int64       `json:"trades_scanned"`
	Logs       int64       `json:"webhook_logs_scanned"`
	WalEntries int64       `json:"wal_entries_scanned"`
	Violations []Violation `json:"violations"`
}

// Validator runs read-only consistency checks over the ledger. It never
// repairs; it reports what a human has to look at.
type Validator struct {
	config Config
	db     *gorm.DB
	now    func() time.Time
}

func NewValidator(config Config, db *gorm.DB) *Validator {
	return &Validator{config: config, db: db, now: time.Now}
}

func (v *Validator) Validate(ctx context.Context) (*Report, error) {
	report := &Report{
		CheckedAt:  v.now(),
		Violations: make([]Violation, 0),
	}

	db := v.db.WithContext(ctx)

	for table, dest := range map[string]*int64{
		"open_positions": &report.Positions,
		"trades":         &report.Trades,
		"webhook_logs":   &report.Logs,
		"wal_entries":    &report.WalEntries,
	} {
		if err := db.Table(table).Count(dest).Error; err != nil {
			return nil, fmt.Errorf("counting %s: %w", table, err)
		}
	}

	if err := v.checkClosedPositions(db, report); err != nil {
		return nil, err
	}
	if err := v.checkOpenSingleton(db, report); err != nil {
		return nil, err
	}
	if err := v.checkSuccessLogs(db, report); err != nil {
		return nil, err
	}
	if err := v.checkStuckWal(db, report); err != nil {
		return nil, err
	}

	report.Clean = len(report.Violations) == 0

	logger.WithFields(map[string]interface{}{
		"clean":      report.Clean,
		"violations": len(report.Violations),
		"positions":  report.Positions,
		"trades":     report.Trades,
	}).Info("ledger integrity audit finished")

	return report, nil
}

// checkClosedPositions verifies every closed position carries its exit
// facts and links a trade whose stored pnl matches the recomputation.
func (v *Validator) checkClosedPositions(db *gorm.DB, report *Report) error {
	var positions []model.OpenPosition
	return db.Where("status = ?", model.PositionStatusClosed).
		FindInBatches(&positions, 200, func(tx *gorm.DB, batch int) error {
			for i := range positions {
				v.auditClosedPosition(db, &positions[i], report)
			}
			return nil
		}).Error
}

func (v *Validator) auditClosedPosition(db *gorm.DB, pos *model.OpenPosition, report *Report) {
	if pos.ExitPrice == nil || pos.ExitTime == nil || pos.Pnl == nil {
		report.add(Violation{
			Check:    CheckClosedPositions,
			Entity:   "position",
			EntityID: pos.ID,
			Detail:   fmt.Sprintf("closed position %s is missing exit facts", pos.StrategySymbol),
		})
		return
	}
	if pos.TradeID == nil {
		report.add(Violation{
			Check:    CheckClosedPositions,
			Entity:   "position",
			EntityID: pos.ID,
			Detail:   fmt.Sprintf("closed position %s links no trade", pos.StrategySymbol),
		})
		return
	}

	var trade model.Trade
	err := db.First(&trade, *pos.TradeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		report.add(Violation{
			Check:    CheckClosedPositions,
			Entity:   "position",
			EntityID: pos.ID,
			Detail:   fmt.Sprintf("linked trade %d does not exist", *pos.TradeID),
		})
		return
	}
	if err != nil {
		report.add(Violation{
			Check:    CheckClosedPositions,
			Entity:   "position",
			EntityID: pos.ID,
			Detail:   fmt.Sprintf("linked trade %d unreadable: %v", *pos.TradeID, err),
		})
		return
	}

	recomputed := (&model.OpenPosition{
		Direction:  trade.Direction,
		EntryPrice: trade.EntryPrice,
		Quantity:   trade.Quantity,
	}).RealizedPnl(trade.ExitPrice)

	if diff := math.Abs(trade.Pnl - recomputed); diff > v.config.PnlTolerance {
		report.add(Violation{
			Check:    CheckTradePnl,
			Entity:   "trade",
			EntityID: trade.ID,
			Detail: fmt.Sprintf("trade %s pnl %.10f diverges from recomputed %.10f",
				trade.StrategySymbol, trade.Pnl, recomputed),
		})
	}
}

// checkOpenSingleton flags symbols with more than one open row. The partial
// unique index makes this impossible through the repositories; finding one
// means the data arrived some other way.
func (v *Validator) checkOpenSingleton(db *gorm.DB, report *Report) error {
	var rows []struct {
		StrategySymbol string
		N              int
	}
	err := db.Model(&model.OpenPosition{}).
		Select("strategy_symbol, count(*) as n").
		Where("status = ?", model.PositionStatusOpen).
		Group("strategy_symbol").
		Having("count(*) > 1").
		Scan(&rows).Error
	if err != nil {
		return fmt.Errorf("checking open singletons: %w", err)
	}

	for _, row := range rows {
		report.add(Violation{
			Check:  CheckOpenSingleton,
			Entity: "position",
			Detail: fmt.Sprintf("%d open rows for symbol %s", row.N, row.StrategySymbol),
		})
	}
	return nil
}

// checkSuccessLogs requires every success-status webhook log to point at a
// completed WAL entry.
func (v *Validator) checkSuccessLogs(db *gorm.DB, report *Report) error {
	var rows []struct {
		ID        uint
		WalStatus *string
	}
	err := db.Table("webhook_logs").
		Select("webhook_logs.id, wal_entries.status as wal_status").
		Joins("LEFT JOIN wal_entries ON wal_entries.id = webhook_logs.wal_entry_id").
		Where("webhook_logs.status = ?", model.WebhookStatusSuccess).
		Where("wal_entries.id IS NULL OR wal_entries.status <> ?", model.WalStatusCompleted).
		Order("webhook_logs.id").
		Scan(&rows).Error
	if err != nil {
		return fmt.Errorf("checking success logs: %w", err)
	}

	for _, row := range rows {
		detail := "success log has no wal entry"
		if row.WalStatus != nil {
			detail = fmt.Sprintf("success log's wal entry is %s, not completed", *row.WalStatus)
		}
		report.add(Violation{
			Check:    CheckSuccessLogWal,
			Entity:   "webhook_log",
			EntityID: row.ID,
			Detail:   detail,
		})
	}
	return nil
}

// checkStuckWal flags unfinished WAL entries older than the configured age:
// each one is a webhook whose outcome nobody ever recorded.
func (v *Validator) checkStuckWal(db *gorm.DB, report *Report) error {
	cutoff := v.now().Add(-v.config.StuckWalAge)

	var entries []model.WalEntry
	err := db.Where("status IN ? AND created_at < ?",
		[]string{model.WalStatusPending, model.WalStatusProcessing}, cutoff).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return fmt.Errorf("checking stuck wal entries: %w", err)
	}

	for _, entry := range entries {
		report.add(Violation{
			Check:    CheckStuckWal,
			Entity:   "wal_entry",
			EntityID: entry.ID,
			Detail: fmt.Sprintf("wal entry %s stuck %s for %s",
				entry.CorrelationID, entry.Status, v.now().Sub(entry.CreatedAt).Round(time.Second)),
		})
	}
	return nil
}

func (r *Report) add(violation Violation) {
	r.Violations = append(r.Violations, violation)
}
