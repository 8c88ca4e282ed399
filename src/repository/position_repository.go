package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/bostonrobbie/signalbridge/src/model"
)

// PositionRepository owns the position side of the ledger. The lifecycle
// transitions are compound transactions: position write, webhook log and WAL
// finalization commit or roll back together, so crash recovery never finds a
// half-applied signal.
type PositionRepository struct {
	db *gorm.DB
}

func NewPositionRepository(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *PositionRepository) WithDB(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// FindOpenBySymbol returns the open position for a strategy symbol.
// Returns (nil, nil) when the symbol is flat.
func (r *PositionRepository) FindOpenBySymbol(ctx context.Context, symbol string) (*model.OpenPosition, error) {
	var pos model.OpenPosition
	err := r.db.WithContext(ctx).
		Where("strategy_symbol = ? AND status = ?", symbol, model.PositionStatusOpen).
		First(&pos).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo":   "PositionRepository",
			"op":     "FindOpenBySymbol",
			"symbol": symbol,
		}).WithError(err).Error("Failed to fetch open position")
		return nil, err
	}
	return &pos, nil
}

// FindAllOpen lists every open position, oldest entry first.
func (r *PositionRepository) FindAllOpen(ctx context.Context) ([]model.OpenPosition, error) {
	var positions []model.OpenPosition
	err := r.db.WithContext(ctx).
		Where("status = ?", model.PositionStatusOpen).
		Order("entry_time ASC").
		Find(&positions).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PositionRepository",
			"op":   "FindAllOpen",
		}).WithError(err).Error("Failed to list open positions")
		return nil, err
	}
	return positions, nil
}

// OpenWithLog creates an open position, its success webhook log and the WAL
// completion in one transaction. Returns ErrPositionExists when the symbol
// already has an open position, whether found by the in-transaction check or
// raised by the partial unique index when two entries race.
func (r *PositionRepository) OpenWithLog(
	ctx context.Context,
	pos *model.OpenPosition,
	logRow *model.WebhookLog,
) error {

	if pos.Status == "" {
		pos.Status = model.PositionStatusOpen
	}

	logger.WithFields(map[string]interface{}{
		"repo":      "PositionRepository",
		"op":        "OpenWithLog",
		"symbol":    pos.StrategySymbol,
		"direction": pos.Direction,
		"qty":       pos.Quantity,
	}).Info("Opening position with webhook log")

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.OpenPosition{}).
			Where("strategy_symbol = ? AND status = ?", pos.StrategySymbol, model.PositionStatusOpen).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrPositionExists
		}

		if err := tx.Create(pos).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrPositionExists
			}
			logger.WithError(err).Error("Failed to create position inside transaction")
			return err
		}

		if err := tx.Create(logRow).Error; err != nil {
			logger.WithError(err).Error("Failed to create webhook log inside transaction")
			return err
		}

		return finalizeWal(tx, logRow.WalEntryID, model.WalStatusCompleted, &logRow.ID, nil)
	})
}

// CloseWithTrade closes an open position at exitPrice: the trade row, the
// conditional position update, the success webhook log and the WAL
// completion are one transaction. P&L is recomputed here from the stored
// entry price; whatever the sender reported is ignored. The conditional
// update is the optimistic-concurrency gate: if another exit closed the
// position first, the whole transaction rolls back with ErrNoOpenPosition.
func (r *PositionRepository) CloseWithTrade(
	ctx context.Context,
	pos *model.OpenPosition,
	exitPrice float64,
	exitTime time.Time,
	logRow *model.WebhookLog,
) (*model.Trade, error) {

	pnl := pos.RealizedPnl(exitPrice)
	pnlPercent := pos.RealizedPnlPercent(exitPrice)

	logger.WithFields(map[string]interface{}{
		"repo":       "PositionRepository",
		"op":         "CloseWithTrade",
		"symbol":     pos.StrategySymbol,
		"direction":  pos.Direction,
		"exit_price": exitPrice,
		"pnl":        pnl,
	}).Info("Closing position with trade")

	trade := &model.Trade{
		StrategyID:     pos.StrategyID,
		StrategySymbol: pos.StrategySymbol,
		Direction:      pos.Direction,
		EntryDate:      pos.EntryTime,
		ExitDate:       exitTime,
		EntryPrice:     pos.EntryPrice,
		ExitPrice:      exitPrice,
		Quantity:       pos.Quantity,
		Pnl:            pnl,
		PnlPercent:     pnlPercent,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(trade).Error; err != nil {
			logger.WithError(err).Error("Failed to create trade inside transaction")
			return err
		}

		res := tx.Model(&model.OpenPosition{}).
			Where("id = ? AND status = ?", pos.ID, model.PositionStatusOpen).
			Updates(map[string]interface{}{
				"status":     model.PositionStatusClosed,
				"exit_price": exitPrice,
				"exit_time":  exitTime,
				"pnl":        pnl,
				"trade_id":   trade.ID,
			})
		if res.Error != nil {
			logger.WithError(res.Error).Error("Failed to close position inside transaction")
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNoOpenPosition
		}

		logRow.TradeID = &trade.ID
		logRow.ExitPrice = &exitPrice
		logRow.Pnl = &pnl
		if err := tx.Create(logRow).Error; err != nil {
			logger.WithError(err).Error("Failed to create webhook log inside transaction")
			return err
		}

		return finalizeWal(tx, logRow.WalEntryID, model.WalStatusCompleted, &logRow.ID, nil)
	})
	if err != nil {
		return nil, err
	}
	return trade, nil
}

// FailWithLog records a business-rule failure: the failure webhook log and
// the WAL failed finalization commit together.
func (r *PositionRepository) FailWithLog(
	ctx context.Context,
	walID uint,
	reason string,
	logRow *model.WebhookLog,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":   "PositionRepository",
		"op":     "FailWithLog",
		"wal_id": walID,
		"reason": reason,
	}).Warn("Recording failed signal")

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		logRow.WalEntryID = walID
		if err := tx.Create(logRow).Error; err != nil {
			logger.WithError(err).Error("Failed to create webhook log inside transaction")
			return err
		}
		return finalizeWal(tx, walID, model.WalStatusFailed, &logRow.ID, &reason)
	})
}
