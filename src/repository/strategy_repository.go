package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/bostonrobbie/signalbridge/src/model"
)

// StrategyRepository handles the registry of signal sources.
type StrategyRepository struct {
	db *gorm.DB
}

func NewStrategyRepository(db *gorm.DB) *StrategyRepository {
	return &StrategyRepository{db: db}
}

func (r *StrategyRepository) WithDB(db *gorm.DB) *StrategyRepository {
	return &StrategyRepository{db: db}
}

// FindOrCreateBySymbol resolves the strategy for a symbol, auto-registering
// it on first contact. Two concurrent first signals race on the unique
// symbol index; the loser adopts the winner's row.
func (r *StrategyRepository) FindOrCreateBySymbol(ctx context.Context, symbol, name string) (*model.Strategy, error) {
	var strategy model.Strategy
	err := r.db.WithContext(ctx).Where("symbol = ?", symbol).First(&strategy).Error
	if err == nil {
		return &strategy, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		logger.WithFields(map[string]interface{}{
			"repo":   "StrategyRepository",
			"op":     "FindOrCreateBySymbol",
			"symbol": symbol,
		}).WithError(err).Error("Failed to fetch strategy")
		return nil, err
	}

	if name == "" {
		name = symbol
	}
	strategy = model.Strategy{
		Name:   name,
		Symbol: symbol,
		Active: true,
	}
	if err := r.db.WithContext(ctx).Create(&strategy).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			var existing model.Strategy
			if e := r.db.WithContext(ctx).Where("symbol = ?", symbol).First(&existing).Error; e == nil {
				return &existing, nil
			}
		}
		logger.WithFields(map[string]interface{}{
			"repo":   "StrategyRepository",
			"op":     "FindOrCreateBySymbol",
			"symbol": symbol,
		}).WithError(err).Error("Failed to auto-register strategy")
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "StrategyRepository",
		"op":          "FindOrCreateBySymbol",
		"symbol":      symbol,
		"strategy_id": strategy.ID,
	}).Info("Strategy auto-registered on first signal")

	return &strategy, nil
}

// TouchLastSignal stamps the strategy's most recent signal time.
func (r *StrategyRepository) TouchLastSignal(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.Strategy{}).
		Where("id = ?", id).
		Update("last_signal_at", at).Error
}

// SetAutoTrade flips the per-strategy execution opt-in.
func (r *StrategyRepository) SetAutoTrade(ctx context.Context, id uint, enabled bool) error {
	res := r.db.WithContext(ctx).
		Model(&model.Strategy{}).
		Where("id = ?", id).
		Update("auto_trade", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// FindByID fetches a single strategy. Returns (nil, nil) when missing.
func (r *StrategyRepository) FindByID(ctx context.Context, id uint) (*model.Strategy, error) {
	var strategy model.Strategy
	err := r.db.WithContext(ctx).First(&strategy, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &strategy, nil
}

// List returns all strategies ordered by symbol.
func (r *StrategyRepository) List(ctx context.Context) ([]model.Strategy, error) {
	var strategies []model.Strategy
	err := r.db.WithContext(ctx).Order("symbol ASC").Find(&strategies).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "StrategyRepository",
			"op":   "List",
		}).WithError(err).Error("Failed to list strategies")
		return nil, err
	}
	return strategies, nil
}
