package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/bostonrobbie/signalbridge/src/model"
)

// TradeSearchOptions filters and pages the realized trade history.
type TradeSearchOptions struct {
	Symbol   string
	Page     int
	PageSize int
}

// TradeRepository reads the realized side of the ledger. Trades are written
// only by PositionRepository.CloseWithTrade; nothing updates them after.
type TradeRepository struct {
	db *gorm.DB
}

func NewTradeRepository(db *gorm.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

func (r *TradeRepository) WithDB(db *gorm.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Search returns a page of trades newest exit first, plus the total count
// for the filter.
func (r *TradeRepository) Search(ctx context.Context, opts TradeSearchOptions) ([]model.Trade, int64, error) {
	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	query := r.db.WithContext(ctx).Model(&model.Trade{})
	if opts.Symbol != "" {
		query = query.Where("strategy_symbol = ?", opts.Symbol)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TradeRepository",
			"op":   "Search",
		}).WithError(err).Error("Failed to count trades")
		return nil, 0, err
	}

	var trades []model.Trade
	err := query.
		Order("exit_date DESC, id DESC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&trades).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TradeRepository",
			"op":   "Search",
		}).WithError(err).Error("Failed to search trades")
		return nil, 0, err
	}

	return trades, total, nil
}

// FindByID fetches a single trade. Returns (nil, nil) when missing.
func (r *TradeRepository) FindByID(ctx context.Context, id uint) (*model.Trade, error) {
	var trade model.Trade
	err := r.db.WithContext(ctx).First(&trade, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trade, nil
}
