package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/bostonrobbie/signalbridge/src/model"
)

// WebhookLogSearchOptions filters and pages the webhook processing history.
type WebhookLogSearchOptions struct {
	Status   string
	Symbol   string
	Page     int
	PageSize int
}

// WebhookLogRepository reads the webhook processing history. Log rows are
// written inside the lifecycle transactions, never directly.
type WebhookLogRepository struct {
	db *gorm.DB
}

func NewWebhookLogRepository(db *gorm.DB) *WebhookLogRepository {
	return &WebhookLogRepository{db: db}
}

func (r *WebhookLogRepository) WithDB(db *gorm.DB) *WebhookLogRepository {
	return &WebhookLogRepository{db: db}
}

// Search returns a page of webhook logs newest first, plus the total count
// for the filter.
func (r *WebhookLogRepository) Search(ctx context.Context, opts WebhookLogSearchOptions) ([]model.WebhookLog, int64, error) {
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

	query := r.db.WithContext(ctx).Model(&model.WebhookLog{})
	if opts.Status != "" {
		query = query.Where("status = ?", opts.Status)
	}
	if opts.Symbol != "" {
		query = query.Where("strategy_symbol = ?", opts.Symbol)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "WebhookLogRepository",
			"op":   "Search",
		}).WithError(err).Error("Failed to count webhook logs")
		return nil, 0, err
	}

	var logs []model.WebhookLog
	err := query.
		Order("created_at DESC, id DESC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&logs).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "WebhookLogRepository",
			"op":   "Search",
		}).WithError(err).Error("Failed to search webhook logs")
		return nil, 0, err
	}

	return logs, total, nil
}

// FindByWalEntryID fetches the log row linked to a WAL entry.
// Returns (nil, nil) when the entry never reached processing.
func (r *WebhookLogRepository) FindByWalEntryID(ctx context.Context, walEntryID uint) (*model.WebhookLog, error) {
	var logRow model.WebhookLog
	err := r.db.WithContext(ctx).Where("wal_entry_id = ?", walEntryID).First(&logRow).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &logRow, nil
}
