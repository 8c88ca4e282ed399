package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/bostonrobbie/signalbridge/src/model"
)

// ExecutionRecordRepository appends and reads the auto-trade audit trail.
type ExecutionRecordRepository struct {
	db *gorm.DB
}

func NewExecutionRecordRepository(db *gorm.DB) *ExecutionRecordRepository {
	return &ExecutionRecordRepository{db: db}
}

func (r *ExecutionRecordRepository) WithDB(db *gorm.DB) *ExecutionRecordRepository {
	return &ExecutionRecordRepository{db: db}
}

// Create appends one execution outcome.
func (r *ExecutionRecordRepository) Create(ctx context.Context, record *model.ExecutionRecord) error {
	logger.WithFields(map[string]interface{}{
		"repo":      "ExecutionRecordRepository",
		"op":        "Create",
		"signal_id": record.SignalID,
		"broker":    record.Broker,
		"success":   record.Success,
	}).Debug("Recording execution outcome")

	err := r.db.WithContext(ctx).Create(record).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "ExecutionRecordRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to record execution outcome")
		return err
	}
	return nil
}

// FindLatest returns the most recent execution records, newest first.
func (r *ExecutionRecordRepository) FindLatest(ctx context.Context, limit int) ([]model.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	var records []model.ExecutionRecord
	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "ExecutionRecordRepository",
			"op":   "FindLatest",
		}).WithError(err).Error("Failed to list execution records")
		return nil, err
	}
	return records, nil
}
