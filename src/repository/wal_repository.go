package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/bostonrobbie/signalbridge/src/model"
)

// WalRepository handles the write-ahead log. Entries are created durable
// before any ledger side effect and finalized exactly once.
type WalRepository struct {
	db *gorm.DB
}

func NewWalRepository(db *gorm.DB) *WalRepository {
	return &WalRepository{db: db}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *WalRepository) WithDB(db *gorm.DB) *WalRepository {
	return &WalRepository{db: db}
}

// Create appends a new WAL entry. Status defaults to pending.
func (r *WalRepository) Create(ctx context.Context, entry *model.WalEntry) error {
	if entry.Status == "" {
		entry.Status = model.WalStatusPending
	}

	logger.WithFields(map[string]interface{}{
		"repo":           "WalRepository",
		"op":             "Create",
		"correlation_id": entry.CorrelationID,
	}).Debug("Appending WAL entry")

	err := r.db.WithContext(ctx).Create(entry).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "WalRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to append WAL entry")
		return err
	}
	return nil
}

// MarkProcessing moves a pending entry into processing. Re-marking an entry
// that is already processing is allowed so crash recovery can re-enter it;
// finalized entries return ErrWalFinalized.
func (r *WalRepository) MarkProcessing(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).
		Model(&model.WalEntry{}).
		Where("id = ? AND status IN ?", id, []string{model.WalStatusPending, model.WalStatusProcessing}).
		Update("status", model.WalStatusProcessing)
	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "WalRepository",
			"op":     "MarkProcessing",
			"wal_id": id,
		}).WithError(res.Error).Error("Failed to mark WAL entry processing")
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrWalFinalized
	}
	return nil
}

// Complete finalizes an entry as completed, linking its webhook log.
func (r *WalRepository) Complete(ctx context.Context, id uint, webhookLogID *uint) error {
	return finalizeWal(r.db.WithContext(ctx), id, model.WalStatusCompleted, webhookLogID, nil)
}

// Fail finalizes an entry as failed with a reason code.
func (r *WalRepository) Fail(ctx context.Context, id uint, reason string, webhookLogID *uint) error {
	return finalizeWal(r.db.WithContext(ctx), id, model.WalStatusFailed, webhookLogID, &reason)
}

// FindUnfinished returns entries still pending or processing that were
// created at or before cutoff, oldest first. Crash recovery replays them.
func (r *WalRepository) FindUnfinished(ctx context.Context, cutoff time.Time) ([]model.WalEntry, error) {
	var entries []model.WalEntry
	err := r.db.WithContext(ctx).
		Where("status IN ? AND created_at <= ?", []string{model.WalStatusPending, model.WalStatusProcessing}, cutoff).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "WalRepository",
			"op":   "FindUnfinished",
		}).WithError(err).Error("Failed to list unfinished WAL entries")
		return nil, err
	}
	return entries, nil
}

// FindByCorrelationID fetches one entry by its correlation id.
// Returns (nil, nil) when no entry matches.
func (r *WalRepository) FindByCorrelationID(ctx context.Context, correlationID string) (*model.WalEntry, error) {
	var entry model.WalEntry
	err := r.db.WithContext(ctx).Where("correlation_id = ?", correlationID).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// finalizeWal flips a WAL entry to a terminal status. The status guard is the
// exactly-once gate: an entry already completed or failed is left untouched
// and the caller gets ErrWalFinalized. Runs against whatever handle it is
// given, so compound repository transactions reuse it with their tx.
func finalizeWal(db *gorm.DB, walID uint, status string, webhookLogID *uint, errorMessage *string) error {
	updates := map[string]interface{}{"status": status}
	if webhookLogID != nil {
		updates["webhook_log_id"] = *webhookLogID
	}
	if errorMessage != nil {
		updates["error_message"] = *errorMessage
	}

	res := db.
		Model(&model.WalEntry{}).
		Where("id = ? AND status IN ?", walID, []string{model.WalStatusPending, model.WalStatusProcessing}).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrWalFinalized
	}
	return nil
}
