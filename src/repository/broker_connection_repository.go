package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/bostonrobbie/signalbridge/src/model"
)

// BrokerConnectionRepository persists registered broker accounts so the
// trader daemon can rebuild its registry at startup.
type BrokerConnectionRepository struct {
	db *gorm.DB
}

func NewBrokerConnectionRepository(db *gorm.DB) *BrokerConnectionRepository {
	return &BrokerConnectionRepository{db: db}
}

func (r *BrokerConnectionRepository) WithDB(db *gorm.DB) *BrokerConnectionRepository {
	return &BrokerConnectionRepository{db: db}
}

// Upsert creates or replaces a connection keyed by its connection id.
func (r *BrokerConnectionRepository) Upsert(ctx context.Context, conn *model.BrokerConnection) error {
	logger.WithFields(map[string]interface{}{
		"repo":          "BrokerConnectionRepository",
		"op":            "Upsert",
		"connection_id": conn.ConnectionID,
		"broker":        conn.Broker,
		"is_paper":      conn.IsPaper,
	}).Info("Upserting broker connection")

	var existing model.BrokerConnection
	err := r.db.WithContext(ctx).Where("connection_id = ?", conn.ConnectionID).First(&existing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return r.db.WithContext(ctx).Create(conn).Error
		}
		return err
	}

	conn.ID = existing.ID
	conn.CreatedAt = existing.CreatedAt
	return r.db.WithContext(ctx).Save(conn).Error
}

// FindEnabled lists connections eligible for registration, best priority
// first (lower numbers execute first).
func (r *BrokerConnectionRepository) FindEnabled(ctx context.Context) ([]model.BrokerConnection, error) {
	var conns []model.BrokerConnection
	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("priority ASC, id ASC").
		Find(&conns).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "BrokerConnectionRepository",
			"op":   "FindEnabled",
		}).WithError(err).Error("Failed to list enabled broker connections")
		return nil, err
	}
	return conns, nil
}

// FindAll lists every connection, enabled or not, best priority first.
func (r *BrokerConnectionRepository) FindAll(ctx context.Context) ([]model.BrokerConnection, error) {
	var conns []model.BrokerConnection
	err := r.db.WithContext(ctx).
		Order("priority ASC, id ASC").
		Find(&conns).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "BrokerConnectionRepository",
			"op":   "FindAll",
		}).WithError(err).Error("Failed to list broker connections")
		return nil, err
	}
	return conns, nil
}

// FindByConnectionID fetches a connection by its external id.
// Returns (nil, nil) when unknown.
func (r *BrokerConnectionRepository) FindByConnectionID(ctx context.Context, connectionID string) (*model.BrokerConnection, error) {
	var conn model.BrokerConnection
	err := r.db.WithContext(ctx).Where("connection_id = ?", connectionID).First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

// SetEnabled flips a connection on or off.
func (r *BrokerConnectionRepository) SetEnabled(ctx context.Context, connectionID string, enabled bool) error {
	res := r.db.WithContext(ctx).
		Model(&model.BrokerConnection{}).
		Where("connection_id = ?", connectionID).
		Update("enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
