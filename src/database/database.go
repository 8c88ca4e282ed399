package database

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bostonrobbie/signalbridge/src/database/migrations"
	"github.com/bostonrobbie/signalbridge/src/model"
)

// Connect opens the primary read/write store and tunes the pool. Callers own
// the returned handle; nothing in this package keeps global state.
func Connect(config Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(config.DatabaseURL),
		&gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get DB from GORM: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(1 * time.Hour)

	logrus.Info("[database] connection established")

	return db, nil
}

// Migrate runs schema auto-migration for all write-side models, then the
// versioned data migrations that AutoMigrate cannot express.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.WalEntry{},
		&model.WebhookLog{},
		&model.OpenPosition{},
		&model.Trade{},
		&model.Strategy{},
		&model.ExecutionRecord{},
		&model.BrokerConnection{},
		&model.Exception{},
		&migrations.DataMigration{},
	); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("failed to run data migrations: %w", err)
	}

	logrus.Info("[database] migrations completed")

	return nil
}
