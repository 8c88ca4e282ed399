package verify

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logger "github.com/sirupsen/logrus"

	"github.com/bostonrobbie/signalbridge/src/database"
	"github.com/bostonrobbie/signalbridge/src/integrity"
)

// Audit runs the read-only ledger consistency checks once. A non-nil error
// return (and so a non-zero exit) means violations were found.
type Audit struct{}

func (a *Audit) Start() error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	db, err := database.Connect(database.GetConfig())
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		return err
	}

	validator := integrity.NewValidator(integrity.GetConfig(), db)
	report, err := validator.Validate(ctx)
	if err != nil {
		logger.WithError(err).Error("Ledger integrity audit failed")
		return err
	}

	for _, v := range report.Violations {
		logger.WithFields(map[string]interface{}{
			"check":    v.Check,
			"entity":   v.Entity,
			"entityId": v.EntityID,
		}).Error(v.Detail)
	}

	if !report.Clean {
		return fmt.Errorf("ledger integrity audit found %d violations", len(report.Violations))
	}
	return nil
}
