package walrecover

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logger "github.com/sirupsen/logrus"

	"github.com/bostonrobbie/signalbridge/src/database"
	"github.com/bostonrobbie/signalbridge/src/ingest"
)

// Sweep runs one WAL crash-recovery pass and exits. Useful after restoring
// a database or when a daemon died mid-entry and stayed down.
type Sweep struct{}

func (s *Sweep) Start() error {
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

	pipeline := ingest.NewPipeline(ingest.GetConfig(), db)
	report, err := pipeline.Recover(ctx)
	if err != nil {
		logger.WithError(err).Error("WAL recovery sweep failed")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"scanned":   report.Scanned,
		"completed": report.Completed,
		"failed":    report.Failed,
		"errors":    report.Errors,
	}).Info("WAL recovery sweep finished")

	if report.Errors > 0 {
		return fmt.Errorf("recovery sweep hit %d store errors", report.Errors)
	}
	return nil
}
