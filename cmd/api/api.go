package api

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	logger "github.com/sirupsen/logrus"

	"github.com/bostonrobbie/signalbridge/src/brokers"
	"github.com/bostonrobbie/signalbridge/src/database"
	"github.com/bostonrobbie/signalbridge/src/ingest"
	"github.com/bostonrobbie/signalbridge/src/integrity"
	"github.com/bostonrobbie/signalbridge/src/monitor"
	"github.com/bostonrobbie/signalbridge/src/repository"
	"github.com/bostonrobbie/signalbridge/src/server"
)

// Server runs webhook ingestion and the query API without broker
// connectivity. Signals are recorded; nothing executes.
type Server struct{}

func (s *Server) Start() error {
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
	if err := database.Migrate(db); err != nil {
		logger.WithError(err).Error("Failed to run migrations")
		return err
	}

	pipeline := ingest.NewPipeline(ingest.GetConfig(), db)

	// Entries stuck by a crash are finished before new traffic arrives.
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

	// Nothing registers in this mode; the registry and monitor only back
	// the health endpoint.
	registry := brokers.NewRegistry(brokers.GetConfig())
	healthMonitor := monitor.NewHealthMonitor(monitor.GetConfig(), registry)

	deps := server.Deps{
		Pipeline:    pipeline,
		WebhookLogs: repository.NewWebhookLogRepository(db),
		Positions:   repository.NewPositionRepository(db),
		Trades:      repository.NewTradeRepository(db),
		Executions:  repository.NewExecutionRecordRepository(db),
		Strategies:  repository.NewStrategyRepository(db),
		Monitor:     healthMonitor,
		Validator:   integrity.NewValidator(integrity.GetConfig(), db),
	}

	server.StartServer(ctx, server.GetConfig().Port, server.NewRouter(deps))
	return nil
}
