package trader

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	logger "github.com/sirupsen/logrus"

	"github.com/bostonrobbie/signalbridge/src/autotrader"
	"github.com/bostonrobbie/signalbridge/src/brokers"
	"github.com/bostonrobbie/signalbridge/src/database"
	"github.com/bostonrobbie/signalbridge/src/ingest"
	"github.com/bostonrobbie/signalbridge/src/integrity"
	"github.com/bostonrobbie/signalbridge/src/mapper"
	"github.com/bostonrobbie/signalbridge/src/model"
	"github.com/bostonrobbie/signalbridge/src/monitor"
	"github.com/bostonrobbie/signalbridge/src/repository"
	"github.com/bostonrobbie/signalbridge/src/security"
	"github.com/bostonrobbie/signalbridge/src/server"
)

// Trader runs the full daemon: webhook API, broker registry, health
// monitoring, and the auto-execution loop. The signal queue is in-memory,
// so execution lives in the same process as ingestion.
type Trader struct{}

func (t *Trader) Start() error {
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

	registry := brokers.NewRegistry(brokers.GetConfig())
	defer registry.CloseAll()

	connRepo := repository.NewBrokerConnectionRepository(db)
	if err := registerEnabledConnections(ctx, connRepo, registry); err != nil {
		return err
	}

	contracts := mapper.NewContractMap()
	if path := mapper.GetConfig().ContractMapFile; path != "" {
		if err := contracts.LoadOverrides(path); err != nil {
			logger.WithError(err).WithField("file", path).Error("Failed to load contract map overrides")
			return err
		}
	}

	executor := autotrader.NewAutoTrader(autotrader.GetConfig(), db, registry, contracts)

	pipeline := ingest.NewPipeline(ingest.GetConfig(), db)
	pipeline.AttachTrader(executor)

	// Entries stuck by a crash are finished before new traffic arrives.
	// Replayed entries never dispatch, so attaching the trader first is safe.
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

	healthMonitor := monitor.NewHealthMonitor(monitor.GetConfig(), registry)
	go healthMonitor.Run(ctx)
	go executor.Run(ctx)

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

// registerEnabledConnections builds a broker client for every enabled
// connection and registers it. A connection that cannot authenticate is
// skipped, not fatal: the rest of the registry still serves.
func registerEnabledConnections(ctx context.Context, repo *repository.BrokerConnectionRepository, registry *brokers.Registry) error {
	conns, err := repo.FindEnabled(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to load broker connections")
		return err
	}
	if len(conns) == 0 {
		logger.Warn("No enabled broker connections; executions will fail until one is added with the keys CMD")
		return nil
	}

	config := brokers.GetConfig()
	for i := range conns {
		conn := &conns[i]
		log := logger.WithFields(map[string]interface{}{
			"connectionId": conn.ConnectionID,
			"broker":       conn.Broker,
			"environment":  conn.Environment(),
		})

		creds, err := decryptCredentials(conn)
		if err != nil {
			log.WithError(err).Error("Failed to decrypt credentials, skipping connection")
			continue
		}

		client, err := brokers.NewClient(config, conn, creds)
		if err != nil {
			log.WithError(err).Error("Failed to build broker client, skipping connection")
			continue
		}

		if err := registry.Register(ctx, conn, client); err != nil {
			log.WithError(err).Error("Broker authentication failed, skipping connection")
			var oauthErr *brokers.OAuthRequiredError
			if errors.As(err, &oauthErr) {
				log.WithField("url", oauthErr.AuthorizeURL).Warn("Complete the OAuth consent, store the refresh token with the keys CMD, then restart")
			}
			continue
		}
		log.Info("Registered broker connection")
	}
	return nil
}

func decryptCredentials(conn *model.BrokerConnection) (model.BrokerCredentials, error) {
	var creds model.BrokerCredentials
	plaintext, err := security.DecryptString(conn.CredentialsEnc)
	if err != nil {
		return creds, err
	}
	if err := json.Unmarshal([]byte(plaintext), &creds); err != nil {
		return creds, err
	}
	return creds, nil
}
