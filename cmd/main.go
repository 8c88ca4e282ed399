package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	logger "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/bostonrobbie/signalbridge/cmd/api"
	"github.com/bostonrobbie/signalbridge/cmd/keys"
	"github.com/bostonrobbie/signalbridge/cmd/trader"
	"github.com/bostonrobbie/signalbridge/cmd/verify"
	"github.com/bostonrobbie/signalbridge/cmd/walrecover"
)

var Version string

func main() {
	// Missing .env is fine; the environment may already carry everything.
	_ = godotenv.Load()
	setupLogger()

	app := cli.NewApp()
	app.Name = "signalbridge"
	app.Usage = "The signalbridge command line interface"
	app.Version = Version

	app.Commands = []cli.Command{
		serverCMD,
		traderCMD,
		walrecoverCMD,
		verifyCMD,
		keysCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogger() {
	level, err := logger.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL")))
	if err != nil {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
}

var (
	serverCMD = cli.Command{
		Name:        "server",
		Usage:       "run the webhook API",
		Action:      serverAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Serve webhook ingestion and the dashboard query API. Signals are recorded but never routed to a broker.`,
	}
	traderCMD = cli.Command{
		Name:        "trader",
		Usage:       "run the auto-execution daemon",
		Action:      traderAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Serve the webhook API with broker connections registered, health monitoring, and automated order execution.`,
	}
	walrecoverCMD = cli.Command{
		Name:        "walrecover",
		Usage:       "replay stuck WAL entries",
		Action:      walrecoverAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run one crash-recovery sweep over the write-ahead log and exit.`,
	}
	verifyCMD = cli.Command{
		Name:        "verify",
		Usage:       "audit ledger integrity",
		Action:      verifyAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the read-only ledger consistency checks. Exits non-zero when violations are found.`,
	}
	keysCMD = cli.Command{
		Name:        "keys",
		Usage:       "manage broker credentials",
		Action:      keysAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Interactive CLI for storing encrypted broker credentials and toggling connections.`,
	}
)

func serverAction(_ *cli.Context) error {
	logger.Info("Starting server CMD")

	srv := &api.Server{}
	if err := srv.Start(); err != nil {
		logger.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func traderAction(_ *cli.Context) error {
	logger.Info("Starting trader CMD")

	daemon := &trader.Trader{}
	if err := daemon.Start(); err != nil {
		logger.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func walrecoverAction(_ *cli.Context) error {
	logger.Info("Starting walrecover CMD")

	sweep := &walrecover.Sweep{}
	if err := sweep.Start(); err != nil {
		logger.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func verifyAction(_ *cli.Context) error {
	logger.Info("Starting verify CMD")

	audit := &verify.Audit{}
	if err := audit.Start(); err != nil {
		return err
	}
	return nil
}

func keysAction(_ *cli.Context) error {
	logger.Info("Starting keys CMD")

	vault := &keys.Vault{}
	if err := vault.Start(); err != nil {
		logger.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}
