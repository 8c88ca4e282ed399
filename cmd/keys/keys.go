package keys

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	logger "github.com/sirupsen/logrus"

	"github.com/bostonrobbie/signalbridge/src/database"
	"github.com/bostonrobbie/signalbridge/src/model"
	"github.com/bostonrobbie/signalbridge/src/repository"
	"github.com/bostonrobbie/signalbridge/src/security"
)

// Vault is the interactive credential CLI. Broker secrets are encrypted
// before they reach the connections table; plaintext never touches disk.
type Vault struct{}

func (v *Vault) Start() error {
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
	// The keys CMD may run before the first daemon start, so the table has
	// to be created here too.
	if err := database.Migrate(db); err != nil {
		logger.WithError(err).Error("Failed to run migrations")
		return err
	}

	return runShell(ctx, repository.NewBrokerConnectionRepository(db), os.Stdin, os.Stdout)
}

func runShell(ctx context.Context, repo *repository.BrokerConnectionRepository, in io.Reader, out io.Writer) error {
	reader := bufio.NewScanner(in)
	reader.Buffer(make([]byte, 0, 1024), 1024*1024)

	printUsage(out)
	for {
		fmt.Fprint(out, "cmd> ")

		if !reader.Scan() {
			return reader.Err()
		}
		fields := strings.Fields(reader.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "help":
			printUsage(out)
		case "exit", "quit", "shutdown":
			return nil
		case "list":
			listConnections(ctx, repo, out)
		case "set":
			setConnection(ctx, repo, reader, out)
		case "enable", "disable":
			if len(fields) != 2 {
				fmt.Fprintln(out, "usage: enable|disable <connection-id>")
				continue
			}
			toggleConnection(ctx, repo, fields[1], fields[0] == "enable", out)
		default:
			fmt.Fprintln(out, "unknown command, try help")
		}
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Available commands:")
	fmt.Fprintln(out, "  help                             Show this help message")
	fmt.Fprintln(out, "  list                             List stored broker connections")
	fmt.Fprintln(out, "  set                              Create or replace a broker connection")
	fmt.Fprintln(out, "  enable <connection-id>           Let the trader use the connection")
	fmt.Fprintln(out, "  disable <connection-id>          Stop the trader from using the connection")
	fmt.Fprintln(out, "  exit                             Exit the application")
	fmt.Fprintln(out)
}

func listConnections(ctx context.Context, repo *repository.BrokerConnectionRepository, out io.Writer) {
	conns, err := repo.FindAll(ctx)
	if err != nil {
		fmt.Fprintln(out, "could not list connections:", err)
		return
	}
	if len(conns) == 0 {
		fmt.Fprintln(out, "no connections stored")
		return
	}
	for _, conn := range conns {
		state := "disabled"
		if conn.Enabled {
			state = "enabled"
		}
		fmt.Fprintf(out, "  %-24s %-13s %-6s priority=%-4d %s\n",
			conn.ConnectionID, conn.Broker, conn.Environment(), conn.Priority, state)
	}
}

func setConnection(ctx context.Context, repo *repository.BrokerConnectionRepository, reader *bufio.Scanner, out io.Writer) {
	conn := &model.BrokerConnection{
		ConnectionID: prompt(reader, out, "connection id"),
		UserID:       prompt(reader, out, "user id"),
	}
	if conn.ConnectionID == "" {
		fmt.Fprintln(out, "connection id is required")
		return
	}

	broker := model.Broker(strings.ToLower(prompt(reader, out, "broker (tradovate|ibkr|tradestation)")))
	switch broker {
	case model.BrokerTradovate, model.BrokerIBKR, model.BrokerTradeStation:
		conn.Broker = broker
	default:
		fmt.Fprintf(out, "unknown broker %q\n", broker)
		return
	}

	conn.IsPaper = strings.ToLower(prompt(reader, out, "environment (paper|live)")) != model.EnvironmentLive

	conn.Priority = 100
	if p := prompt(reader, out, "priority (lower executes first, default 100)"); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil {
			fmt.Fprintln(out, "priority must be a number")
			return
		}
		conn.Priority = parsed
	}

	payload, err := json.Marshal(promptCredentials(reader, out, conn.Broker))
	if err != nil {
		fmt.Fprintln(out, "could not encode credentials:", err)
		return
	}
	envelope, err := security.EncryptString(string(payload))
	if err != nil {
		fmt.Fprintln(out, "could not encrypt credentials:", err)
		return
	}
	conn.CredentialsEnc = envelope
	conn.Enabled = true

	if err := repo.Upsert(ctx, conn); err != nil {
		fmt.Fprintln(out, "could not store connection:", err)
		return
	}
	fmt.Fprintf(out, "stored %s (%s, %s)\n", conn.ConnectionID, conn.Broker, conn.Environment())
}

func promptCredentials(reader *bufio.Scanner, out io.Writer, broker model.Broker) model.BrokerCredentials {
	var creds model.BrokerCredentials
	switch broker {
	case model.BrokerTradovate:
		creds.Username = prompt(reader, out, "username")
		creds.Password = prompt(reader, out, "password")
		creds.AppID = prompt(reader, out, "app id (empty for default)")
		creds.CID = prompt(reader, out, "api cid")
		creds.Secret = prompt(reader, out, "api secret")
		creds.DeviceID = prompt(reader, out, "device id")
	case model.BrokerIBKR:
		creds.GatewayURL = prompt(reader, out, "gateway url (empty for default)")
	case model.BrokerTradeStation:
		creds.ClientID = prompt(reader, out, "client id")
		creds.ClientSecret = prompt(reader, out, "client secret")
		creds.RedirectURI = prompt(reader, out, "redirect uri")
		creds.RefreshToken = prompt(reader, out, "refresh token (empty until OAuth consent is done)")
	}
	return creds
}

func toggleConnection(ctx context.Context, repo *repository.BrokerConnectionRepository, connectionID string, enabled bool, out io.Writer) {
	if err := repo.SetEnabled(ctx, connectionID, enabled); err != nil {
		fmt.Fprintf(out, "could not update %s: %v\n", connectionID, err)
		return
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Fprintf(out, "%s %s\n", state, connectionID)
}

func prompt(reader *bufio.Scanner, out io.Writer, label string) string {
	fmt.Fprintf(out, "%s: ", label)
	if !reader.Scan() {
		return ""
	}
	return strings.TrimSpace(reader.Text())
}
