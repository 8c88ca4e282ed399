package autotrader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/bostonrobbie/signalbridge/src/brokers"
	"github.com/bostonrobbie/signalbridge/src/mapper"
	"github.com/bostonrobbie/signalbridge/src/model"
	"github.com/bostonrobbie/signalbridge/src/repository"
	"github.com/bostonrobbie/signalbridge/src/utils"
)

// ConnectionProvider is the slice of the registry the trader routes
// through.
type ConnectionProvider interface {
	EligibleConnections(paperOnly bool) []*brokers.Connection
}

// ContractResolver translates a chart symbol into one broker's contract
// identifier.
type ContractResolver interface {
	ContractFor(broker model.Broker, symbol string) (string, error)
}

// AutoTrader drains queued signals on a fixed cadence and routes each to
// the highest-priority broker connection that will take it. Every drained
// signal ends as exactly one execution record, placed or not.
type AutoTrader struct {
	config     Config
	provider   ConnectionProvider
	contracts  ContractResolver
	executions *repository.ExecutionRecordRepository
	exceptions *repository.ExceptionRepository
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	queue   []model.TradeSignal
	history *utils.Ring[model.ExecutionRecord]

	accounts sync.Map // connection id -> broker account id

	draining atomic.Bool
}

func NewAutoTrader(config Config, db *gorm.DB, provider ConnectionProvider, contracts ContractResolver) *AutoTrader {
	if config.QueueCapacity < 1 {
		config.QueueCapacity = 256
	}
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	history := config.HistorySize
	if history < 1 {
		history = 100
	}

	return &AutoTrader{
		config:     config,
		provider:   provider,
		contracts:  contracts,
		executions: repository.NewExecutionRecordRepository(db),
		exceptions: repository.NewExceptionRepository(db),
		now:        time.Now,
		sleep:      ctxSleep,
		history:    utils.NewRing[model.ExecutionRecord](history),
	}
}

// Enqueue accepts a signal for the next drain. A full queue rejects
// instead of blocking the caller.
func (t *AutoTrader) Enqueue(signal model.TradeSignal) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.queue) >= t.config.QueueCapacity {
		logger.WithFields(map[string]interface{}{
			"signal_id": signal.ID,
			"symbol":    signal.Symbol,
			"capacity":  t.config.QueueCapacity,
		}).Warn("signal queue full, rejecting")
		return false
	}

	t.queue = append(t.queue, signal)
	logger.WithFields(map[string]interface{}{
		"signal_id": signal.ID,
		"symbol":    signal.Symbol,
		"action":    signal.Action,
		"queued":    len(t.queue),
	}).Info("signal queued for execution")
	return true
}

// Pending reports the queued signal count.
func (t *AutoTrader) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// History returns the retained execution outcomes, oldest first.
func (t *AutoTrader) History() []model.ExecutionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.history.Items()
}

// Run drains the queue until ctx is canceled.
func (t *AutoTrader) Run(ctx context.Context) {
	interval := t.config.DrainInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.WithFields(map[string]interface{}{
		"drain_interval": interval,
		"paper_only":     t.config.PaperOnly,
		"failover":       t.config.FailoverEnabled,
	}).Info("auto trader started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("auto trader stopped")
			return
		case <-ticker.C:
			t.Drain(ctx)
		}
	}
}

// Drain executes everything queued right now. Overlapping drains are
// dropped so a slow broker cannot stack executions of the same queue.
func (t *AutoTrader) Drain(ctx context.Context) {
	if !t.draining.CompareAndSwap(false, true) {
		logger.Warn("previous drain still running, skipping")
		return
	}
	defer t.draining.Store(false)

	t.mu.Lock()
	batch := t.queue
	t.queue = nil
	t.mu.Unlock()

	for _, signal := range batch {
		if ctx.Err() != nil {
			// Push the rest back for the next drain after restart.
			t.mu.Lock()
			t.queue = append(t.queue, signal)
			t.mu.Unlock()
			continue
		}
		t.executeSignal(ctx, signal)
	}
}

// executeSignal walks the eligible connections in priority order. Each
// broker gets up to MaxRetries attempts with linearly growing delays;
// authentication failures skip the remaining attempts on that broker.
// RetryCount on the record is the total order attempts across brokers.
func (t *AutoTrader) executeSignal(ctx context.Context, signal model.TradeSignal) {
	record := model.ExecutionRecord{
		SignalID:   signal.ID,
		StrategyID: signal.StrategyID,
		Symbol:     signal.Symbol,
		Action:     signal.Action,
		Quantity:   signal.Quantity,
		ExecutedAt: t.now(),
	}

	conns := t.provider.EligibleConnections(t.config.PaperOnly)
	if len(conns) == 0 {
		t.concludeFailure(ctx, &record, errors.New("no eligible broker connections"))
		return
	}

	attempts := 0
	var lastErr error

	for i, conn := range conns {
		if i > 0 && !t.config.FailoverEnabled {
			break
		}

		contractID, err := t.contracts.ContractFor(conn.Broker, signal.Symbol)
		if err != nil {
			lastErr = err
			if !errors.Is(err, mapper.ErrNoContract) {
				logger.WithError(err).WithFields(map[string]interface{}{
					"signal_id": signal.ID,
					"broker":    conn.Broker,
				}).Warn("contract resolution failed")
			}
			continue
		}

		accountID, err := t.resolveAccount(ctx, conn)
		if err != nil {
			lastErr = err
			logger.WithError(err).WithFields(map[string]interface{}{
				"signal_id":     signal.ID,
				"connection_id": conn.ID,
				"broker":        conn.Broker,
			}).Warn("account resolution failed, failing over")
			continue
		}

		req := brokers.OrderRequest{
			AccountID:  accountID,
			ContractID: contractID,
			Action:     signal.Action,
			Quantity:   signal.Quantity,
			OrderType:  signal.OrderType,
			LimitPrice: signal.LimitPrice,
			SignalID:   signal.ID,
		}

		for attempt := 1; attempt <= t.config.MaxRetries; attempt++ {
			attempts++

			orderCtx, cancel := context.WithTimeout(ctx, t.config.OrderTimeout)
			result, err := conn.Client.PlaceOrder(orderCtx, req)
			cancel()

			if err == nil {
				record.Success = true
				record.Broker = string(conn.Broker)
				record.ConnectionID = conn.ID
				record.OrderID = &result.OrderID
				record.FilledPrice = result.FilledPrice
				record.RetryCount = attempts

				logger.WithFields(map[string]interface{}{
					"signal_id":     signal.ID,
					"broker":        conn.Broker,
					"connection_id": conn.ID,
					"order_id":      result.OrderID,
					"attempts":      attempts,
				}).Info("signal executed")

				t.conclude(ctx, &record)
				return
			}

			lastErr = err
			logger.WithError(err).WithFields(map[string]interface{}{
				"signal_id":     signal.ID,
				"broker":        conn.Broker,
				"connection_id": conn.ID,
				"attempt":       attempt,
			}).Warn("order attempt failed")

			if brokers.IsAuthError(err) {
				// Retrying a dead session wastes the window; move to the
				// next connection.
				break
			}
			if attempt < t.config.MaxRetries {
				if err := t.sleep(ctx, time.Duration(attempt)*t.config.RetryDelay); err != nil {
					record.RetryCount = attempts
					t.concludeFailure(ctx, &record, lastErr)
					return
				}
			}
		}
	}

	record.RetryCount = attempts
	t.concludeFailure(ctx, &record, lastErr)
}

// resolveAccount picks the connection's trading account, preferring the
// first active one, and caches it for subsequent signals.
func (t *AutoTrader) resolveAccount(ctx context.Context, conn *brokers.Connection) (string, error) {
	if cached, ok := t.accounts.Load(conn.ID); ok {
		return cached.(string), nil
	}

	accounts, err := conn.Client.Accounts(ctx)
	if err != nil {
		return "", fmt.Errorf("account lookup failed: %w", err)
	}
	if len(accounts) == 0 {
		return "", errors.New("broker reported no accounts")
	}

	selected := accounts[0]
	for _, account := range accounts {
		if account.Active {
			selected = account
			break
		}
	}

	t.accounts.Store(conn.ID, selected.ID)
	return selected.ID, nil
}

func (t *AutoTrader) concludeFailure(ctx context.Context, record *model.ExecutionRecord, cause error) {
	if cause == nil {
		cause = errors.New("execution failed")
	}
	message := cause.Error()
	record.Success = false
	record.ErrorMessage = &message

	logger.WithFields(map[string]interface{}{
		"signal_id": record.SignalID,
		"symbol":    record.Symbol,
		"attempts":  record.RetryCount,
	}).WithError(cause).Error("signal execution failed on every candidate")

	t.exceptions.Capture(ctx, "autotrader", "executeSignal", "error", cause, map[string]interface{}{
		"signal_id": record.SignalID,
		"symbol":    record.Symbol,
		"action":    record.Action,
	})

	t.conclude(ctx, record)
}

func (t *AutoTrader) conclude(ctx context.Context, record *model.ExecutionRecord) {
	t.mu.Lock()
	t.history.Push(*record)
	t.mu.Unlock()

	if err := t.executions.Create(ctx, record); err != nil {
		logger.WithError(err).WithField("signal_id", record.SignalID).Error("failed to persist execution record")
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
