package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/bostonrobbie/signalbridge/src/model"
	"github.com/bostonrobbie/signalbridge/src/repository"
	"github.com/bostonrobbie/signalbridge/src/utils"
)

// SignalSink receives execution work once a ledger transition commits.
// Enqueue must not block; it reports false when the signal was dropped.
type SignalSink interface {
	Enqueue(signal model.TradeSignal) bool
}

// Outcome is the processing verdict returned to the webhook sender.
// CorrelationID is empty for rejections that never reached the WAL.
type Outcome struct {
	Accepted      bool   `json:"accepted"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// Pipeline runs the WAL-first ingestion flow: parse, validate, authorize,
// append to the WAL, then apply the position lifecycle. Everything after the
// WAL append is replayable from the stored raw payload.
type Pipeline struct {
	config     Config
	wal        *repository.WalRepository
	positions  *repository.PositionRepository
	strategies *repository.StrategyRepository
	exceptions *repository.ExceptionRepository
	trader     SignalSink
	now        func() time.Time
}

func NewPipeline(config Config, db *gorm.DB) *Pipeline {
	return &Pipeline{
		config:     config,
		wal:        repository.NewWalRepository(db),
		positions:  repository.NewPositionRepository(db),
		strategies: repository.NewStrategyRepository(db),
		exceptions: repository.NewExceptionRepository(db),
		now:        time.Now,
	}
}

// AttachTrader wires the execution queue. Without one, accepted signals
// only update the ledger.
func (p *Pipeline) AttachTrader(trader SignalSink) {
	p.trader = trader
}

// Ingest processes one raw webhook body end to end. The returned Outcome is
// what the sender sees; a non-nil error means the store failed and nothing
// conclusive can be reported.
func (p *Pipeline) Ingest(ctx context.Context, rawBody []byte) (*Outcome, error) {
	started := p.now()

	var alert model.Alert
	if err := json.Unmarshal(rawBody, &alert); err != nil {
		logger.WithError(err).Warn("rejecting webhook: unparseable payload")
		return &Outcome{Accepted: false, Reason: model.ReasonInvalidPayload}, nil
	}

	if err := ValidateAlert(&alert); err != nil {
		logger.WithFields(map[string]interface{}{
			"symbol": alert.Symbol,
			"action": alert.ActionValue(),
		}).WithError(err).Warn("rejecting webhook: invalid payload")
		return &Outcome{Accepted: false, Reason: model.ReasonInvalidPayload}, nil
	}

	if !p.authorized(&alert) {
		// One reason for both bad token and stale timestamp, so probes
		// cannot tell which check failed.
		logger.WithField("symbol", alert.Symbol).Warn("rejecting webhook: stale or unauthorized")
		return &Outcome{Accepted: false, Reason: model.ReasonStaleOrUnauthorized}, nil
	}

	entry := &model.WalEntry{
		CorrelationID: uuid.New().String(),
		RawPayload:    string(rawBody),
	}
	if err := p.wal.Create(ctx, entry); err != nil {
		p.exceptions.Capture(ctx, "ingest", "wal.Create", "error", err, map[string]interface{}{
			"symbol": alert.Symbol,
		})
		return nil, err
	}
	if err := p.wal.MarkProcessing(ctx, entry.ID); err != nil {
		p.exceptions.Capture(ctx, "ingest", "wal.MarkProcessing", "error", err, map[string]interface{}{
			"correlation_id": entry.CorrelationID,
		})
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"correlation_id": entry.CorrelationID,
		"symbol":         alert.Symbol,
		"action":         alert.ActionValue(),
	}).Info("webhook accepted into WAL")

	return p.apply(ctx, entry, &alert, started, true)
}

// apply runs the position lifecycle for a WAL entry. dispatch gates the
// execution hand-off; replayed entries update the ledger only.
func (p *Pipeline) apply(
	ctx context.Context,
	entry *model.WalEntry,
	alert *model.Alert,
	started time.Time,
	dispatch bool,
) (*Outcome, error) {

	symbol := strings.ToUpper(strings.TrimSpace(alert.Symbol))

	strategy, err := p.strategies.FindOrCreateBySymbol(ctx, symbol, alert.Strategy)
	if err != nil {
		p.exceptions.Capture(ctx, "ingest", "strategies.FindOrCreateBySymbol", "error", err, map[string]interface{}{
			"correlation_id": entry.CorrelationID,
			"symbol":         symbol,
		})
		return nil, err
	}
	if err := p.strategies.TouchLastSignal(ctx, strategy.ID, alert.Timestamp()); err != nil {
		logger.WithError(err).WithField("strategy_id", strategy.ID).Error("failed to stamp last signal time")
	}

	if alert.IsExit() {
		return p.applyExit(ctx, entry, alert, strategy, symbol, started, dispatch)
	}
	return p.applyEntry(ctx, entry, alert, strategy, symbol, started, dispatch)
}

func (p *Pipeline) applyEntry(
	ctx context.Context,
	entry *model.WalEntry,
	alert *model.Alert,
	strategy *model.Strategy,
	symbol string,
	started time.Time,
	dispatch bool,
) (*Outcome, error) {

	direction := alert.ResolvedDirection()
	entryPrice := alert.EffectiveEntryPrice()

	pos := &model.OpenPosition{
		StrategyID:     strategy.ID,
		StrategySymbol: symbol,
		Direction:      direction,
		EntryPrice:     entryPrice,
		Quantity:       alert.Quantity.Value,
		EntryTime:      alert.Timestamp(),
		Status:         model.PositionStatusOpen,
	}
	logRow := &model.WebhookLog{
		WalEntryID:       entry.ID,
		Payload:          entry.RawPayload,
		Status:           model.WebhookStatusSuccess,
		StrategyID:       strategy.ID,
		StrategySymbol:   symbol,
		Direction:        direction,
		EntryPrice:       entryPrice,
		ProcessingTimeMs: p.elapsedMs(started),
	}

	err := p.positions.OpenWithLog(ctx, pos, logRow)
	if errors.Is(err, repository.ErrPositionExists) {
		return p.fail(ctx, entry, strategy, symbol, direction, model.ReasonPositionExists, started)
	}
	if err != nil {
		p.exceptions.Capture(ctx, "ingest", "positions.OpenWithLog", "error", err, map[string]interface{}{
			"correlation_id": entry.CorrelationID,
			"symbol":         symbol,
		})
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"correlation_id": entry.CorrelationID,
		"symbol":         symbol,
		"direction":      direction,
		"entry_price":    entryPrice,
		"quantity":       pos.Quantity,
	}).Info("position opened")

	if dispatch {
		action := model.SignalActionBuy
		if direction == model.DirectionShort {
			action = model.SignalActionSell
		}
		p.dispatch(ctx, strategy, entry.CorrelationID, symbol, action, pos.Quantity)
	}

	return &Outcome{Accepted: true, CorrelationID: entry.CorrelationID}, nil
}

func (p *Pipeline) applyExit(
	ctx context.Context,
	entry *model.WalEntry,
	alert *model.Alert,
	strategy *model.Strategy,
	symbol string,
	started time.Time,
	dispatch bool,
) (*Outcome, error) {

	pos, err := p.positions.FindOpenBySymbol(ctx, symbol)
	if err != nil {
		p.exceptions.Capture(ctx, "ingest", "positions.FindOpenBySymbol", "error", err, map[string]interface{}{
			"correlation_id": entry.CorrelationID,
			"symbol":         symbol,
		})
		return nil, err
	}
	if pos == nil {
		return p.fail(ctx, entry, strategy, symbol, "", model.ReasonNoOpenPosition, started)
	}

	exitPrice := alert.EffectiveExitPrice()
	exitTime := alert.Timestamp()

	logRow := &model.WebhookLog{
		WalEntryID:       entry.ID,
		Payload:          entry.RawPayload,
		Status:           model.WebhookStatusSuccess,
		StrategyID:       strategy.ID,
		StrategySymbol:   symbol,
		Direction:        pos.Direction,
		EntryPrice:       pos.EntryPrice,
		ProcessingTimeMs: p.elapsedMs(started),
	}

	trade, err := p.positions.CloseWithTrade(ctx, pos, exitPrice, exitTime, logRow)
	if errors.Is(err, repository.ErrNoOpenPosition) {
		return p.fail(ctx, entry, strategy, symbol, pos.Direction, model.ReasonNoOpenPosition, started)
	}
	if err != nil {
		p.exceptions.Capture(ctx, "ingest", "positions.CloseWithTrade", "error", err, map[string]interface{}{
			"correlation_id": entry.CorrelationID,
			"symbol":         symbol,
		})
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"correlation_id": entry.CorrelationID,
		"symbol":         symbol,
		"direction":      pos.Direction,
		"exit_price":     exitPrice,
		"pnl":            trade.Pnl,
		"trade_id":       trade.ID,
	}).Info("position closed")

	if dispatch {
		// Closing reverses the side the position was opened on.
		action := model.SignalActionSell
		if pos.Direction == model.DirectionShort {
			action = model.SignalActionBuy
		}
		p.dispatch(ctx, strategy, entry.CorrelationID, symbol, action, pos.Quantity)
	}

	return &Outcome{Accepted: true, CorrelationID: entry.CorrelationID}, nil
}

// fail records a business-rule rejection: one failure log row plus the WAL
// failed finalization, committed together.
func (p *Pipeline) fail(
	ctx context.Context,
	entry *model.WalEntry,
	strategy *model.Strategy,
	symbol string,
	direction string,
	reason string,
	started time.Time,
) (*Outcome, error) {

	status := model.WebhookStatusFailed
	if reason == model.ReasonPositionExists {
		status = model.WebhookStatusDuplicate
	}

	msg := reason
	logRow := &model.WebhookLog{
		Payload:          entry.RawPayload,
		Status:           status,
		StrategyID:       strategy.ID,
		StrategySymbol:   symbol,
		Direction:        direction,
		ErrorMessage:     &msg,
		ProcessingTimeMs: p.elapsedMs(started),
	}

	if err := p.positions.FailWithLog(ctx, entry.ID, reason, logRow); err != nil {
		p.exceptions.Capture(ctx, "ingest", "positions.FailWithLog", "error", err, map[string]interface{}{
			"correlation_id": entry.CorrelationID,
			"symbol":         symbol,
			"reason":         reason,
		})
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"correlation_id": entry.CorrelationID,
		"symbol":         symbol,
		"reason":         reason,
	}).Warn("webhook rejected by position rules")

	return &Outcome{Accepted: false, Reason: reason, CorrelationID: entry.CorrelationID}, nil
}

func (p *Pipeline) dispatch(
	ctx context.Context,
	strategy *model.Strategy,
	correlationID string,
	symbol string,
	action string,
	quantity float64,
) {
	if p.trader == nil || !strategy.AutoTrade {
		return
	}

	signal := model.TradeSignal{
		ID:         correlationID,
		StrategyID: strategy.ID,
		Symbol:     symbol,
		Action:     action,
		Quantity:   quantity,
		OrderType:  model.OrderTypeMarket,
		Timestamp:  p.now(),
	}
	if !p.trader.Enqueue(signal) {
		logger.WithFields(map[string]interface{}{
			"correlation_id": correlationID,
			"symbol":         symbol,
			"action":         action,
		}).Warn("execution queue full, signal dropped")
	}
}

func (p *Pipeline) authorized(alert *model.Alert) bool {
	if alert.Token != p.config.WebhookToken {
		return false
	}
	return utils.WithinFreshness(alert.Timestamp(), p.now(), p.config.FreshnessWindow)
}

func (p *Pipeline) elapsedMs(started time.Time) *int64 {
	ms := p.now().Sub(started).Milliseconds()
	return &ms
}
