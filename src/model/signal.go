package model

import "time"

const (
	SignalActionBuy  = "BUY"
	SignalActionSell = "SELL"
)

const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// TradeSignal is the in-memory unit of work handed to the auto trader once
// a ledger transition succeeds for an opted-in strategy. Entries map Long to
// BUY and Short to SELL; exits map to the opposite side of the position.
type TradeSignal struct {
	ID         string    `json:"id"`
	StrategyID uint      `json:"strategy_id"`
	Symbol     string    `json:"symbol"`
	Action     string    `json:"action"`
	Quantity   float64   `json:"quantity"`
	OrderType  string    `json:"order_type"`
	LimitPrice *float64  `json:"limit_price,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
