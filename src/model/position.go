package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PositionStatusOpen   = "open"
	PositionStatusClosed = "closed"
)

const (
	DirectionLong  = "Long"
	DirectionShort = "Short"
)

// OpenPosition is the live side of the ledger: at most one open row exists
// per strategy symbol (enforced by a partial unique index). Closing is
// terminal; the realized round trip is copied into a Trade.
type OpenPosition struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	StrategyID     uint       `gorm:"index" json:"strategy_id"`
	StrategySymbol string     `gorm:"size:40;not null;index" json:"strategy_symbol"`
	Direction      string     `gorm:"size:10;not null" json:"direction"`
	EntryPrice     float64    `json:"entry_price"`
	Quantity       float64    `json:"quantity"`
	EntryTime      time.Time  `json:"entry_time"`
	Status         string     `gorm:"size:20;not null;default:open;index" json:"status"`
	ExitPrice      *float64   `json:"exit_price,omitempty"`
	ExitTime       *time.Time `json:"exit_time,omitempty"`
	Pnl            *float64   `json:"pnl,omitempty"`
	TradeID        *uint      `gorm:"index" json:"trade_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// RealizedPnl computes the signed profit for closing this position at
// exitPrice. Long pays (exit-entry)*qty, Short the negation. The math runs
// on decimals so 4500.25-style futures prices do not accumulate float noise.
func (p *OpenPosition) RealizedPnl(exitPrice float64) float64 {
	entry := decimal.NewFromFloat(p.EntryPrice)
	exit := decimal.NewFromFloat(exitPrice)
	qty := decimal.NewFromFloat(p.Quantity)

	gross := exit.Sub(entry).Mul(qty)
	if p.Direction == DirectionShort {
		gross = gross.Neg()
	}
	f, _ := gross.Float64()
	return f
}

// RealizedPnlPercent returns the realized return relative to the entry
// price, signed the same way as RealizedPnl. Zero entry price yields zero.
func (p *OpenPosition) RealizedPnlPercent(exitPrice float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	entry := decimal.NewFromFloat(p.EntryPrice)
	exit := decimal.NewFromFloat(exitPrice)

	pct := exit.Sub(entry).Div(entry).Mul(decimal.NewFromInt(100))
	if p.Direction == DirectionShort {
		pct = pct.Neg()
	}
	f, _ := pct.Float64()
	return f
}
