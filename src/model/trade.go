package model

import "time"

// Trade is an immutable realized round trip, written once when a position
// closes. Pnl is always the server-side recomputation, never the value the
// sender reported.
type Trade struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	StrategyID     uint      `gorm:"index" json:"strategy_id"`
	StrategySymbol string    `gorm:"size:40;index" json:"strategy_symbol"`
	Direction      string    `gorm:"size:10;not null" json:"direction"`
	EntryDate      time.Time `json:"entry_date"`
	ExitDate       time.Time `json:"exit_date"`
	EntryPrice     float64   `json:"entry_price"`
	ExitPrice      float64   `json:"exit_price"`
	Quantity       float64   `json:"quantity"`
	Pnl            float64   `json:"pnl"`
	PnlPercent     float64   `json:"pnl_percent"`
	CreatedAt      time.Time `json:"created_at"`
}
