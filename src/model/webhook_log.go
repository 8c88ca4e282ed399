package model

import "time"

const (
	WebhookStatusProcessing = "processing"
	WebhookStatusSuccess    = "success"
	WebhookStatusFailed     = "failed"
	WebhookStatusDuplicate  = "duplicate"
)

// WebhookLog records the business outcome of one processed webhook. Exactly
// one log row exists per WAL entry that reached processing; pre-WAL
// rejections (bad payload, bad token) produce neither.
type WebhookLog struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	WalEntryID uint   `gorm:"uniqueIndex" json:"wal_entry_id"`
	Payload    string `gorm:"type:text" json:"payload"`
	Status     string `gorm:"size:20;not null;index" json:"status"`

	StrategyID     uint   `gorm:"index" json:"strategy_id"`
	StrategySymbol string `gorm:"size:40;index" json:"strategy_symbol"`
	Direction      string `gorm:"size:10" json:"direction"`

	EntryPrice float64  `json:"entry_price"`
	ExitPrice  *float64 `json:"exit_price,omitempty"`
	Pnl        *float64 `json:"pnl,omitempty"`
	TradeID    *uint    `gorm:"index" json:"trade_id,omitempty"`

	ProcessingTimeMs *int64    `json:"processing_time_ms,omitempty"`
	ErrorMessage     *string   `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
