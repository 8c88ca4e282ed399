package model

import "time"

// ExecutionRecord stores the final outcome of each auto-trade attempt. Rows
// are append-only: one per drained signal, whether an order was placed or
// every candidate broker was exhausted.
type ExecutionRecord struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Snapshot of the signal at execution time
	SignalID   string  `gorm:"size:64;index" json:"signal_id"`
	StrategyID uint    `gorm:"index" json:"strategy_id"`
	Symbol     string  `gorm:"size:40" json:"symbol"`
	Action     string  `gorm:"size:10" json:"action"`
	Quantity   float64 `json:"quantity"`

	// Where the order landed (empty broker when no candidate accepted it)
	Broker       string  `gorm:"size:30;index" json:"broker"`
	ConnectionID string  `gorm:"size:64;index" json:"connection_id"`
	OrderID      *string `gorm:"size:255" json:"order_id,omitempty"`

	// Conclusion details
	Success      bool      `json:"success"`
	FilledPrice  *float64  `json:"filled_price,omitempty"`
	ErrorMessage *string   `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount   int       `json:"retry_count"`
	ExecutedAt   time.Time `json:"executed_at"`
	CreatedAt    time.Time `json:"created_at"`
}

func (ExecutionRecord) TableName() string {
	return "execution_records"
}
