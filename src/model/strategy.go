package model

import "time"

// Strategy is the registry of signal sources. Rows are auto-created the
// first time a webhook arrives for an unknown symbol, so the dashboard
// always has something to attach settings to. AutoTrade is the per-strategy
// opt-in for automated execution; it defaults to off.
type Strategy struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Name         string     `gorm:"size:255;not null" json:"name"`
	Symbol       string     `gorm:"size:40;not null;uniqueIndex" json:"symbol"`
	Description  string     `gorm:"size:512" json:"description"`
	Active       bool       `gorm:"not null;default:true" json:"active"`
	AutoTrade    bool       `gorm:"not null;default:false" json:"auto_trade"`
	LastSignalAt *time.Time `json:"last_signal_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// AutoTradePayload toggles a strategy's execution opt-in. Enabled is a
// pointer so an absent field can be told apart from an explicit false.
type AutoTradePayload struct {
	Enabled *bool `json:"enabled"`
}
