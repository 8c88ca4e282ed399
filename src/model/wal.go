package model

import "time"

// WalEntry statuses. An entry moves pending -> processing -> completed|failed
// exactly once; completed and failed are terminal.
const (
	WalStatusPending    = "pending"
	WalStatusProcessing = "processing"
	WalStatusCompleted  = "completed"
	WalStatusFailed     = "failed"
)

// Rejection and failure reason codes surfaced to the sender and stored on
// the WAL entry / webhook log.
const (
	ReasonInvalidPayload      = "INVALID_PAYLOAD"
	ReasonStaleOrUnauthorized = "STALE_OR_UNAUTHORIZED"
	ReasonPositionExists      = "POSITION_EXISTS"
	ReasonNoOpenPosition      = "NO_OPEN_POSITION"
)

// WalEntry is the write-ahead record for every webhook accepted for
// processing. The raw body is stored verbatim so a crashed entry can be
// replayed from the log alone.
type WalEntry struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	CorrelationID string    `gorm:"size:64;uniqueIndex" json:"correlation_id"`
	Status        string    `gorm:"size:20;not null;index" json:"status"`
	RawPayload    string    `gorm:"type:text" json:"raw_payload"`
	WebhookLogID  *uint     `gorm:"index" json:"webhook_log_id,omitempty"`
	ErrorMessage  *string   `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (WalEntry) TableName() string {
	return "wal_entries"
}
