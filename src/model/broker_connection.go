package model

import "time"

// Broker identifies which adapter serves a connection.
type Broker string

const (
	BrokerTradovate    Broker = "tradovate"
	BrokerIBKR         Broker = "ibkr"
	BrokerTradeStation Broker = "tradestation"
)

const (
	EnvironmentPaper = "paper"
	EnvironmentLive  = "live"
)

// BrokerConnection is a registered broker account. Credentials are stored
// only as a vault envelope; decryption happens at registration time and the
// plaintext never touches the ledger.
type BrokerConnection struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConnectionID   string    `gorm:"size:64;uniqueIndex" json:"connection_id"`
	UserID         string    `gorm:"size:60;not null;index" json:"user_id"`
	Broker         Broker    `gorm:"size:30;not null" json:"broker"`
	CredentialsEnc string    `gorm:"column:credentials;type:text" json:"-"`
	// No column defaults on the booleans: gorm drops zero values for
	// fields that have one, so false could never be stored on create.
	IsPaper   bool      `gorm:"not null" json:"is_paper"`
	Priority  int       `gorm:"not null;default:100" json:"priority"`
	Enabled   bool      `gorm:"not null" json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *BrokerConnection) Environment() string {
	if c.IsPaper {
		return EnvironmentPaper
	}
	return EnvironmentLive
}

// BrokerCredentials is the decrypted form of BrokerConnection.CredentialsEnc.
// Fields are per-broker: Tradovate uses Username..DeviceID, TradeStation the
// OAuth client fields, IBKR only GatewayURL (its login happens in the
// gateway, out of band).
type BrokerCredentials struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	AppID    string `json:"app_id,omitempty"`
	CID      string `json:"cid,omitempty"`
	Secret   string `json:"secret,omitempty"`
	DeviceID string `json:"device_id,omitempty"`

	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`

	GatewayURL string `json:"gateway_url,omitempty"`
}
