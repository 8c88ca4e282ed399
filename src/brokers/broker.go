package brokers

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/bostonrobbie/signalbridge/src/model"
)

// Client is the uniform surface the trader and monitor work against. One
// Client serves one broker account; adapters keep their own session state
// behind it.
type Client interface {
	Broker() model.Broker
	Authenticate(ctx context.Context) (*AuthResult, error)
	Accounts(ctx context.Context) ([]Account, error)
	Positions(ctx context.Context) ([]Position, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	Health(ctx context.Context) *Snapshot
	Close() error
}

// TokenRefresher is implemented by adapters whose sessions ride on an
// expiring token. The registry refreshes ahead of expiry and falls back to
// a full Authenticate when the refresh fails.
type TokenRefresher interface {
	TokenExpiry() time.Time
	RefreshToken(ctx context.Context) error
}

// SessionKeepAlive is implemented by adapters whose sessions die without a
// periodic touch.
type SessionKeepAlive interface {
	KeepAlive(ctx context.Context) error
}

// Streamer is implemented by adapters that hold a push connection open.
// The registry starts the stream with a context that lives until the
// connection is unregistered.
type Streamer interface {
	StartUserSync(ctx context.Context)
}

type AuthResult struct {
	AccessToken string
	ExpiresAt   time.Time
	UserID      string
}

type Account struct {
	ID     string
	Name   string
	Active bool
}

// Position is a broker-side open position, quantity signed (negative for
// short).
type Position struct {
	ContractID string
	Symbol     string
	Quantity   float64
	AvgPrice   float64
}

// OrderRequest is already resolved to the broker's own contract identifier.
type OrderRequest struct {
	AccountID  string
	ContractID string
	Action     string
	Quantity   float64
	OrderType  string
	LimitPrice *float64
	SignalID   string
}

type OrderResult struct {
	OrderID     string
	Status      string
	FilledPrice *float64
}

const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Snapshot is one health observation of a connection.
type Snapshot struct {
	Broker           model.Broker `json:"broker"`
	Connected        bool         `json:"connected"`
	Authenticated    bool         `json:"authenticated"`
	TokenFraction    float64      `json:"token_fraction"`
	CompetingSession bool         `json:"competing_session"`
	Message          string       `json:"message,omitempty"`
	CheckedAt        time.Time    `json:"checked_at"`
}

// Score collapses a snapshot into 0-100: connectivity weighs 40,
// authentication 30, remaining token lifetime up to 20, and an exclusive
// session the final 10.
func (s *Snapshot) Score() int {
	score := 0
	if s.Connected {
		score += 40
	}
	if s.Authenticated {
		score += 30
	}
	fraction := s.TokenFraction
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	score += int(math.Round(20 * fraction))
	if !s.CompetingSession {
		score += 10
	}
	return score
}

// State buckets the score: 80 and above is healthy, below 50 unhealthy,
// everything between degraded.
func (s *Snapshot) State() string {
	score := s.Score()
	switch {
	case score >= 80:
		return StateHealthy
	case score < 50:
		return StateUnhealthy
	default:
		return StateDegraded
	}
}

// tokenFraction returns the remaining share of a token's lifetime, clamped
// to [0,1]. Sessions without an expiry report 1 while authenticated.
func tokenFraction(issued, expires, now time.Time) float64 {
	if expires.IsZero() {
		return 1
	}
	total := expires.Sub(issued)
	if total <= 0 {
		return 0
	}
	remaining := expires.Sub(now)
	if remaining <= 0 {
		return 0
	}
	fraction := float64(remaining) / float64(total)
	if fraction > 1 {
		fraction = 1
	}
	return fraction
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}

	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

// NewClient builds the adapter for a stored connection with its decrypted
// credentials.
func NewClient(config Config, conn *model.BrokerConnection, creds model.BrokerCredentials) (Client, error) {
	switch conn.Broker {
	case model.BrokerTradovate:
		return NewTradovateClient(config, conn.IsPaper, creds), nil
	case model.BrokerIBKR:
		return NewIBKRClient(config, creds), nil
	case model.BrokerTradeStation:
		return NewTradeStationClient(config, conn.IsPaper, creds), nil
	default:
		return nil, fmt.Errorf("unsupported broker %q", conn.Broker)
	}
}
