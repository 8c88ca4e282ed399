package brokers

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/bostonrobbie/signalbridge/src/model"
)

// IBKRClient speaks to a locally running Client Portal gateway. The
// gateway owns the brokerage session; this client can only probe it,
// nudge it alive with tickles, and ask it to reauthenticate.
type IBKRClient struct {
	config Config
	creds  model.BrokerCredentials

	http    *resty.Client
	trading *resty.Client
	limiter *rate.Limiter

	reauthPoll time.Duration

	mu         sync.RWMutex
	account    string
	lastStatus ibkrAuthStatus
}

type ibkrAuthStatus struct {
	Authenticated bool   `json:"authenticated"`
	Connected     bool   `json:"connected"`
	Competing     bool   `json:"competing"`
	Fail          string `json:"fail"`
	Message       string `json:"message"`
}

func NewIBKRClient(config Config, creds model.BrokerCredentials) *IBKRClient {
	baseURL := creds.GatewayURL
	if baseURL == "" {
		baseURL = config.IBKRGatewayURL
	}

	rps := config.IBKRRPS
	if rps < 1 {
		rps = 1
	}

	// The gateway terminates TLS with a self-signed localhost certificate.
	tlsConfig := &tls.Config{InsecureSkipVerify: true}

	return &IBKRClient{
		config: config,
		creds:  creds,
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(config.RequestTimeout).
			SetTLSClientConfig(tlsConfig).
			SetRetryCount(2).
			AddRetryCondition(isRetryableResp),
		trading: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(config.RequestTimeout).
			SetTLSClientConfig(tlsConfig),
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		reauthPoll: time.Second,
	}
}

func (c *IBKRClient) Broker() model.Broker {
	return model.BrokerIBKR
}

// Authenticate verifies the gateway session, asking it to reauthenticate
// once when the brokerage side has gone stale. The gateway needs a human
// login through its web UI when even that fails.
func (c *IBKRClient) Authenticate(ctx context.Context) (*AuthResult, error) {
	status, err := c.authStatus(ctx)
	if err != nil {
		return nil, err
	}

	if !status.Authenticated {
		logger.WithField("broker", "ibkr").Info("gateway session stale, requesting reauthentication")
		if err := c.reauthenticate(ctx); err != nil {
			return nil, err
		}
		status, err = c.waitAuthenticated(ctx)
		if err != nil {
			return nil, err
		}
	}

	if status.Competing {
		logger.WithField("broker", "ibkr").Warn("gateway session is competing with another login")
	}

	account, err := c.selectedAccount(ctx)
	if err != nil {
		return nil, err
	}

	return &AuthResult{UserID: account}, nil
}

func (c *IBKRClient) authStatus(ctx context.Context) (ibkrAuthStatus, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return ibkrAuthStatus{}, err
	}

	var status ibkrAuthStatus
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&status).
		Post("/iserver/auth/status")
	if err != nil {
		return ibkrAuthStatus{}, fmt.Errorf("ibkr auth status failed: %w", err)
	}
	if resp.StatusCode() == 401 {
		return ibkrAuthStatus{}, &AuthError{Broker: "ibkr", Status: resp.StatusCode(), Reason: "gateway session not logged in"}
	}
	if resp.StatusCode()/100 != 2 {
		return ibkrAuthStatus{}, fmt.Errorf("ibkr auth status non-2xx: %d", resp.StatusCode())
	}

	c.mu.Lock()
	c.lastStatus = status
	c.mu.Unlock()
	return status, nil
}

func (c *IBKRClient) reauthenticate(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	resp, err := c.http.R().SetContext(ctx).Post("/iserver/reauthenticate")
	if err != nil {
		return fmt.Errorf("ibkr reauthenticate failed: %w", err)
	}
	if resp.StatusCode()/100 != 2 {
		return fmt.Errorf("ibkr reauthenticate non-2xx: %d", resp.StatusCode())
	}
	return nil
}

// waitAuthenticated polls auth status while the gateway re-establishes
// the brokerage session. Reauthentication settles within a few seconds
// when it is going to succeed at all.
func (c *IBKRClient) waitAuthenticated(ctx context.Context) (ibkrAuthStatus, error) {
	var status ibkrAuthStatus
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		select {
		case <-ctx.Done():
			return ibkrAuthStatus{}, ctx.Err()
		case <-time.After(c.reauthPoll):
		}

		status, err = c.authStatus(ctx)
		if err != nil {
			return ibkrAuthStatus{}, err
		}
		if status.Authenticated {
			return status, nil
		}
	}
	return ibkrAuthStatus{}, &AuthError{Broker: "ibkr", Status: 0, Reason: "gateway did not reauthenticate, manual login required"}
}

// KeepAlive tickles the gateway so it does not expire the session for
// inactivity.
func (c *IBKRClient) KeepAlive(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var out struct {
		IServer struct {
			AuthStatus ibkrAuthStatus `json:"authStatus"`
		} `json:"iserver"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Post("/tickle")
	if err != nil {
		return fmt.Errorf("ibkr tickle failed: %w", err)
	}
	if resp.StatusCode()/100 != 2 {
		return fmt.Errorf("ibkr tickle non-2xx: %d", resp.StatusCode())
	}

	c.mu.Lock()
	c.lastStatus = out.IServer.AuthStatus
	c.mu.Unlock()
	return nil
}

func (c *IBKRClient) selectedAccount(ctx context.Context) (string, error) {
	c.mu.RLock()
	cached := c.account
	c.mu.RUnlock()
	if cached != "" {
		return cached, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	var out struct {
		Accounts        []string `json:"accounts"`
		SelectedAccount string   `json:"selectedAccount"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/iserver/accounts")
	if err != nil {
		return "", fmt.Errorf("ibkr accounts lookup failed: %w", err)
	}
	if resp.StatusCode()/100 != 2 {
		return "", fmt.Errorf("ibkr accounts lookup non-2xx: %d", resp.StatusCode())
	}

	account := out.SelectedAccount
	if account == "" && len(out.Accounts) > 0 {
		account = out.Accounts[0]
	}
	if account == "" {
		return "", fmt.Errorf("ibkr gateway reported no accounts")
	}

	c.mu.Lock()
	c.account = account
	c.mu.Unlock()
	return account, nil
}

func (c *IBKRClient) Accounts(ctx context.Context) ([]Account, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var out struct {
		Accounts        []string `json:"accounts"`
		SelectedAccount string   `json:"selectedAccount"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/iserver/accounts")
	if err != nil {
		return nil, fmt.Errorf("ibkr accounts lookup failed: %w", err)
	}
	if resp.StatusCode()/100 != 2 {
		return nil, fmt.Errorf("ibkr accounts lookup non-2xx: %d", resp.StatusCode())
	}

	accounts := make([]Account, 0, len(out.Accounts))
	for _, id := range out.Accounts {
		accounts = append(accounts, Account{
			ID:     id,
			Name:   id,
			Active: id == out.SelectedAccount || out.SelectedAccount == "",
		})
	}
	return accounts, nil
}

type ibkrPosition struct {
	ConID        int64   `json:"conid"`
	Position     float64 `json:"position"`
	AvgCost      float64 `json:"avgCost"`
	ContractDesc string  `json:"contractDesc"`
}

func (c *IBKRClient) Positions(ctx context.Context) ([]Position, error) {
	account, err := c.selectedAccount(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var out []ibkrPosition
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/portfolio/%s/positions/0", account))
	if err != nil {
		return nil, fmt.Errorf("ibkr positions lookup failed: %w", err)
	}
	if resp.StatusCode()/100 != 2 {
		return nil, fmt.Errorf("ibkr positions lookup non-2xx: %d", resp.StatusCode())
	}

	positions := make([]Position, 0, len(out))
	for _, p := range out {
		if p.Position == 0 {
			continue
		}
		positions = append(positions, Position{
			ContractID: strconv.FormatInt(p.ConID, 10),
			Symbol:     p.ContractDesc,
			Quantity:   p.Position,
			AvgPrice:   p.AvgCost,
		})
	}
	return positions, nil
}

type ibkrOrderReply struct {
	ID          string   `json:"id"`
	Message     []string `json:"message"`
	OrderID     string   `json:"order_id"`
	OrderStatus string   `json:"order_status"`
}

// PlaceOrder submits through the gateway and answers its confirmation
// prompts. The gateway interposes warnings (precautionary size, market
// order confirmations) that must each be acknowledged before the order
// reaches the exchange.
func (c *IBKRClient) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	account := req.AccountID
	if account == "" {
		var err error
		account, err = c.selectedAccount(ctx)
		if err != nil {
			return nil, err
		}
	}

	conid, err := strconv.ParseInt(req.ContractID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("ibkr conid %q is not numeric: %w", req.ContractID, err)
	}

	side := "BUY"
	if req.Action == model.SignalActionSell {
		side = "SELL"
	}
	order := map[string]interface{}{
		"conid":     conid,
		"orderType": "MKT",
		"side":      side,
		"quantity":  req.Quantity,
		"tif":       "DAY",
		"cOID":      req.SignalID,
	}
	if req.OrderType == model.OrderTypeLimit && req.LimitPrice != nil {
		order["orderType"] = "LMT"
		order["price"] = *req.LimitPrice
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var replies []ibkrOrderReply
	resp, err := c.trading.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"orders": []map[string]interface{}{order}}).
		SetResult(&replies).
		Post(fmt.Sprintf("/iserver/account/%s/orders", account))
	if err != nil {
		return nil, fmt.Errorf("ibkr order request failed: %w", err)
	}
	if resp.StatusCode() == 401 {
		return nil, &AuthError{Broker: "ibkr", Status: resp.StatusCode(), Reason: "order rejected unauthenticated"}
	}
	if resp.StatusCode()/100 != 2 {
		return nil, fmt.Errorf("ibkr order non-2xx status: %d body=%s", resp.StatusCode(), string(resp.Body()))
	}

	for confirmations := 0; confirmations < 3; confirmations++ {
		if len(replies) == 0 {
			return nil, fmt.Errorf("ibkr order returned empty reply")
		}
		first := replies[0]
		if first.OrderID != "" {
			logger.WithFields(map[string]interface{}{
				"broker":    "ibkr",
				"order_id":  first.OrderID,
				"status":    first.OrderStatus,
				"conid":     conid,
				"side":      side,
				"signal_id": req.SignalID,
			}).Info("ibkr order placed")
			return &OrderResult{OrderID: first.OrderID, Status: first.OrderStatus}, nil
		}
		if first.ID == "" {
			return nil, fmt.Errorf("ibkr order reply carried neither order id nor confirmation id")
		}

		logger.WithFields(map[string]interface{}{
			"broker":   "ibkr",
			"reply_id": first.ID,
			"messages": first.Message,
		}).Debug("confirming ibkr order prompt")

		var next []ibkrOrderReply
		resp, err := c.trading.R().
			SetContext(ctx).
			SetBody(map[string]interface{}{"confirmed": true}).
			SetResult(&next).
			Post(fmt.Sprintf("/iserver/reply/%s", first.ID))
		if err != nil {
			return nil, fmt.Errorf("ibkr order confirmation failed: %w", err)
		}
		if resp.StatusCode()/100 != 2 {
			return nil, fmt.Errorf("ibkr order confirmation non-2xx status: %d", resp.StatusCode())
		}
		replies = next
	}

	return nil, fmt.Errorf("ibkr order still unconfirmed after 3 replies")
}

func (c *IBKRClient) CancelOrder(ctx context.Context, orderID string) error {
	account, err := c.selectedAccount(ctx)
	if err != nil {
		return err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	resp, err := c.trading.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("/iserver/account/%s/order/%s", account, orderID))
	if err != nil {
		return fmt.Errorf("ibkr cancel request failed: %w", err)
	}
	if resp.StatusCode()/100 != 2 {
		return fmt.Errorf("ibkr cancel non-2xx status: %d", resp.StatusCode())
	}
	return nil
}

// Health probes the gateway live: its session state is server-side, so
// the last cached status could hide a gateway that just died.
func (c *IBKRClient) Health(ctx context.Context) *Snapshot {
	now := time.Now()

	status, err := c.authStatus(ctx)
	if err != nil {
		c.mu.RLock()
		status = c.lastStatus
		c.mu.RUnlock()

		return &Snapshot{
			Broker:           model.BrokerIBKR,
			Connected:        false,
			Authenticated:    false,
			TokenFraction:    0,
			CompetingSession: status.Competing,
			Message:          err.Error(),
			CheckedAt:        now,
		}
	}

	fraction := 0.0
	if status.Authenticated {
		// The gateway session has no visible expiry; it is either live
		// or it is not.
		fraction = 1.0
	}

	message := status.Message
	if message == "" && status.Fail != "" {
		message = status.Fail
	}

	return &Snapshot{
		Broker:           model.BrokerIBKR,
		Connected:        status.Connected,
		Authenticated:    status.Authenticated,
		TokenFraction:    fraction,
		CompetingSession: status.Competing,
		Message:          message,
		CheckedAt:        now,
	}
}

func (c *IBKRClient) Close() error {
	return nil
}
