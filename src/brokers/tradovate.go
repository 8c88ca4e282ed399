package brokers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/bostonrobbie/signalbridge/src/model"
)

const tradovateHeartbeatInterval = 2500 * time.Millisecond

// TradovateClient drives the Tradovate REST API plus its user-sync
// websocket. REST sessions ride on an access token that expires; the
// registry renews it through the TokenRefresher surface.
type TradovateClient struct {
	config  Config
	creds   model.BrokerCredentials
	baseURL string
	isPaper bool

	http    *resty.Client
	trading *resty.Client
	limiter *rate.Limiter

	mu          sync.RWMutex
	accessToken string
	tokenIssued time.Time
	tokenExpiry time.Time
	userID      string
	lastWSError string

	contractNames sync.Map // contract id -> symbol

	wsStarted   atomic.Bool
	wsConnected atomic.Bool
	wsCancel    context.CancelFunc
}

func NewTradovateClient(config Config, isPaper bool, creds model.BrokerCredentials) *TradovateClient {
	baseURL := config.TradovateLiveURL
	if isPaper {
		baseURL = config.TradovateDemoURL
	}

	rps := config.TradovateRPS
	if rps < 1 {
		rps = 1
	}

	// Orders go out single-shot: execution retries belong to the trader,
	// and a replayed POST risks a double fill.
	return &TradovateClient{
		config:  config,
		creds:   creds,
		baseURL: baseURL,
		isPaper: isPaper,
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(config.RequestTimeout).
			SetRetryCount(2).
			AddRetryCondition(isRetryableResp),
		trading: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(config.RequestTimeout),
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

func (c *TradovateClient) Broker() model.Broker {
	return model.BrokerTradovate
}

type tradovateAuthRequest struct {
	Name       string `json:"name"`
	Password   string `json:"password"`
	AppID      string `json:"appId"`
	AppVersion string `json:"appVersion"`
	CID        int    `json:"cid"`
	Sec        string `json:"sec"`
	DeviceID   string `json:"deviceId,omitempty"`
}

type tradovateAuthResponse struct {
	AccessToken    string    `json:"accessToken"`
	ExpirationTime time.Time `json:"expirationTime"`
	UserID         int64     `json:"userId"`
	Name           string    `json:"name"`
	ErrorText      string    `json:"errorText"`
	PTicket        string    `json:"p-ticket"`
	PTime          int       `json:"p-time"`
}

func (c *TradovateClient) Authenticate(ctx context.Context) (*AuthResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	cid, _ := strconv.Atoi(c.creds.CID)
	appID := c.creds.AppID
	if appID == "" {
		appID = c.config.TradovateAppID
	}
	body := tradovateAuthRequest{
		Name:       c.creds.Username,
		Password:   c.creds.Password,
		AppID:      appID,
		AppVersion: "1.0",
		CID:        cid,
		Sec:        c.creds.Secret,
		DeviceID:   c.creds.DeviceID,
	}

	var out tradovateAuthResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/auth/accesstokenrequest")
	if err != nil {
		return nil, fmt.Errorf("tradovate auth request failed: %w", err)
	}

	if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
		return nil, &AuthError{Broker: "tradovate", Status: resp.StatusCode(), Reason: strings.TrimSpace(string(resp.Body()))}
	}
	if resp.StatusCode()/100 != 2 {
		return nil, fmt.Errorf("tradovate auth non-2xx status: %d body=%s", resp.StatusCode(), string(resp.Body()))
	}
	if out.ErrorText != "" {
		return nil, &AuthError{Broker: "tradovate", Status: resp.StatusCode(), Reason: out.ErrorText}
	}
	if out.PTicket != "" {
		// Time-penalty: too many failed attempts. Retrying now only extends it.
		return nil, &AuthError{Broker: "tradovate", Status: resp.StatusCode(), Reason: fmt.Sprintf("penalty ticket issued, retry after %ds", out.PTime)}
	}
	if out.AccessToken == "" {
		return nil, &AuthError{Broker: "tradovate", Status: resp.StatusCode(), Reason: "no access token in response"}
	}

	now := time.Now()
	c.mu.Lock()
	c.accessToken = out.AccessToken
	c.tokenIssued = now
	c.tokenExpiry = out.ExpirationTime
	c.userID = strconv.FormatInt(out.UserID, 10)
	c.mu.Unlock()

	logger.WithFields(map[string]interface{}{
		"broker":   "tradovate",
		"user":     out.Name,
		"is_paper": c.isPaper,
		"expires":  out.ExpirationTime,
	}).Info("tradovate session established")

	return &AuthResult{
		AccessToken: out.AccessToken,
		ExpiresAt:   out.ExpirationTime,
		UserID:      strconv.FormatInt(out.UserID, 10),
	}, nil
}

func (c *TradovateClient) TokenExpiry() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokenExpiry
}

// RefreshToken renews the access token in place. An AuthError here means
// the session is beyond renewal and the registry should re-authenticate.
func (c *TradovateClient) RefreshToken(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var out tradovateAuthResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.token()).
		SetResult(&out).
		Get("/auth/renewaccesstoken")
	if err != nil {
		return fmt.Errorf("tradovate token renewal failed: %w", err)
	}

	if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
		return &AuthError{Broker: "tradovate", Status: resp.StatusCode(), Reason: "session expired"}
	}
	if resp.StatusCode()/100 != 2 {
		return fmt.Errorf("tradovate token renewal non-2xx status: %d", resp.StatusCode())
	}
	if out.ErrorText != "" || out.AccessToken == "" {
		return &AuthError{Broker: "tradovate", Status: resp.StatusCode(), Reason: out.ErrorText}
	}

	c.mu.Lock()
	c.accessToken = out.AccessToken
	c.tokenIssued = time.Now()
	c.tokenExpiry = out.ExpirationTime
	c.mu.Unlock()

	logger.WithFields(map[string]interface{}{
		"broker":  "tradovate",
		"expires": out.ExpirationTime,
	}).Debug("tradovate token renewed")

	return nil
}

type tradovateAccount struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Active      bool   `json:"active"`
	AccountType string `json:"accountType"`
}

func (c *TradovateClient) Accounts(ctx context.Context) ([]Account, error) {
	var out []tradovateAccount
	if err := c.get(ctx, "/account/list", &out); err != nil {
		return nil, err
	}

	accounts := make([]Account, 0, len(out))
	for _, a := range out {
		accounts = append(accounts, Account{
			ID:     strconv.FormatInt(a.ID, 10),
			Name:   a.Name,
			Active: a.Active,
		})
	}
	return accounts, nil
}

type tradovatePosition struct {
	ID         int64   `json:"id"`
	AccountID  int64   `json:"accountId"`
	ContractID int64   `json:"contractId"`
	NetPos     float64 `json:"netPos"`
	NetPrice   float64 `json:"netPrice"`
}

func (c *TradovateClient) Positions(ctx context.Context) ([]Position, error) {
	var out []tradovatePosition
	if err := c.get(ctx, "/position/list", &out); err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(out))
	for _, p := range out {
		if p.NetPos == 0 {
			continue
		}
		positions = append(positions, Position{
			ContractID: strconv.FormatInt(p.ContractID, 10),
			Symbol:     c.contractName(ctx, p.ContractID),
			Quantity:   p.NetPos,
			AvgPrice:   p.NetPrice,
		})
	}
	return positions, nil
}

// contractName resolves a contract id to its symbol, caching lookups.
// Resolution failures degrade to an empty symbol rather than failing the
// position listing.
func (c *TradovateClient) contractName(ctx context.Context, contractID int64) string {
	if name, ok := c.contractNames.Load(contractID); ok {
		return name.(string)
	}

	var out struct {
		Name string `json:"name"`
	}
	if err := c.get(ctx, fmt.Sprintf("/contract/item?id=%d", contractID), &out); err != nil {
		logger.WithError(err).WithField("contract_id", contractID).Debug("tradovate contract lookup failed")
		return ""
	}

	c.contractNames.Store(contractID, out.Name)
	return out.Name
}

type tradovateOrderRequest struct {
	AccountID   int64   `json:"accountId"`
	Action      string  `json:"action"`
	Symbol      string  `json:"symbol"`
	OrderQty    int     `json:"orderQty"`
	OrderType   string  `json:"orderType"`
	Price       float64 `json:"price,omitempty"`
	IsAutomated bool    `json:"isAutomated"`
}

type tradovateOrderResponse struct {
	OrderID       int64  `json:"orderId"`
	FailureReason string `json:"failureReason"`
	FailureText   string `json:"failureText"`
}

func (c *TradovateClient) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	accountID, err := strconv.ParseInt(req.AccountID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("tradovate account id %q is not numeric: %w", req.AccountID, err)
	}

	action := "Buy"
	if req.Action == model.SignalActionSell {
		action = "Sell"
	}
	orderType := "Market"
	body := tradovateOrderRequest{
		AccountID:   accountID,
		Action:      action,
		Symbol:      req.ContractID,
		OrderQty:    int(req.Quantity),
		OrderType:   orderType,
		IsAutomated: true,
	}
	if req.OrderType == model.OrderTypeLimit && req.LimitPrice != nil {
		body.OrderType = "Limit"
		body.Price = *req.LimitPrice
	}

	var out tradovateOrderResponse
	resp, err := c.trading.R().
		SetContext(ctx).
		SetAuthToken(c.token()).
		SetBody(body).
		SetResult(&out).
		Post("/order/placeorder")
	if err != nil {
		return nil, fmt.Errorf("tradovate order request failed: %w", err)
	}

	if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
		return nil, &AuthError{Broker: "tradovate", Status: resp.StatusCode(), Reason: "order rejected unauthenticated"}
	}
	if resp.StatusCode()/100 != 2 {
		return nil, fmt.Errorf("tradovate order non-2xx status: %d body=%s", resp.StatusCode(), string(resp.Body()))
	}
	if out.FailureReason != "" {
		return nil, fmt.Errorf("tradovate order rejected: %s (%s)", out.FailureReason, out.FailureText)
	}

	logger.WithFields(map[string]interface{}{
		"broker":    "tradovate",
		"order_id":  out.OrderID,
		"symbol":    req.ContractID,
		"action":    action,
		"qty":       body.OrderQty,
		"signal_id": req.SignalID,
	}).Info("tradovate order placed")

	return &OrderResult{
		OrderID: strconv.FormatInt(out.OrderID, 10),
		Status:  "Submitted",
	}, nil
}

func (c *TradovateClient) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("tradovate order id %q is not numeric: %w", orderID, err)
	}

	resp, err := c.trading.R().
		SetContext(ctx).
		SetAuthToken(c.token()).
		SetBody(map[string]interface{}{"orderId": id}).
		Post("/order/cancelorder")
	if err != nil {
		return fmt.Errorf("tradovate cancel request failed: %w", err)
	}
	if resp.StatusCode()/100 != 2 {
		return fmt.Errorf("tradovate cancel non-2xx status: %d", resp.StatusCode())
	}
	return nil
}

func (c *TradovateClient) Health(ctx context.Context) *Snapshot {
	now := time.Now()

	c.mu.RLock()
	token := c.accessToken
	issued := c.tokenIssued
	expiry := c.tokenExpiry
	wsErr := c.lastWSError
	c.mu.RUnlock()

	authenticated := token != "" && now.Before(expiry)
	connected := authenticated
	if c.wsStarted.Load() {
		connected = c.wsConnected.Load()
	}

	fraction := 0.0
	if authenticated {
		fraction = tokenFraction(issued, expiry, now)
	}

	message := ""
	if !connected && wsErr != "" {
		message = wsErr
	}

	return &Snapshot{
		Broker:        model.BrokerTradovate,
		Connected:     connected,
		Authenticated: authenticated,
		TokenFraction: fraction,
		Message:       message,
		CheckedAt:     now,
	}
}

// StartUserSync keeps the user-data websocket open until ctx is canceled,
// reconnecting with a flat backoff. Its liveness feeds Health.
func (c *TradovateClient) StartUserSync(ctx context.Context) {
	if c.wsStarted.Swap(true) {
		return
	}

	wsCtx, cancel := context.WithCancel(ctx)
	c.wsCancel = cancel

	go func() {
		for {
			if err := c.runUserSync(wsCtx); err != nil {
				c.wsConnected.Store(false)
				c.mu.Lock()
				c.lastWSError = err.Error()
				c.mu.Unlock()
				logger.WithError(err).Warn("tradovate user sync dropped, reconnecting")
			}

			select {
			case <-wsCtx.Done():
				c.wsConnected.Store(false)
				return
			case <-time.After(5 * time.Second):
			}
		}
	}()
}

func (c *TradovateClient) runUserSync(ctx context.Context) error {
	wsURL := strings.Replace(c.baseURL, "https://", "wss://", 1) + "/websocket"

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("ws dial failed: %w", err)
	}
	defer conn.Close()

	// First frame is the open marker 'o'; authorization goes out before
	// anything else.
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("ws read failed: %w", err)
	}
	if len(msg) == 0 || msg[0] != 'o' {
		return fmt.Errorf("unexpected ws handshake frame: %q", string(msg))
	}

	authFrame := fmt.Sprintf("authorize\n0\n\n%s", c.token())
	if err := conn.WriteMessage(websocket.TextMessage, []byte(authFrame)); err != nil {
		return fmt.Errorf("ws authorize failed: %w", err)
	}

	c.wsConnected.Store(true)
	defer c.wsConnected.Store(false)

	// The server drops clients that go quiet; it expects "[]" every
	// couple of seconds.
	heartbeat := time.NewTicker(tradovateHeartbeatInterval)
	defer heartbeat.Stop()

	errCh := make(chan error, 1)
	go func() {
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			if len(frame) > 0 && frame[0] == 'c' {
				errCh <- fmt.Errorf("ws closed by server: %s", string(frame))
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case err := <-errCh:
			return err
		case <-heartbeat.C:
			if err := conn.WriteMessage(websocket.TextMessage, []byte("[]")); err != nil {
				return fmt.Errorf("ws heartbeat failed: %w", err)
			}
		}
	}
}

func (c *TradovateClient) Close() error {
	if c.wsCancel != nil {
		c.wsCancel()
	}
	return nil
}

func (c *TradovateClient) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

func (c *TradovateClient) get(ctx context.Context, path string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.token()).
		SetResult(out).
		Get(path)
	if err != nil {
		return fmt.Errorf("tradovate request %s failed: %w", path, err)
	}
	if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
		return &AuthError{Broker: "tradovate", Status: resp.StatusCode(), Reason: "session expired"}
	}
	if resp.StatusCode()/100 != 2 {
		return fmt.Errorf("tradovate request %s non-2xx status: %d", path, resp.StatusCode())
	}
	return nil
}
