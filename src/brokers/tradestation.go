package brokers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/bostonrobbie/signalbridge/src/model"
)

// TradeStationClient wraps the TradeStation v3 REST API. Sessions are
// plain OAuth2: a long-lived refresh token mints short-lived access
// tokens. Without a refresh token there is nothing to automate, so
// Authenticate surfaces the authorize URL for the one-time browser grant.
type TradeStationClient struct {
	config  Config
	creds   model.BrokerCredentials
	baseURL string
	authURL string
	isPaper bool

	http    *resty.Client
	trading *resty.Client
	limiter *rate.Limiter

	mu          sync.RWMutex
	accessToken string
	tokenIssued time.Time
	tokenExpiry time.Time
}

func NewTradeStationClient(config Config, isPaper bool, creds model.BrokerCredentials) *TradeStationClient {
	baseURL := config.TradeStationLiveURL
	if isPaper {
		baseURL = config.TradeStationSimURL
	}

	rps := config.TradeStationRPS
	if rps < 1 {
		rps = 1
	}

	return &TradeStationClient{
		config:  config,
		creds:   creds,
		baseURL: baseURL,
		authURL: config.TradeStationAuthURL,
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

func (c *TradeStationClient) Broker() model.Broker {
	return model.BrokerTradeStation
}

func (c *TradeStationClient) authorizeURL() string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.creds.ClientID)
	q.Set("redirect_uri", c.creds.RedirectURI)
	q.Set("audience", "https://api.tradestation.com")
	q.Set("scope", "openid offline_access MarketData ReadAccount Trade")
	return c.authURL + "/authorize?" + q.Encode()
}

type tradestationTokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int    `json:"expires_in"`
	TokenType        string `json:"token_type"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (c *TradeStationClient) Authenticate(ctx context.Context) (*AuthResult, error) {
	if c.creds.RefreshToken == "" {
		return nil, &OAuthRequiredError{Broker: "tradestation", AuthorizeURL: c.authorizeURL()}
	}
	if err := c.exchangeToken(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return &AuthResult{
		AccessToken: c.accessToken,
		ExpiresAt:   c.tokenExpiry,
	}, nil
}

// exchangeToken trades the refresh token for a fresh access token. The
// refresh token itself is reusable and does not rotate.
func (c *TradeStationClient) exchangeToken(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var out tradestationTokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"client_id":     c.creds.ClientID,
			"client_secret": c.creds.ClientSecret,
			"refresh_token": c.creds.RefreshToken,
		}).
		SetResult(&out).
		SetError(&out).
		Post(c.authURL + "/oauth/token")
	if err != nil {
		return fmt.Errorf("tradestation token exchange failed: %w", err)
	}

	if resp.StatusCode()/100 != 2 {
		reason := out.ErrorDescription
		if reason == "" {
			reason = out.Error
		}
		if reason == "" {
			reason = strings.TrimSpace(string(resp.Body()))
		}
		return &AuthError{Broker: "tradestation", Status: resp.StatusCode(), Reason: reason}
	}
	if out.AccessToken == "" {
		return &AuthError{Broker: "tradestation", Status: resp.StatusCode(), Reason: "no access token in response"}
	}

	now := time.Now()
	c.mu.Lock()
	c.accessToken = out.AccessToken
	c.tokenIssued = now
	c.tokenExpiry = now.Add(time.Duration(out.ExpiresIn) * time.Second)
	c.mu.Unlock()

	logger.WithFields(map[string]interface{}{
		"broker":     "tradestation",
		"is_paper":   c.isPaper,
		"expires_in": out.ExpiresIn,
	}).Info("tradestation session established")

	return nil
}

func (c *TradeStationClient) TokenExpiry() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokenExpiry
}

func (c *TradeStationClient) RefreshToken(ctx context.Context) error {
	if c.creds.RefreshToken == "" {
		return &OAuthRequiredError{Broker: "tradestation", AuthorizeURL: c.authorizeURL()}
	}
	return c.exchangeToken(ctx)
}

type tradestationAccount struct {
	AccountID string `json:"AccountID"`
	Alias     string `json:"Alias"`
	Status    string `json:"Status"`
}

func (c *TradeStationClient) Accounts(ctx context.Context) ([]Account, error) {
	var out struct {
		Accounts []tradestationAccount `json:"Accounts"`
	}
	if err := c.get(ctx, "/brokerage/accounts", &out); err != nil {
		return nil, err
	}

	accounts := make([]Account, 0, len(out.Accounts))
	for _, a := range out.Accounts {
		name := a.Alias
		if name == "" {
			name = a.AccountID
		}
		accounts = append(accounts, Account{
			ID:     a.AccountID,
			Name:   name,
			Active: a.Status == "Active",
		})
	}
	return accounts, nil
}

type tradestationPosition struct {
	Symbol       string `json:"Symbol"`
	Quantity     string `json:"Quantity"`
	AveragePrice string `json:"AveragePrice"`
	LongShort    string `json:"LongShort"`
}

func (c *TradeStationClient) Positions(ctx context.Context) ([]Position, error) {
	accounts, err := c.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(accounts))
	for _, a := range accounts {
		ids = append(ids, a.ID)
	}

	var out struct {
		Positions []tradestationPosition `json:"Positions"`
	}
	if err := c.get(ctx, fmt.Sprintf("/brokerage/accounts/%s/positions", strings.Join(ids, ",")), &out); err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(out.Positions))
	for _, p := range out.Positions {
		qty, err := strconv.ParseFloat(p.Quantity, 64)
		if err != nil || qty == 0 {
			continue
		}
		if strings.EqualFold(p.LongShort, "Short") && qty > 0 {
			qty = -qty
		}
		avg, _ := strconv.ParseFloat(p.AveragePrice, 64)
		positions = append(positions, Position{
			ContractID: p.Symbol,
			Symbol:     p.Symbol,
			Quantity:   qty,
			AvgPrice:   avg,
		})
	}
	return positions, nil
}

type tradestationOrderResponse struct {
	Orders []struct {
		OrderID string `json:"OrderID"`
		Message string `json:"Message"`
	} `json:"Orders"`
	Errors []struct {
		AccountID string `json:"AccountID"`
		Error     string `json:"Error"`
		Message   string `json:"Message"`
	} `json:"Errors"`
}

func (c *TradeStationClient) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	action := "BUY"
	if req.Action == model.SignalActionSell {
		action = "SELL"
	}
	body := map[string]interface{}{
		"AccountID":   req.AccountID,
		"Symbol":      req.ContractID,
		"Quantity":    strconv.FormatFloat(req.Quantity, 'f', -1, 64),
		"OrderType":   "Market",
		"TradeAction": action,
		"TimeInForce": map[string]string{"Duration": "DAY"},
		"Route":       "Intelligent",
	}
	if req.OrderType == model.OrderTypeLimit && req.LimitPrice != nil {
		body["OrderType"] = "Limit"
		body["LimitPrice"] = strconv.FormatFloat(*req.LimitPrice, 'f', -1, 64)
	}

	var out tradestationOrderResponse
	resp, err := c.trading.R().
		SetContext(ctx).
		SetAuthToken(c.token()).
		SetBody(body).
		SetResult(&out).
		Post("/orderexecution/orders")
	if err != nil {
		return nil, fmt.Errorf("tradestation order request failed: %w", err)
	}

	if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
		return nil, &AuthError{Broker: "tradestation", Status: resp.StatusCode(), Reason: "order rejected unauthenticated"}
	}
	if resp.StatusCode()/100 != 2 {
		return nil, fmt.Errorf("tradestation order non-2xx status: %d body=%s", resp.StatusCode(), string(resp.Body()))
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("tradestation order rejected: %s (%s)", out.Errors[0].Error, out.Errors[0].Message)
	}
	if len(out.Orders) == 0 {
		return nil, fmt.Errorf("tradestation order returned no order id")
	}

	logger.WithFields(map[string]interface{}{
		"broker":    "tradestation",
		"order_id":  out.Orders[0].OrderID,
		"symbol":    req.ContractID,
		"action":    action,
		"signal_id": req.SignalID,
	}).Info("tradestation order placed")

	return &OrderResult{
		OrderID: out.Orders[0].OrderID,
		Status:  out.Orders[0].Message,
	}, nil
}

func (c *TradeStationClient) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	resp, err := c.trading.R().
		SetContext(ctx).
		SetAuthToken(c.token()).
		Delete("/orderexecution/orders/" + orderID)
	if err != nil {
		return fmt.Errorf("tradestation cancel request failed: %w", err)
	}
	if resp.StatusCode()/100 != 2 {
		return fmt.Errorf("tradestation cancel non-2xx status: %d", resp.StatusCode())
	}
	return nil
}

func (c *TradeStationClient) Health(ctx context.Context) *Snapshot {
	now := time.Now()

	c.mu.RLock()
	token := c.accessToken
	issued := c.tokenIssued
	expiry := c.tokenExpiry
	c.mu.RUnlock()

	authenticated := token != "" && now.Before(expiry)

	fraction := 0.0
	if authenticated {
		fraction = tokenFraction(issued, expiry, now)
	}

	message := ""
	if !authenticated && c.creds.RefreshToken == "" {
		message = "authorization grant required"
	}

	return &Snapshot{
		Broker:        model.BrokerTradeStation,
		Connected:     authenticated,
		Authenticated: authenticated,
		TokenFraction: fraction,
		Message:       message,
		CheckedAt:     now,
	}
}

func (c *TradeStationClient) Close() error {
	return nil
}

func (c *TradeStationClient) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

func (c *TradeStationClient) get(ctx context.Context, path string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.token()).
		SetResult(out).
		Get(path)
	if err != nil {
		return fmt.Errorf("tradestation request %s failed: %w", path, err)
	}
	if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
		return &AuthError{Broker: "tradestation", Status: resp.StatusCode(), Reason: "session expired"}
	}
	if resp.StatusCode()/100 != 2 {
		return fmt.Errorf("tradestation request %s non-2xx status: %d", path, resp.StatusCode())
	}
	return nil
}
