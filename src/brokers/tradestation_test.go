package brokers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bostonrobbie/signalbridge/src/model"
)

func tradestationCreds() model.BrokerCredentials {
	return model.BrokerCredentials{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURI:  "http://localhost:8080/callback",
		RefreshToken: "refresh-1",
	}
}

func TestTradeStationAuthenticateRequiresGrant(t *testing.T) {
	creds := tradestationCreds()
	creds.RefreshToken = ""

	client := NewTradeStationClient(testConfig("https://example.invalid"), true, creds)

	_, err := client.Authenticate(context.Background())
	require.Error(t, err)

	var oauthErr *OAuthRequiredError
	require.True(t, errors.As(err, &oauthErr))
	assert.Equal(t, "tradestation", oauthErr.Broker)
	assert.Contains(t, oauthErr.AuthorizeURL, "/authorize?")
	assert.Contains(t, oauthErr.AuthorizeURL, "client_id=client-1")
	assert.Contains(t, oauthErr.AuthorizeURL, "response_type=code")

	assert.False(t, IsAuthError(err), "a missing grant is operator work, not a credential failure")
}

func TestTradeStationAuthenticateExchangesToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret-1", r.PostForm.Get("client_secret"))
		assert.Equal(t, "refresh-1", r.PostForm.Get("refresh_token"))

		writeJSON(t, w, map[string]interface{}{
			"access_token": "at-1",
			"expires_in":   1200,
			"token_type":   "Bearer",
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewTradeStationClient(testConfig(server.URL), true, tradestationCreds())

	before := time.Now()
	res, err := client.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-1", res.AccessToken)
	assert.WithinDuration(t, before.Add(1200*time.Second), res.ExpiresAt, 5*time.Second)
	assert.WithinDuration(t, res.ExpiresAt, client.TokenExpiry(), time.Second)

	snapshot := client.Health(context.Background())
	assert.True(t, snapshot.Authenticated)
	assert.Greater(t, snapshot.TokenFraction, 0.9)
	assert.Equal(t, StateHealthy, snapshot.State())
}

func TestTradeStationAuthenticateRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error":             "invalid_grant",
			"error_description": "Unknown or invalid refresh token",
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewTradeStationClient(testConfig(server.URL), true, tradestationCreds())

	_, err := client.Authenticate(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.Contains(t, err.Error(), "Unknown or invalid refresh token")
}

func tradestationServerWithAuth(t *testing.T, mux *http.ServeMux) *httptest.Server {
	t.Helper()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{"access_token": "at-1", "expires_in": 1200})
	})
	return httptest.NewServer(mux)
}

func TestTradeStationPlaceOrder(t *testing.T) {
	t.Run("market order accepted", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/orderexecution/orders", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "SIM12345", body["AccountID"])
			assert.Equal(t, "@ES", body["Symbol"])
			assert.Equal(t, "2", body["Quantity"])
			assert.Equal(t, "Market", body["OrderType"])
			assert.Equal(t, "BUY", body["TradeAction"])
			assert.Equal(t, "Intelligent", body["Route"])
			tif, ok := body["TimeInForce"].(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, "DAY", tif["Duration"])

			writeJSON(t, w, map[string]interface{}{
				"Orders": []map[string]interface{}{{"OrderID": "ord-9", "Message": "Sent order"}},
			})
		})
		server := tradestationServerWithAuth(t, mux)
		defer server.Close()

		client := NewTradeStationClient(testConfig(server.URL), true, tradestationCreds())
		_, err := client.Authenticate(context.Background())
		require.NoError(t, err)

		result, err := client.PlaceOrder(context.Background(), OrderRequest{
			AccountID:  "SIM12345",
			ContractID: "@ES",
			Action:     model.SignalActionBuy,
			Quantity:   2,
			OrderType:  model.OrderTypeMarket,
			SignalID:   "sig-1",
		})
		require.NoError(t, err)
		assert.Equal(t, "ord-9", result.OrderID)
		assert.Equal(t, "Sent order", result.Status)
	})

	t.Run("rejection carries the broker message", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/orderexecution/orders", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, map[string]interface{}{
				"Errors": []map[string]interface{}{
					{"AccountID": "SIM12345", "Error": "INVALIDQUANTITY", "Message": "Quantity exceeds limit"},
				},
			})
		})
		server := tradestationServerWithAuth(t, mux)
		defer server.Close()

		client := NewTradeStationClient(testConfig(server.URL), true, tradestationCreds())
		_, err := client.Authenticate(context.Background())
		require.NoError(t, err)

		_, err = client.PlaceOrder(context.Background(), OrderRequest{AccountID: "SIM12345", ContractID: "@ES", Action: model.SignalActionSell, Quantity: 99})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "INVALIDQUANTITY")
		assert.Contains(t, err.Error(), "Quantity exceeds limit")
	})

	t.Run("expired session surfaces as auth error", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/orderexecution/orders", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
		server := tradestationServerWithAuth(t, mux)
		defer server.Close()

		client := NewTradeStationClient(testConfig(server.URL), true, tradestationCreds())
		_, err := client.Authenticate(context.Background())
		require.NoError(t, err)

		_, err = client.PlaceOrder(context.Background(), OrderRequest{AccountID: "SIM12345", ContractID: "@ES", Action: model.SignalActionBuy, Quantity: 1})
		require.Error(t, err)
		assert.True(t, IsAuthError(err))
	})
}

func TestTradeStationAccountsAndPositions(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/brokerage/accounts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		writeJSON(t, w, map[string]interface{}{
			"Accounts": []map[string]interface{}{
				{"AccountID": "SIM12345", "Alias": "futures-sim", "Status": "Active"},
				{"AccountID": "SIM99999", "Status": "Closed"},
			},
		})
	})
	mux.HandleFunc("/brokerage/accounts/SIM12345,SIM99999/positions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{
			"Positions": []map[string]interface{}{
				{"Symbol": "@ES", "Quantity": "2", "AveragePrice": "4500.25", "LongShort": "Long"},
				{"Symbol": "@NQ", "Quantity": "1", "AveragePrice": "15000.5", "LongShort": "Short"},
				{"Symbol": "@YM", "Quantity": "0", "AveragePrice": "0", "LongShort": "Long"},
			},
		})
	})
	server := tradestationServerWithAuth(t, mux)
	defer server.Close()

	client := NewTradeStationClient(testConfig(server.URL), true, tradestationCreds())
	_, err := client.Authenticate(context.Background())
	require.NoError(t, err)

	accounts, err := client.Accounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, Account{ID: "SIM12345", Name: "futures-sim", Active: true}, accounts[0])
	assert.Equal(t, Account{ID: "SIM99999", Name: "SIM99999", Active: false}, accounts[1])

	positions, err := client.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2, "flat positions are dropped")
	assert.Equal(t, Position{ContractID: "@ES", Symbol: "@ES", Quantity: 2, AvgPrice: 4500.25}, positions[0])
	assert.Equal(t, Position{ContractID: "@NQ", Symbol: "@NQ", Quantity: -1, AvgPrice: 15000.5}, positions[1])
}

func TestTradeStationCancelOrder(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/orderexecution/orders/ord-9", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		writeJSON(t, w, map[string]interface{}{"OrderID": "ord-9", "Message": "Cancel request sent"})
	})
	server := tradestationServerWithAuth(t, mux)
	defer server.Close()

	client := NewTradeStationClient(testConfig(server.URL), true, tradestationCreds())
	_, err := client.Authenticate(context.Background())
	require.NoError(t, err)

	require.NoError(t, client.CancelOrder(context.Background(), "ord-9"))
}

func TestTradeStationRefreshTokenWithoutGrant(t *testing.T) {
	creds := tradestationCreds()
	creds.RefreshToken = ""

	client := NewTradeStationClient(testConfig("https://example.invalid"), true, creds)

	err := client.RefreshToken(context.Background())
	var oauthErr *OAuthRequiredError
	require.True(t, errors.As(err, &oauthErr))
}
