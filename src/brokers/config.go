package brokers

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	TradovateDemoURL string `envconfig:"TRADOVATE_DEMO_URL" default:"https://demo.tradovateapi.com/v1"`
	TradovateLiveURL string `envconfig:"TRADOVATE_LIVE_URL" default:"https://live.tradovateapi.com/v1"`
	TradovateAppID   string `envconfig:"TRADOVATE_APP_ID" default:"signalbridge"`
	TradovateRPS     int    `envconfig:"TRADOVATE_RPS" default:"2"`

	IBKRGatewayURL string `envconfig:"IBKR_GATEWAY_URL" default:"https://localhost:5000/v1/api"`
	IBKRRPS        int    `envconfig:"IBKR_RPS" default:"5"`

	TradeStationSimURL  string `envconfig:"TRADESTATION_SIM_URL" default:"https://sim-api.tradestation.com/v3"`
	TradeStationLiveURL string `envconfig:"TRADESTATION_LIVE_URL" default:"https://api.tradestation.com/v3"`
	TradeStationAuthURL string `envconfig:"TRADESTATION_AUTH_URL" default:"https://signin.tradestation.com"`
	TradeStationRPS     int    `envconfig:"TRADESTATION_RPS" default:"5"`

	RequestTimeout    time.Duration `envconfig:"BROKER_REQUEST_TIMEOUT" default:"30s"`
	TokenRefreshSkew  time.Duration `envconfig:"BROKER_TOKEN_REFRESH_SKEW" default:"5m"`
	KeepAliveInterval time.Duration `envconfig:"BROKER_KEEPALIVE_INTERVAL" default:"60s"`
	MaintenanceTick   time.Duration `envconfig:"BROKER_MAINTENANCE_TICK" default:"30s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
