package autotrader

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config tunes the execution loop. PaperOnly defaults on: routing live
// money requires an explicit opt-in.
type Config struct {
	DrainInterval   time.Duration `envconfig:"TRADER_DRAIN_INTERVAL" default:"5s"`
	MaxRetries      int           `envconfig:"TRADER_MAX_RETRIES" default:"3"`
	RetryDelay      time.Duration `envconfig:"TRADER_RETRY_DELAY" default:"2s"`
	FailoverEnabled bool          `envconfig:"TRADER_FAILOVER" default:"true"`
	PaperOnly       bool          `envconfig:"TRADER_PAPER_ONLY" default:"true"`
	OrderTimeout    time.Duration `envconfig:"TRADER_ORDER_TIMEOUT" default:"30s"`
	QueueCapacity   int           `envconfig:"TRADER_QUEUE_CAPACITY" default:"256"`
	HistorySize     int           `envconfig:"TRADER_HISTORY_SIZE" default:"100"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(err.Error())
	}
	return config
}
