package monitor

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	PollInterval      time.Duration `envconfig:"HEALTH_POLL_INTERVAL" default:"30s"`
	AlertDedupeWindow time.Duration `envconfig:"ALERT_DEDUPE_WINDOW" default:"5m"`
	AlertHistory      int           `envconfig:"ALERT_HISTORY" default:"100"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(err.Error())
	}
	return config
}
