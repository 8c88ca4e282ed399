package ingest

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	WebhookToken    string        `envconfig:"WEBHOOK_TOKEN" required:"true"`
	FreshnessWindow time.Duration `envconfig:"WEBHOOK_FRESHNESS_WINDOW" default:"5m"`
	RecoveryGrace   time.Duration `envconfig:"WAL_RECOVERY_GRACE" default:"60s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
