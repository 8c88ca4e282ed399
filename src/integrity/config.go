package integrity

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	PnlTolerance float64       `envconfig:"INTEGRITY_PNL_TOLERANCE" default:"1e-9"`
	StuckWalAge  time.Duration `envconfig:"INTEGRITY_STUCK_WAL_AGE" default:"10m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(err.Error())
	}
	return config
}
