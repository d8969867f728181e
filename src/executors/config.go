package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	SignalPeriod    time.Duration `envconfig:"SIGNAL_PERIOD" default:"30s"`
	ReconcilePeriod time.Duration `envconfig:"RECONCILE_PERIOD" default:"60s"`
	AuditPeriod     time.Duration `envconfig:"AUDIT_PERIOD" default:"5m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
