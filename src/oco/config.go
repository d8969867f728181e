package oco

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	StopLossPct    decimal.Decimal `envconfig:"SL_PCT" default:"0.03"`
	TakeProfitPct  decimal.Decimal `envconfig:"TP_PCT" default:"0.03"`
	MaxLegAttempts int             `envconfig:"OCO_MAX_LEG_ATTEMPTS" default:"5"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
