package risk

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config scales signal order notional by trading session. Sessions are
// read on New York time. Disabled, every session scales by one.
type Config struct {
	Enabled            bool            `envconfig:"SESSION_SIZING" default:"false"`
	WeekendMultiplier  decimal.Decimal `envconfig:"SESSION_MULT_WEEKEND" default:"0.5"`
	DeadZoneMultiplier decimal.Decimal `envconfig:"SESSION_MULT_DEAD_ZONE" default:"0.5"`
	AsiaMultiplier     decimal.Decimal `envconfig:"SESSION_MULT_ASIA" default:"0.75"`
	LondonMultiplier   decimal.Decimal `envconfig:"SESSION_MULT_LONDON" default:"1"`
	USMultiplier       decimal.Decimal `envconfig:"SESSION_MULT_US" default:"1"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
