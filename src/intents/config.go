package intents

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	PriceBucketPct float64         `envconfig:"PRICE_BUCKET_PCT" default:"0.005"`
	OrderNotional  decimal.Decimal `envconfig:"ORDER_NOTIONAL" default:"100"`
	OrderType      string          `envconfig:"ORDER_TYPE" default:"MARKET"`
	RetryCooldown  time.Duration   `envconfig:"INTENT_RETRY_COOLDOWN" default:"30s"`
	TTL            time.Duration   `envconfig:"INTENT_TTL" default:"5m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
