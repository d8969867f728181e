package marketdata

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

const (
	SourceExchange = "exchange"
	SourceBinance  = "binance"
)

type Config struct {
	Source    string `envconfig:"MARKET_DATA_SOURCE" default:"exchange"`
	Timeframe string `envconfig:"CANDLE_TIMEFRAME" default:"5m"`
	Limit     int    `envconfig:"CANDLE_LIMIT" default:"100"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
