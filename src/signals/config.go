package signals

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"

	"cryptoexecutor/src/indicators"
)

type Config struct {
	Symbols              []string `envconfig:"SYMBOLS" default:"BTC_USDT"`
	StrategyKey          string   `envconfig:"STRATEGY_KEY" default:"rsi_ma"`
	PriceChangeThreshold float64  `envconfig:"PRICE_CHANGE_THRESHOLD" default:"0.03"`
	MaxOpenOrders        int      `envconfig:"MAX_OPEN_ORDERS_PER_SYMBOL" default:"3"`
	CandleLimit          int      `envconfig:"CANDLE_LIMIT" default:"100"`
	indicators.Rules
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
