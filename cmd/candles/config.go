package candles

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Symbols   []string  `envconfig:"SYMBOLS" default:"BTC_USDT"`
	Timeframe string    `envconfig:"CANDLE_TIMEFRAME" default:"5m"`
	StartDt   time.Time `envconfig:"BACKFILL_START" default:"2024-01-01T00:00:00Z"`
	EndDt     time.Time `envconfig:"BACKFILL_END"`
	AutoMode  bool      `envconfig:"BACKFILL_AUTO" default:"true"`
	Limit     int       `envconfig:"BACKFILL_LIMIT" default:"1000"`
	MaxPages  int       `envconfig:"BACKFILL_MAX_PAGES" default:"500"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
