package reconcile

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	Symbols          []string        `envconfig:"SYMBOLS" default:"BTC_USDT"`
	QuoteCurrency    string          `envconfig:"QUOTE_CURRENCY" default:"USDT"`
	HistorySyncEvery int             `envconfig:"HISTORY_SYNC_EVERY" default:"10"`
	HistoryPageSize  int             `envconfig:"HISTORY_PAGE_SIZE" default:"100"`
	HistoryMaxPages  int             `envconfig:"HISTORY_MAX_PAGES" default:"10"`
	HistoryLookback  time.Duration   `envconfig:"HISTORY_LOOKBACK" default:"24h"`
	IntentGrace      time.Duration   `envconfig:"INTENT_GRACE" default:"10m"`
	DriftThreshold   decimal.Decimal `envconfig:"DRIFT_THRESHOLD" default:"0.01"`
	DriftAlpha       decimal.Decimal `envconfig:"DRIFT_EWMA_ALPHA" default:"0.3"`
	NotifyRecency    time.Duration   `envconfig:"NOTIFY_RECENCY" default:"1h"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
