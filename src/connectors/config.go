package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BaseURL        string        `envconfig:"EXCHANGE_BASE_URL" default:"https://api.crypto.com/exchange/v1"`
	APIKey         string        `envconfig:"EXCHANGE_API_KEY"`
	APISecret      string        `envconfig:"EXCHANGE_API_SECRET"`
	Timeout        time.Duration `envconfig:"EXCHANGE_TIMEOUT" default:"10s"`
	RateLimit      float64       `envconfig:"EXCHANGE_RATE_LIMIT" default:"5"` // requests per second
	RetryAttempts  uint64        `envconfig:"EXCHANGE_RETRY_ATTEMPTS" default:"4"`
	RetryBaseDelay time.Duration `envconfig:"EXCHANGE_RETRY_BASE_DELAY" default:"500ms"`
	RetryMaxDelay  time.Duration `envconfig:"EXCHANGE_RETRY_MAX_DELAY" default:"8s"`
	InstrumentTTL  time.Duration `envconfig:"EXCHANGE_INSTRUMENT_TTL" default:"1h"`
	StreamURL      string        `envconfig:"EXCHANGE_WS_URL" default:"wss://stream.crypto.com/exchange/v1/user"`
	OrderStream    bool          `envconfig:"EXCHANGE_ORDER_STREAM" default:"false"`
	StreamAuthWait time.Duration `envconfig:"EXCHANGE_WS_AUTH_WAIT" default:"1s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
