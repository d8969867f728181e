package security

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// ExchangeCRKey is a base64 encoded 32 byte key. It has no default:
	// sealed credentials cannot be opened without it.
	ExchangeCRKey string `envconfig:"EXCHANGE_CREDENTIALS_KEY"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
