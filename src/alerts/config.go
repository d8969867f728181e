package alerts

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	TelegramToken      string        `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID     int64         `envconfig:"TELEGRAM_CHAT_ID"`
	FatalAlertInterval time.Duration `envconfig:"FATAL_ALERT_INTERVAL" default:"30m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
