package alerts

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	logger "github.com/sirupsen/logrus"
)

// telegramMaxLength is the message size limit of the Bot API.
const telegramMaxLength = 4096

// Notifier delivers a rendered message to humans.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// LogNotifier writes notifications to the log. Used when no chat is configured.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, text string) error {
	logger.WithField("notifier", "log").Info(text)
	return nil
}

// TelegramNotifier posts notifications to one chat.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	logger.Infof("Telegram bot authorized: @%s", bot.Self.UserName)
	return &TelegramNotifier{api: bot, chatID: chatID}, nil
}

func (t *TelegramNotifier) Send(_ context.Context, text string) error {
	for _, part := range splitMessage(text, telegramMaxLength) {
		if _, err := t.api.Send(tgbotapi.NewMessage(t.chatID, part)); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

// splitMessage breaks text into parts of at most maxLength bytes on line
// boundaries. A single line longer than maxLength is cut between runes.
func splitMessage(text string, maxLength int) []string {
	if len(text) <= maxLength {
		return []string{text}
	}
	var parts []string
	current := ""
	for _, line := range strings.Split(text, "\n") {
		if current != "" && len(current)+len(line)+1 > maxLength {
			parts = append(parts, current)
			current = ""
		}
		if current != "" {
			current += "\n"
		}
		current += line
		for len(current) > maxLength {
			cut := maxLength
			for cut > 0 && !utf8.RuneStart(current[cut]) {
				cut--
			}
			if cut == 0 {
				_, cut = utf8.DecodeRuneInString(current)
			}
			parts = append(parts, current[:cut])
			current = current[cut:]
		}
	}
	if current != "" {
		parts = append(parts, current)
	}
	return parts
}

// NewNotifierFromConfig returns a Telegram notifier when credentials are
// set and a LogNotifier otherwise.
func NewNotifierFromConfig(cfg Config) Notifier {
	if cfg.TelegramToken == "" || cfg.TelegramChatID == 0 {
		return LogNotifier{}
	}
	n, err := NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		logger.WithError(err).Error("Telegram unavailable, notifications go to the log")
		return LogNotifier{}
	}
	return n
}
