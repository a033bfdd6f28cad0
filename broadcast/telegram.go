package broadcast

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramConfig 广播出口的 Telegram 配置
type TelegramConfig struct {
	// Bot token
	Token string `yaml:"token" json:"token"`

	// 单次 API 调用超时
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

var _ Sender = (*TelegramSender)(nil)

// TelegramSender delivers broadcast payloads through the Telegram bot API.
type TelegramSender struct {
	bot    *tgbotapi.BotAPI
	logger *zap.Logger
}

// NewTelegramSender authorizes against the bot API.
func NewTelegramSender(cfg TelegramConfig, logger *zap.Logger) (*TelegramSender, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint,
		&http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	logger.Info("telegram sender authorized", zap.String("username", bot.Self.UserName))
	return &TelegramSender{bot: bot, logger: logger}, nil
}

// Send delivers one message. The bot API client carries its own timeout; the
// context is only consulted before the call since the underlying library does
// not accept one.
func (s *TelegramSender) Send(ctx context.Context, recipient int64, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(recipient, payload)
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
