package notify

import (
	"fmt"
	"log/slog"

	"cmdgate/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram forwards approval requests to a fixed admin chat so operators
// see pending commands without keeping a browser session open. Delivery is
// best-effort like every other notification path.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

type TelegramConfig struct {
	Token  string
	ChatID int64
	Logger *slog.Logger
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	cfg.Logger.Info("telegram forwarder connected", "username", bot.Self.UserName)
	return &Telegram{bot: bot, chatID: cfg.ChatID, logger: cfg.Logger}, nil
}

// Forward sends approval_request events to the admin chat. Other event
// kinds are ignored.
func (t *Telegram) Forward(ev domain.Event) {
	if ev.Type != domain.EventApprovalRequest {
		return
	}

	text := fmt.Sprintf("Approval requested\n\nUser: %s\nCommand: %s\nID: %s",
		ev.UserName, ev.CommandText, ev.CommandID)
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Warn("telegram forward failed", "command_id", ev.CommandID, "err", err)
	}
}
