package notify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// TelegramSender posts MarkdownV2 messages through the Bot API.
type TelegramSender struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramSender authenticates the bot (getMe) and targets chatID.
func NewTelegramSender(token, chatID string) (*TelegramSender, error) {
	return newTelegramSender(token, chatID, tgbotapi.APIEndpoint, &http.Client{Timeout: 10 * time.Second})
}

func newTelegramSender(token, chatID, endpoint string, client *http.Client) (*TelegramSender, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: invalid chat id %q: %w", chatID, err)
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return &TelegramSender{bot: bot, chatID: id}, nil
}

func (t *TelegramSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := fmt.Sprintf("%s *%s*\n%s",
		severityIcon(msg),
		tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, msg.Title),
		tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, msg.Body),
	)
	m := tgbotapi.NewMessage(t.chatID, text)
	m.ParseMode = tgbotapi.ModeMarkdownV2
	m.DisableWebPagePreview = true
	if _, err := t.bot.Send(m); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

func (t *TelegramSender) Name() string { return "telegram" }

func severityIcon(msg Message) string {
	switch msg.Severity {
	case domain.SeverityCritical:
		return "🚨"
	case domain.SeverityHigh:
		return "⚠️"
	default:
		return "ℹ️"
	}
}
