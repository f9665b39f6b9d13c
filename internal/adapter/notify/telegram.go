package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rl1809/escrow-relay/internal/core/domain"
)

// Telegram sends lifecycle messages to one chat per audience. Audiences without a chat
// are skipped silently.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chats  map[domain.Audience]int64
	logger *slog.Logger
}

type TelegramOptions struct {
	Token string
	Chats map[domain.Audience]int64

	// Endpoint overrides tgbotapi.APIEndpoint, e.g. for a local Bot API server.
	Endpoint string
	Client   *http.Client
	Logger   *slog.Logger
}

func NewTelegram(opts TelegramOptions) (*Telegram, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultSendTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bot, err := tgbotapi.NewBotAPIWithClient(opts.Token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &Telegram{bot: bot, chats: opts.Chats, logger: logger}, nil
}

func (t *Telegram) Notify(ctx context.Context, audience domain.Audience, message string) error {
	chatID, ok := t.chats[audience]
	if !ok || chatID == 0 {
		t.logger.Debug("no telegram chat for audience", "audience", audience)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, message)); err != nil {
		return fmt.Errorf("telegram send to %s: %w", audience, err)
	}
	return nil
}
