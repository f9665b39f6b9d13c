package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// SupportPollTimeout is the long-poll window passed to getUpdates. The relay's HTTP
// client must allow at least this long per request.
const SupportPollTimeout = 30 * time.Second

const maxSupportThreads = 1024

// updateSource is the slice of *tgbotapi.BotAPI the relay uses.
type updateSource interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// SupportRelay forwards customer messages sent to the bot into the owner chat. When the
// owner replies to a forwarded message the reply goes back to that customer; a reply to
// anything else goes to whoever wrote last.
type SupportRelay struct {
	bot      updateSource
	owner    int64
	logger   *slog.Logger
	mu       sync.Mutex
	threads  map[int]int64 // forwarded message id -> customer chat
	order    []int
	lastChat int64
}

func NewSupportRelay(tg *Telegram, ownerChat int64, logger *slog.Logger) *SupportRelay {
	return newSupportRelay(tg.bot, ownerChat, logger)
}

func newSupportRelay(bot updateSource, ownerChat int64, logger *slog.Logger) *SupportRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &SupportRelay{
		bot:     bot,
		owner:   ownerChat,
		logger:  logger.With("component", "support_relay"),
		threads: make(map[int]int64),
	}
}

// Run long-polls the Bot API until ctx is cancelled.
func (r *SupportRelay) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = int(SupportPollTimeout / time.Second)
	updates := r.bot.GetUpdatesChan(cfg)
	r.logger.Info("support relay started", "owner_chat", r.owner)

	for {
		select {
		case <-ctx.Done():
			r.bot.StopReceivingUpdates()
			r.logger.Info("support relay stopped")
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if err := r.Handle(u); err != nil {
				r.logger.Warn("support relay", "update_id", u.UpdateID, "error", err)
			}
		}
	}
}

// Handle relays a single update. Updates without a text message are ignored.
func (r *SupportRelay) Handle(u tgbotapi.Update) error {
	msg := u.Message
	if msg == nil || msg.Chat == nil || msg.Text == "" {
		return nil
	}

	if msg.Chat.ID != r.owner {
		return r.forward(msg)
	}
	if msg.ReplyToMessage == nil {
		return nil
	}
	return r.reply(msg)
}

func (r *SupportRelay) forward(msg *tgbotapi.Message) error {
	sent, err := r.bot.Send(tgbotapi.NewMessage(r.owner, fmt.Sprintf("From %s:\n%s", sender(msg), msg.Text)))
	if err != nil {
		return fmt.Errorf("forward from chat %d: %w", msg.Chat.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastChat = msg.Chat.ID
	r.threads[sent.MessageID] = msg.Chat.ID
	r.order = append(r.order, sent.MessageID)
	if len(r.order) > maxSupportThreads {
		delete(r.threads, r.order[0])
		r.order = r.order[1:]
	}
	return nil
}

func (r *SupportRelay) reply(msg *tgbotapi.Message) error {
	r.mu.Lock()
	chatID, ok := r.threads[msg.ReplyToMessage.MessageID]
	if !ok {
		chatID = r.lastChat
	}
	r.mu.Unlock()

	if chatID == 0 {
		r.logger.Debug("owner reply with no customer thread", "message_id", msg.MessageID)
		return nil
	}
	if _, err := r.bot.Send(tgbotapi.NewMessage(chatID, msg.Text)); err != nil {
		return fmt.Errorf("reply to chat %d: %w", chatID, err)
	}
	return nil
}

func sender(msg *tgbotapi.Message) string {
	if msg.From == nil {
		return fmt.Sprintf("chat %d", msg.Chat.ID)
	}
	if msg.From.UserName != "" {
		return "@" + msg.From.UserName
	}
	return msg.From.FirstName
}
