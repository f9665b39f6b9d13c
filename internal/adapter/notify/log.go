package notify

import (
	"context"
	"log/slog"

	"github.com/rl1809/escrow-relay/internal/core/domain"
)

// Log writes notifications to the structured log. It is used when no bot token is set.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Notify(ctx context.Context, audience domain.Audience, message string) error {
	l.logger.InfoContext(ctx, "notification", "audience", audience, "message", message)
	return nil
}
