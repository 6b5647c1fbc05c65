package notifier

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/ticketero/internal/domain"
)

// Log writes notifications to the logger. Used in development and for the
// log channel.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a log sender
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Send(ctx context.Context, target domain.ChannelTarget, text string) error {
	if err := ctx.Err(); err != nil {
		return domain.NewTransientSendError(err)
	}
	l.logger.Info("Notification",
		slog.String("channel", string(target.Channel)),
		slog.String("address", target.Address),
		slog.String("text", text),
	)
	return nil
}
