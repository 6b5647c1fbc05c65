// Package notifier holds the delivery channels used by the outbox.
// Every Send classifies its failure as transient or permanent.
package notifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/ticketero/internal/domain"
)

// Sender delivers a rendered message to one target
type Sender interface {
	Send(ctx context.Context, target domain.ChannelTarget, text string) error
}

// Router dispatches by target channel
type Router struct {
	senders map[domain.Channel]Sender
	logger  *slog.Logger
}

// NewRouter creates an empty router
func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		senders: make(map[domain.Channel]Sender),
		logger:  logger,
	}
}

// Register binds a sender to a channel, replacing any previous one
func (r *Router) Register(channel domain.Channel, sender Sender) *Router {
	r.senders[channel] = sender
	r.logger.Info("Notification channel registered", slog.String("channel", string(channel)))
	return r
}

// Channels returns the registered channels
func (r *Router) Channels() []domain.Channel {
	out := make([]domain.Channel, 0, len(r.senders))
	for ch := range r.senders {
		out = append(out, ch)
	}
	return out
}

// Send delivers through the sender registered for target.Channel. An
// unregistered channel can never succeed, so it fails permanently.
func (r *Router) Send(ctx context.Context, target domain.ChannelTarget, text string) error {
	sender, ok := r.senders[target.Channel]
	if !ok {
		return domain.NewPermanentSendError(fmt.Errorf("no sender for channel %q", target.Channel))
	}
	return sender.Send(ctx, target, text)
}
