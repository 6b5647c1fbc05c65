package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/ticketero/internal/domain"
)

// Publisher is the broker side of push delivery. shared/rabbitmq.Client
// implements it.
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
	IsConnected() bool
}

// PushMessage is the JSON envelope consumed by the push gateway
type PushMessage struct {
	Token       string    `json:"token"`
	Text        string    `json:"text"`
	PublishedAt time.Time `json:"published_at"`
}

// Push hands notifications to a push gateway through the message broker
type Push struct {
	publisher Publisher
	now       func() time.Time
	logger    *slog.Logger
}

// NewPush creates a push sender. now defaults to time.Now.
func NewPush(publisher Publisher, now func() time.Time, logger *slog.Logger) *Push {
	if now == nil {
		now = time.Now
	}
	return &Push{publisher: publisher, now: now, logger: logger}
}

func (p *Push) Send(ctx context.Context, target domain.ChannelTarget, text string) error {
	if target.Address == "" {
		return domain.NewPermanentSendError(errors.New("push token is empty"))
	}
	if !p.publisher.IsConnected() {
		return domain.NewTransientSendError(errors.New("message broker is not connected"))
	}

	body, err := json.Marshal(PushMessage{
		Token:       target.Address,
		Text:        text,
		PublishedAt: p.now().UTC(),
	})
	if err != nil {
		return domain.NewPermanentSendError(fmt.Errorf("failed to marshal push message: %w", err))
	}

	if err := p.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return domain.NewTransientSendError(err)
	}

	p.logger.Debug("Push notification published", slog.Int("body_size", len(body)))
	return nil
}
