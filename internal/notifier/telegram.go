package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuongbtq/ticketero/internal/domain"
)

// DefaultTelegramBaseURL is the Bot API endpoint
const DefaultTelegramBaseURL = "https://api.telegram.org"

// TelegramConfig holds Bot API settings
type TelegramConfig struct {
	BaseURL   string
	Token     string
	ParseMode string
	Timeout   time.Duration
}

// Telegram sends messages through the Bot API sendMessage method
type Telegram struct {
	endpoint  string
	parseMode string
	client    *http.Client
	logger    *slog.Logger
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
}

// NewTelegram creates a Telegram sender. A nil client gets one with cfg.Timeout.
func NewTelegram(cfg TelegramConfig, client *http.Client, logger *slog.Logger) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultTelegramBaseURL
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Telegram{
		endpoint:  strings.TrimRight(base, "/") + "/bot" + cfg.Token + "/sendMessage",
		parseMode: cfg.ParseMode,
		client:    client,
		logger:    logger,
	}, nil
}

func (t *Telegram) Send(ctx context.Context, target domain.ChannelTarget, text string) error {
	if strings.TrimSpace(target.Address) == "" {
		return domain.NewPermanentSendError(errors.New("telegram chat id is empty"))
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:    target.Address,
		Text:      text,
		ParseMode: t.parseMode,
	})
	if err != nil {
		return domain.NewPermanentSendError(fmt.Errorf("failed to marshal message: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.NewPermanentSendError(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// the error may carry the endpoint, which holds the token
		return domain.NewTransientSendError(fmt.Errorf("telegram request failed: %w", redact(err)))
	}
	defer resp.Body.Close()

	var parsed sendMessageResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode == http.StatusOK && parsed.OK {
		t.logger.Debug("Telegram message sent", slog.String("chat_id", target.Address))
		return nil
	}

	cause := fmt.Errorf("telegram responded %d: %s", resp.StatusCode, parsed.Description)
	if retryableStatus(resp.StatusCode) {
		return domain.NewTransientSendError(cause)
	}
	return domain.NewPermanentSendError(cause)
}

func retryableStatus(code int) bool {
	// 200 with ok=false is an API hiccup, not a rejected message
	return code == http.StatusOK || code == http.StatusTooManyRequests ||
		code == http.StatusRequestTimeout || code >= 500
}

func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}
