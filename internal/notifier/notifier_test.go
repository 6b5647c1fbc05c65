package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/ticketero/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func telegramTarget(chat string) domain.ChannelTarget {
	return domain.ChannelTarget{Channel: domain.ChannelTelegram, Address: chat}
}

func TestTelegram_Send(t *testing.T) {
	var got sendMessageRequest
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{BaseURL: srv.URL, Token: "abc", ParseMode: "HTML"}, srv.Client(), discardLogger())
	require.NoError(t, err)

	require.NoError(t, tg.Send(context.Background(), telegramTarget("42"), "hello"))
	assert.Equal(t, "/botabc/sendMessage", path)
	assert.Equal(t, "42", got.ChatID)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, "HTML", got.ParseMode)
}

func TestTelegram_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		permanent bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"ok":false,"description":"Too Many Requests"}`},
		{name: "server error", status: http.StatusBadGateway, body: `bad gateway`},
		{name: "ok false", status: http.StatusOK, body: `{"ok":false}`},
		{name: "chat not found", status: http.StatusBadRequest, body: `{"ok":false,"description":"chat not found"}`, permanent: true},
		{name: "blocked by user", status: http.StatusForbidden, body: `{"ok":false,"description":"bot was blocked"}`, permanent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			tg, err := NewTelegram(TelegramConfig{BaseURL: srv.URL, Token: "abc"}, srv.Client(), discardLogger())
			require.NoError(t, err)

			err = tg.Send(context.Background(), telegramTarget("42"), "hi")
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrDelivery)
			assert.Equal(t, tt.permanent, domain.IsPermanent(err))
		})
	}
}

func TestTelegram_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	tg, err := NewTelegram(TelegramConfig{BaseURL: url, Token: "secret-token"}, nil, discardLogger())
	require.NoError(t, err)

	err = tg.Send(context.Background(), telegramTarget("42"), "hi")
	require.Error(t, err)
	assert.False(t, domain.IsPermanent(err))
	assert.NotContains(t, err.Error(), "secret-token")
}

func TestTelegram_Validation(t *testing.T) {
	_, err := NewTelegram(TelegramConfig{}, nil, discardLogger())
	require.Error(t, err)

	tg, err := NewTelegram(TelegramConfig{Token: "abc"}, nil, discardLogger())
	require.NoError(t, err)
	err = tg.Send(context.Background(), telegramTarget(" "), "hi")
	assert.True(t, domain.IsPermanent(err))
}

type fakePublisher struct {
	connected bool
	err       error
	bodies    [][]byte
}

func (p *fakePublisher) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	if p.err != nil {
		return p.err
	}
	p.bodies = append(p.bodies, body)
	return nil
}

func (p *fakePublisher) IsConnected() bool { return p.connected }

func TestPush_Send(t *testing.T) {
	at := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	pub := &fakePublisher{connected: true}
	push := NewPush(pub, func() time.Time { return at }, discardLogger())

	target := domain.ChannelTarget{Channel: domain.ChannelPush, Address: "device-1"}
	require.NoError(t, push.Send(context.Background(), target, "your turn"))

	require.Len(t, pub.bodies, 1)
	var msg PushMessage
	require.NoError(t, json.Unmarshal(pub.bodies[0], &msg))
	assert.Equal(t, "device-1", msg.Token)
	assert.Equal(t, "your turn", msg.Text)
	assert.True(t, msg.PublishedAt.Equal(at))
}

func TestPush_Failures(t *testing.T) {
	target := domain.ChannelTarget{Channel: domain.ChannelPush, Address: "device-1"}

	err := NewPush(&fakePublisher{connected: false}, nil, discardLogger()).Send(context.Background(), target, "x")
	require.Error(t, err)
	assert.False(t, domain.IsPermanent(err))

	err = NewPush(&fakePublisher{connected: true, err: errors.New("channel closed")}, nil, discardLogger()).Send(context.Background(), target, "x")
	require.Error(t, err)
	assert.False(t, domain.IsPermanent(err))

	err = NewPush(&fakePublisher{connected: true}, nil, discardLogger()).Send(context.Background(),
		domain.ChannelTarget{Channel: domain.ChannelPush}, "x")
	assert.True(t, domain.IsPermanent(err))
}

type recordingSender struct {
	targets []domain.ChannelTarget
}

func (s *recordingSender) Send(ctx context.Context, target domain.ChannelTarget, text string) error {
	s.targets = append(s.targets, target)
	return nil
}

func TestRouter_Dispatch(t *testing.T) {
	tg := &recordingSender{}
	logSender := &recordingSender{}
	r := NewRouter(discardLogger()).
		Register(domain.ChannelTelegram, tg).
		Register(domain.ChannelLog, logSender)

	require.NoError(t, r.Send(context.Background(), telegramTarget("1"), "a"))
	require.NoError(t, r.Send(context.Background(), domain.ChannelTarget{Channel: domain.ChannelLog, Address: "x"}, "b"))
	assert.Len(t, tg.targets, 1)
	assert.Len(t, logSender.targets, 1)
	assert.ElementsMatch(t, []domain.Channel{domain.ChannelTelegram, domain.ChannelLog}, r.Channels())

	err := r.Send(context.Background(), domain.ChannelTarget{Channel: domain.ChannelPush, Address: "d"}, "c")
	assert.True(t, domain.IsPermanent(err))
}

func TestLog_Send(t *testing.T) {
	l := NewLog(discardLogger())
	require.NoError(t, l.Send(context.Background(), telegramTarget("1"), "hi"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Send(ctx, telegramTarget("1"), "hi")
	assert.ErrorIs(t, err, context.Canceled)
}
