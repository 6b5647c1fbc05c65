// Package sequence provides ticket sequencers backed by external counters.
package sequence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/ticketero/internal/storage"
)

// DefaultKey is the redis key holding the ticket sequence
const DefaultKey = "ticketero:ticket_sequence"

// Redis hands out ticket sequence values with INCR, so several API
// instances share one counter
type Redis struct {
	client redis.Cmdable
	key    string
	logger *slog.Logger
}

var _ storage.Sequencer = (*Redis)(nil)

// NewRedis creates a sequencer on key, or DefaultKey when key is empty
func NewRedis(client redis.Cmdable, key string, logger *slog.Logger) *Redis {
	if key == "" {
		key = DefaultKey
	}
	return &Redis{client: client, key: key, logger: logger}
}

func (r *Redis) NextTicketSequence(ctx context.Context) (int64, error) {
	next, err := r.client.Incr(ctx, r.key).Result()
	if err != nil {
		r.logger.Error("Failed to advance ticket sequence",
			slog.String("key", r.key),
			slog.Any("error", err),
		)
		return 0, fmt.Errorf("failed to advance ticket sequence: %w", err)
	}
	return next, nil
}

// Config holds redis connection settings
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Connect opens a redis client and pings it
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Connected to Redis",
		slog.String("addr", cfg.Addr),
		slog.Int("db", cfg.DB),
	)
	return client, nil
}
