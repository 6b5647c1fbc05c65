package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConnected is returned when publishing without a live channel
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// Config holds RabbitMQ connection configuration
type Config struct {
	Host              string
	Port              int
	User              string
	Password          string
	VHost             string
	ExchangeName      string
	ExchangeType      string
	ExchangeDurable   bool
	QueueName         string
	QueueDurable      bool
	RoutingKey        string
	RetryAttempts     int
	RetryInterval     time.Duration
	Heartbeat         time.Duration
	PublishRetries    int
	PublishRetryDelay time.Duration
}

// URL builds the AMQP connection string
func (c *Config) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", c.User, c.Password, c.Host, c.Port, c.VHost)
}

// Client is a publishing RabbitMQ client. It re-dials in the background when
// the broker closes the channel.
type Client struct {
	config  *Config
	logger  *slog.Logger
	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  chan struct{}
	once    sync.Once
}

// NewClient connects, declares the topology and starts the reconnect monitor
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	c := &Client{
		config: config,
		logger: logger,
		closed: make(chan struct{}),
	}

	closeChan, err := c.connect()
	if err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}
	go c.monitor(closeChan)

	return c, nil
}

func (c *Client) connect() (chan *amqp.Error, error) {
	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var (
		conn *amqp.Connection
		err  error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.String("host", c.config.Host),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		conn, err = amqp.DialConfig(c.config.URL(), amqp.Config{
			Heartbeat: c.config.Heartbeat,
			Locale:    "en_US",
		})
		if err == nil {
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)
		if attempt < attempts {
			select {
			case <-time.After(c.config.RetryInterval):
			case <-c.closed:
				return nil, ErrNotConnected
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	if err := c.declare(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to setup exchange and queue: %w", err)
	}

	closeChan := ch.NotifyClose(make(chan *amqp.Error, 1))

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	c.logger.Info("RabbitMQ publisher ready",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("routing_key", c.config.RoutingKey),
	)
	return closeChan, nil
}

// declare sets up the exchange and, when configured, a bound queue for the gateway
func (c *Client) declare(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(
		c.config.ExchangeName,
		c.config.ExchangeType,
		c.config.ExchangeDurable,
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if c.config.QueueName == "" {
		return nil
	}
	if _, err := ch.QueueDeclare(
		c.config.QueueName,
		c.config.QueueDurable,
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(c.config.QueueName, c.config.RoutingKey, c.config.ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

func (c *Client) monitor(closeChan chan *amqp.Error) {
	for {
		select {
		case <-c.closed:
			return
		case amqpErr := <-closeChan:
			select {
			case <-c.closed:
				return
			default:
			}
			c.logger.Warn("RabbitMQ channel closed, reconnecting", slog.Any("error", amqpErr))

			c.mu.Lock()
			c.channel = nil
			c.mu.Unlock()

			next, err := c.connect()
			if err != nil {
				c.logger.Error("RabbitMQ reconnect failed", slog.Any("error", err))
				select {
				case <-time.After(c.config.RetryInterval):
				case <-c.closed:
					return
				}
				// retry through a closed channel so the loop dials again
				next = make(chan *amqp.Error)
				close(next)
			}
			closeChan = next
		}
	}
}

// Publish publishes one persistent message
func (c *Client) Publish(ctx context.Context, body []byte, contentType string) error {
	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()
	if ch == nil {
		return ErrNotConnected
	}

	err := ch.PublishWithContext(ctx,
		c.config.ExchangeName,
		c.config.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  contentType,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// PublishWithRetry publishes with exponential backoff between attempts. It
// stops early when ctx is done.
func (c *Client) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	maxRetries := c.config.PublishRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	delay := c.config.PublishRetryDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = c.Publish(ctx, body, contentType)
		if lastErr == nil {
			c.logger.Debug("Message published to RabbitMQ",
				slog.Int("attempt", attempt+1),
				slog.Int("body_size", len(body)),
			)
			return nil
		}
		if attempt == maxRetries {
			break
		}

		wait := delay << uint(attempt)
		c.logger.Warn("Failed to publish message to RabbitMQ, retrying...",
			slog.Int("attempt", attempt+1),
			slog.Duration("retry_after", wait),
			slog.Any("error", lastErr),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fmt.Errorf("publish abandoned: %w", ctx.Err())
		}
	}

	return fmt.Errorf("failed to publish message after %d attempts: %w", maxRetries+1, lastErr)
}

// IsConnected reports whether a channel is currently open
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel != nil && c.conn != nil && !c.conn.IsClosed()
}

// Close stops the reconnect monitor and closes the connection
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		c.logger.Info("Closing RabbitMQ connection")
		close(c.closed)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.channel != nil {
			if cerr := c.channel.Close(); cerr != nil {
				c.logger.Error("Failed to close RabbitMQ channel", slog.Any("error", cerr))
			}
			c.channel = nil
		}
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
