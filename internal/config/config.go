package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/ticketero/internal/domain"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Storage drivers
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Sequence backends
const (
	SequenceStore = "store"
	SequenceRedis = "redis"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Redis     RedisConfig     `yaml:"redis"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	App       AppConfig       `yaml:"app"`
	Admission AdmissionConfig `yaml:"admission"`
	Engine    EngineConfig    `yaml:"engine"`
	Outbox    OutboxConfig    `yaml:"outbox"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Queues    []QueueConfig   `yaml:"queues"`
	Workers   []WorkerSeed    `yaml:"workers"`
	Customers []CustomerSeed  `yaml:"customers"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RunEngine starts the periodic tasks inside the API process. Required
	// with the memory storage driver, which cannot be shared across processes.
	RunEngine bool `yaml:"run_engine"`
}

// StorageConfig selects the persistence backends
type StorageConfig struct {
	Driver   string `yaml:"driver"`
	Sequence string `yaml:"sequence"`
	Migrate  bool   `yaml:"migrate"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectAttempts int           `yaml:"connect_attempts"`
	RetryInterval   time.Duration `yaml:"retry_interval"`
}

// RabbitMQConfig holds the broker used for push notifications
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      BrokerQueue      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Durable bool   `yaml:"durable"`
}

// BrokerQueue holds the queue the push gateway consumes from
type BrokerQueue struct {
	Name    string `yaml:"name"`
	Durable bool   `yaml:"durable"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// RedisConfig holds the Redis ticket sequence settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// TelegramConfig holds the Bot API settings
type TelegramConfig struct {
	Enabled   bool          `yaml:"enabled"`
	BaseURL   string        `yaml:"base_url"`
	Token     string        `yaml:"token"`
	ParseMode string        `yaml:"parse_mode"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	NoColor      bool   `yaml:"no_color"`
}

// TelemetryConfig holds OpenTelemetry tracing settings
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// AdmissionConfig holds admission limits
type AdmissionConfig struct {
	MaxActivePerCustomer int `yaml:"max_active_per_customer"`
	MaxActivePerVIP      int `yaml:"max_active_per_vip"`
	MaxRetries           int `yaml:"max_retries"`
}

// EngineConfig holds the assignment task and driver settings
type EngineConfig struct {
	AssignmentInterval time.Duration `yaml:"assignment_interval"`
	AssignmentGrace    time.Duration `yaml:"assignment_grace"`

	// ProximityWindow is a pointer so an explicit 0 disables proximity notices
	ProximityWindow *int          `yaml:"proximity_window"`
	ServiceDuration time.Duration `yaml:"service_duration"`
	TaskTimeout     time.Duration `yaml:"task_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// OutboxConfig holds notification delivery settings
type OutboxConfig struct {
	DrainInterval time.Duration `yaml:"drain_interval"`
	BatchSize     int           `yaml:"batch_size"`
	Concurrency   int           `yaml:"concurrency"`
	SendTimeout   time.Duration `yaml:"send_timeout"`
	MaxAttempts   int           `yaml:"max_attempts"`
	MaxBackoff    time.Duration `yaml:"max_backoff"`
	JobExpiry     time.Duration `yaml:"job_expiry"`
}

// SweeperConfig holds expiration sweep settings
type SweeperConfig struct {
	Interval      time.Duration `yaml:"interval"`
	NotifyExpired bool          `yaml:"notify_expired"`
}

// QueueConfig registers one queue in the catalog
type QueueConfig struct {
	Type                  string        `yaml:"type"`
	PriorityRank          int           `yaml:"priority_rank"`
	Capacity              int           `yaml:"capacity"`
	AverageServiceMinutes int           `yaml:"average_service_minutes"`
	ValidityWindow        time.Duration `yaml:"validity_window"`
	Active                *bool         `yaml:"active"`
}

// WorkerSeed is a worker created at startup when missing
type WorkerSeed struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Station string   `yaml:"station"`
	Queues  []string `yaml:"queues"`
	Status  string   `yaml:"status"`
}

// CustomerSeed is a customer loaded into the directory at startup
type CustomerSeed struct {
	ID             string `yaml:"id"`
	NationalID     string `yaml:"national_id"`
	FirstName      string `yaml:"first_name"`
	LastName       string `yaml:"last_name"`
	VIP            bool   `yaml:"vip"`
	Phone          string `yaml:"phone"`
	Email          string `yaml:"email"`
	TelegramChatID string `yaml:"telegram_chat_id"`
	PushToken      string `yaml:"push_token"`
}

// Load reads and parses the configuration file. Defaults are applied to
// every field the file leaves empty.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills unset fields with their stock values
func (c *Config) ApplyDefaults() {
	setDuration(&c.Server.ReadTimeout, 10*time.Second)
	setDuration(&c.Server.WriteTimeout, 10*time.Second)
	setDuration(&c.Server.IdleTimeout, 60*time.Second)
	setDuration(&c.Server.ShutdownTimeout, 15*time.Second)

	setString(&c.Storage.Driver, StorageMemory)
	setString(&c.Storage.Sequence, SequenceStore)

	setString(&c.Database.SSLMode, "disable")
	setInt(&c.Database.MaxOpenConns, 25)
	setInt(&c.Database.MaxIdleConns, 5)
	setDuration(&c.Database.ConnMaxLifetime, 5*time.Minute)
	setDuration(&c.Database.ConnMaxIdleTime, time.Minute)
	setInt(&c.Database.ConnectAttempts, 3)
	setDuration(&c.Database.RetryInterval, 2*time.Second)

	setString(&c.RabbitMQ.Exchange.Type, "direct")
	setString(&c.RabbitMQ.VHost, "/")
	setInt(&c.RabbitMQ.Connection.RetryAttempts, 5)
	setDuration(&c.RabbitMQ.Connection.RetryInterval, 2*time.Second)
	setDuration(&c.RabbitMQ.Connection.Heartbeat, 10*time.Second)
	setInt(&c.RabbitMQ.Publish.RetryAttempts, 2)
	setDuration(&c.RabbitMQ.Publish.RetryInterval, 100*time.Millisecond)

	setString(&c.Redis.Key, "ticketero:ticket_sequence")

	setDuration(&c.Telegram.Timeout, 10*time.Second)

	setString(&c.Logging.Level, "info")
	setString(&c.Logging.Format, "console")
	setString(&c.Logging.Output, "stdout")

	if c.Telemetry.SampleRatio <= 0 {
		c.Telemetry.SampleRatio = 1
	}

	setString(&c.App.Name, "ticketero")
	setString(&c.App.Environment, "development")

	setInt(&c.Admission.MaxActivePerCustomer, 1)
	setInt(&c.Admission.MaxActivePerVIP, 2)
	setInt(&c.Admission.MaxRetries, 5)

	setDuration(&c.Engine.AssignmentInterval, 5*time.Second)
	setDuration(&c.Engine.AssignmentGrace, 10*time.Second)
	if c.Engine.ProximityWindow == nil {
		window := 2
		c.Engine.ProximityWindow = &window
	}
	setDuration(&c.Engine.TaskTimeout, 30*time.Second)
	setDuration(&c.Engine.ShutdownTimeout, 30*time.Second)

	setDuration(&c.Outbox.DrainInterval, 2*time.Second)
	setInt(&c.Outbox.BatchSize, 50)
	setInt(&c.Outbox.Concurrency, 4)
	setDuration(&c.Outbox.SendTimeout, 5*time.Second)
	setInt(&c.Outbox.MaxAttempts, 3)
	setDuration(&c.Outbox.MaxBackoff, time.Hour)
	setDuration(&c.Outbox.JobExpiry, 24*time.Hour)

	setDuration(&c.Sweeper.Interval, 60*time.Second)
}

// ValidateAPIConfig checks what the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}
	if c.Storage.Driver == StorageMemory && !c.Server.RunEngine {
		return errors.New("memory storage requires server.run_engine")
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if c.Server.RunEngine {
		return c.validateEngine()
	}
	return nil
}

// ValidateEngineConfig checks what the engine service needs
func (c *Config) ValidateEngineConfig() error {
	if c.Storage.Driver == StorageMemory {
		return errors.New("engine service requires shared storage, memory driver is API-only")
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	return c.validateEngine()
}

func (c *Config) validateStorage() error {
	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if c.Database.Host == "" {
			return errors.New("database host is required")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return errors.New("database name is required")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Storage.Sequence {
	case SequenceStore:
	case SequenceRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis addr is required for the redis sequence")
		}
	default:
		return fmt.Errorf("unknown sequence backend %q", c.Storage.Sequence)
	}

	if _, err := c.Catalog(); err != nil {
		return err
	}
	for _, w := range c.Workers {
		if _, err := w.Worker(); err != nil {
			return err
		}
	}
	for _, cust := range c.Customers {
		if cust.ID == "" {
			return errors.New("customer seed id is required")
		}
		if _, err := domain.NormalizeNationalID(cust.NationalID); err != nil {
			return fmt.Errorf("customer %s: %w", cust.ID, err)
		}
	}
	return nil
}

func (c *Config) validateEngine() error {
	if c.Engine.AssignmentInterval <= 0 {
		return errors.New("engine assignment_interval must be greater than 0")
	}
	if c.Outbox.DrainInterval <= 0 {
		return errors.New("outbox drain_interval must be greater than 0")
	}
	if c.Sweeper.Interval <= 0 {
		return errors.New("sweeper interval must be greater than 0")
	}
	if c.Engine.TaskTimeout <= 0 {
		return errors.New("engine task_timeout must be greater than 0")
	}
	if c.Engine.ProximityWindow != nil && *c.Engine.ProximityWindow < 0 {
		return errors.New("engine proximity_window must not be negative")
	}
	if c.Outbox.MaxAttempts <= 0 {
		return errors.New("outbox max_attempts must be greater than 0")
	}
	if c.Outbox.Concurrency <= 0 {
		return errors.New("outbox concurrency must be greater than 0")
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Host == "" {
			return errors.New("rabbitmq host is required")
		}
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return errors.New("rabbitmq exchange name is required")
		}
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return errors.New("telegram token is required")
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errors.New("telemetry endpoint is required")
	}
	return nil
}

// Catalog returns the configured queues, or the stock set when none are configured
func (c *Config) Catalog() ([]domain.Queue, error) {
	if len(c.Queues) == 0 {
		return domain.DefaultQueues(), nil
	}

	queues := make([]domain.Queue, 0, len(c.Queues))
	for _, qc := range c.Queues {
		qt, err := domain.ParseQueueType(qc.Type)
		if err != nil {
			return nil, err
		}
		q := domain.Queue{
			Type:                  qt,
			PriorityRank:          qc.PriorityRank,
			Capacity:              qc.Capacity,
			AverageServiceMinutes: qc.AverageServiceMinutes,
			ValidityWindow:        qc.ValidityWindow,
			Active:                qc.Active == nil || *qc.Active,
		}
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("queue %s: %w", qt, err)
		}
		queues = append(queues, q)
	}
	return queues, nil
}

// Worker converts the seed into a domain worker
func (w WorkerSeed) Worker() (domain.Worker, error) {
	if w.ID == "" {
		return domain.Worker{}, errors.New("worker seed id is required")
	}
	status := domain.WorkerStatus(strings.ToUpper(w.Status))
	if w.Status == "" {
		status = domain.WorkerStatusAvailable
	}
	if !status.Valid() || status == domain.WorkerStatusBusy {
		return domain.Worker{}, fmt.Errorf("worker %s: invalid status %q", w.ID, w.Status)
	}
	if len(w.Queues) == 0 {
		return domain.Worker{}, fmt.Errorf("worker %s: at least one queue is required", w.ID)
	}

	queues := make([]domain.QueueType, 0, len(w.Queues))
	for _, raw := range w.Queues {
		qt, err := domain.ParseQueueType(raw)
		if err != nil {
			return domain.Worker{}, fmt.Errorf("worker %s: %w", w.ID, err)
		}
		queues = append(queues, qt)
	}

	name := w.Name
	if name == "" {
		name = w.ID
	}
	return domain.Worker{
		ID:              w.ID,
		Name:            name,
		Station:         w.Station,
		Status:          status,
		SupportedQueues: queues,
		Version:         1,
	}, nil
}

// Customer converts the seed into a domain customer
func (s CustomerSeed) Customer() domain.Customer {
	return domain.Customer{
		ID:             s.ID,
		NationalID:     s.NationalID,
		FirstName:      s.FirstName,
		LastName:       s.LastName,
		VIP:            s.VIP,
		Phone:          s.Phone,
		Email:          s.Email,
		TelegramChatID: s.TelegramChatID,
		PushToken:      s.PushToken,
	}
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v == 0 {
		*v = def
	}
}
