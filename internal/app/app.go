// Package app assembles the engine components from configuration. Both
// services build on it, the API service adds HTTP and the engine service adds
// nothing but the task driver.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/cuongbtq/ticketero/internal/admission"
	"github.com/cuongbtq/ticketero/internal/api/handler"
	"github.com/cuongbtq/ticketero/internal/catalog"
	"github.com/cuongbtq/ticketero/internal/config"
	"github.com/cuongbtq/ticketero/internal/domain"
	"github.com/cuongbtq/ticketero/internal/engine"
	"github.com/cuongbtq/ticketero/internal/notifier"
	"github.com/cuongbtq/ticketero/internal/outbox"
	"github.com/cuongbtq/ticketero/internal/scheduler"
	"github.com/cuongbtq/ticketero/internal/storage"
	"github.com/cuongbtq/ticketero/internal/storage/memory"
	"github.com/cuongbtq/ticketero/internal/storage/postgres"
	"github.com/cuongbtq/ticketero/internal/storage/sequence"
	"github.com/cuongbtq/ticketero/internal/sweeper"
	"github.com/cuongbtq/ticketero/internal/ticketing"
	"github.com/cuongbtq/ticketero/shared/postgresql"
	"github.com/cuongbtq/ticketero/shared/rabbitmq"
)

// App holds the wired engine
type App struct {
	Config    *config.Config
	Clock     clockwork.Clock
	Store     storage.Store
	Customers storage.CustomerDirectory
	Catalog   *catalog.Catalog
	Notifier  *notifier.Router
	Admission *admission.Controller
	Outbox    *outbox.Outbox
	Scheduler *scheduler.Scheduler
	Sweeper   *sweeper.Sweeper
	Service   *ticketing.Service

	// HealthChecks probes every external dependency that was opened
	HealthChecks map[string]handler.HealthCheck

	logger  *slog.Logger
	closers []namedCloser
}

type namedCloser struct {
	name string
	c    io.Closer
}

// New opens the configured backends and wires the engine on top of them.
// On error every backend opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	a := &App{
		Config:       cfg,
		Clock:        clockwork.NewRealClock(),
		HealthChecks: make(map[string]handler.HealthCheck),
		logger:       logger,
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	queues, err := cfg.Catalog()
	if err != nil {
		return nil, fmt.Errorf("invalid queue catalog: %w", err)
	}
	if a.Catalog, err = catalog.New(queues); err != nil {
		return nil, fmt.Errorf("failed to build queue catalog: %w", err)
	}

	if err := a.initStorage(ctx); err != nil {
		return nil, err
	}
	if err := a.seedWorkers(ctx); err != nil {
		return nil, err
	}

	sequencer, err := a.initSequencer(ctx)
	if err != nil {
		return nil, err
	}

	if a.Notifier, err = a.initNotifier(); err != nil {
		return nil, err
	}

	a.Admission = admission.NewController(a.Customers, a.Store, sequencer, a.Catalog, a.Clock, admission.Config{
		MaxActivePerCustomer: cfg.Admission.MaxActivePerCustomer,
		MaxActivePerVIP:      cfg.Admission.MaxActivePerVIP,
		MaxRetries:           cfg.Admission.MaxRetries,
	}, logger.With(slog.String("component", "admission")))

	a.Outbox = outbox.New(a.Store, a.Notifier, a.Catalog, a.Clock, outbox.Config{
		BatchSize:   cfg.Outbox.BatchSize,
		Concurrency: cfg.Outbox.Concurrency,
		SendTimeout: cfg.Outbox.SendTimeout,
		MaxAttempts: cfg.Outbox.MaxAttempts,
		MaxBackoff:  cfg.Outbox.MaxBackoff,
		JobExpiry:   cfg.Outbox.JobExpiry,
	}, logger.With(slog.String("component", "outbox")))

	a.Scheduler = scheduler.New(a.Store, a.Catalog, a.Clock, scheduler.Config{
		AssignmentGrace: cfg.Engine.AssignmentGrace,
		ProximityWindow: *cfg.Engine.ProximityWindow,
		ServiceDuration: cfg.Engine.ServiceDuration,
	}, logger.With(slog.String("component", "scheduler")))

	a.Sweeper = sweeper.New(a.Store, a.Catalog, a.Clock, sweeper.Config{
		NotifyExpired: cfg.Sweeper.NotifyExpired,
	}, logger.With(slog.String("component", "sweeper")))

	a.Service = ticketing.NewService(a.Admission, a.Store, a.Outbox, a.Catalog, a.Clock,
		logger.With(slog.String("component", "ticketing")))

	return a, nil
}

// NewDriver builds the task driver running assignment, delivery and expiry
func (a *App) NewDriver() *engine.Driver {
	tasks := engine.Tasks(a.Scheduler, a.Outbox, a.Sweeper, engine.Intervals{
		Assignment: a.Config.Engine.AssignmentInterval,
		Drain:      a.Config.Outbox.DrainInterval,
		Sweep:      a.Config.Sweeper.Interval,
	}, a.logger.With(slog.String("component", "engine")))

	return engine.NewDriver(&engine.Config{
		Logger:      a.logger.With(slog.String("component", "driver")),
		Clock:       a.Clock,
		TaskTimeout: a.Config.Engine.TaskTimeout,
	}, tasks...)
}

// Close releases the backends in reverse opening order
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		nc := a.closers[i]
		if err := nc.c.Close(); err != nil {
			a.logger.Warn("Failed to close backend",
				slog.String("backend", nc.name),
				slog.Any("error", err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", nc.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(name string, c io.Closer) {
	a.closers = append(a.closers, namedCloser{name: name, c: c})
}

func (a *App) initStorage(ctx context.Context) error {
	cfg := a.Config

	if cfg.Storage.Driver == config.StorageMemory {
		customers := memory.NewCustomers()
		for _, seed := range cfg.Customers {
			customers.Put(seed.Customer())
		}
		a.Store = memory.NewStore()
		a.Customers = customers
		a.logger.Info("Using in-memory storage",
			slog.Int("customers", len(cfg.Customers)),
		)
		return nil
	}

	dbClient, err := postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
		RetryInterval:   cfg.Database.RetryInterval,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.onClose("postgresql", dbClient)
	a.HealthChecks["database"] = dbClient.HealthCheck

	store := postgres.NewStore(dbClient, a.logger.With(slog.String("component", "storage")))
	if cfg.Storage.Migrate {
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
		a.logger.Info("Database schema is up to date")
	}
	for _, seed := range cfg.Customers {
		if err := store.SaveCustomer(ctx, seed.Customer()); err != nil {
			return fmt.Errorf("failed to seed customer %s: %w", seed.ID, err)
		}
	}

	a.Store = store
	a.Customers = store
	return nil
}

// seedWorkers creates configured workers that do not exist yet. Existing
// workers keep their live status and assignment count.
func (a *App) seedWorkers(ctx context.Context) error {
	created := 0
	for _, seed := range a.Config.Workers {
		w, err := seed.Worker()
		if err != nil {
			return fmt.Errorf("invalid worker %s: %w", seed.ID, err)
		}

		_, err = a.Store.GetWorker(ctx, w.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("failed to look up worker %s: %w", w.ID, err)
		}

		w.UpdatedAt = a.Clock.Now()
		if err := a.Store.SaveWorker(ctx, w); err != nil {
			return fmt.Errorf("failed to seed worker %s: %w", w.ID, err)
		}
		created++
	}

	if created > 0 {
		a.logger.Info("Workers seeded", slog.Int("created", created))
	}
	return nil
}

func (a *App) initSequencer(ctx context.Context) (storage.Sequencer, error) {
	cfg := a.Config
	if cfg.Storage.Sequence != config.SequenceRedis {
		return a.Store, nil
	}

	client, err := sequence.Connect(ctx, sequence.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	a.onClose("redis", client)
	a.HealthChecks["redis"] = func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}

	return sequence.NewRedis(client, cfg.Redis.Key, a.logger.With(slog.String("component", "sequence"))), nil
}

func (a *App) initNotifier() (*notifier.Router, error) {
	cfg := a.Config
	logger := a.logger.With(slog.String("component", "notifier"))

	router := notifier.NewRouter(logger).
		Register(domain.ChannelLog, notifier.NewLog(logger))

	if cfg.Telegram.Enabled {
		tg, err := notifier.NewTelegram(notifier.TelegramConfig{
			BaseURL:   cfg.Telegram.BaseURL,
			Token:     cfg.Telegram.Token,
			ParseMode: cfg.Telegram.ParseMode,
			Timeout:   cfg.Telegram.Timeout,
		}, nil, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telegram: %w", err)
		}
		router.Register(domain.ChannelTelegram, tg)
	}

	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := rabbitmq.NewClient(&rabbitmq.Config{
			Host:              cfg.RabbitMQ.Host,
			Port:              cfg.RabbitMQ.Port,
			User:              cfg.RabbitMQ.User,
			Password:          cfg.RabbitMQ.Password,
			VHost:             cfg.RabbitMQ.VHost,
			ExchangeName:      cfg.RabbitMQ.Exchange.Name,
			ExchangeType:      cfg.RabbitMQ.Exchange.Type,
			ExchangeDurable:   cfg.RabbitMQ.Exchange.Durable,
			QueueName:         cfg.RabbitMQ.Queue.Name,
			QueueDurable:      cfg.RabbitMQ.Queue.Durable,
			RoutingKey:        cfg.RabbitMQ.RoutingKey,
			RetryAttempts:     cfg.RabbitMQ.Connection.RetryAttempts,
			RetryInterval:     cfg.RabbitMQ.Connection.RetryInterval,
			Heartbeat:         cfg.RabbitMQ.Connection.Heartbeat,
			PublishRetries:    cfg.RabbitMQ.Publish.RetryAttempts,
			PublishRetryDelay: cfg.RabbitMQ.Publish.RetryInterval,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		a.onClose("rabbitmq", rabbitClient)
		a.HealthChecks["rabbitmq"] = func(context.Context) error {
			if !rabbitClient.IsConnected() {
				return rabbitmq.ErrNotConnected
			}
			return nil
		}
		router.Register(domain.ChannelPush, notifier.NewPush(rabbitClient, a.Clock.Now, logger))
	}

	logger.Info("Notification channels ready", slog.Any("channels", router.Channels()))
	return router, nil
}
