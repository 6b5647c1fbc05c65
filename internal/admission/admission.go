// Package admission creates tickets against queue capacity and
// per-customer limits.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/cuongbtq/ticketero/internal/catalog"
	"github.com/cuongbtq/ticketero/internal/domain"
	"github.com/cuongbtq/ticketero/internal/storage"
)

const (
	DefaultMaxActivePerCustomer = 1
	DefaultMaxActivePerVIP      = 2
	DefaultMaxRetries           = 5
)

// Config holds admission limits. Zero values fall back to the defaults.
type Config struct {
	MaxActivePerCustomer int
	MaxActivePerVIP      int
	// MaxRetries bounds how often a guarded insert is retried after losing a race
	MaxRetries int
	// CodeAttempts bounds how many sequence values are drawn for one ticket
	// before the code space is considered exhausted
	CodeAttempts int
}

func (c Config) withDefaults() Config {
	if c.MaxActivePerCustomer <= 0 {
		c.MaxActivePerCustomer = DefaultMaxActivePerCustomer
	}
	if c.MaxActivePerVIP <= 0 {
		c.MaxActivePerVIP = DefaultMaxActivePerVIP
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.CodeAttempts <= 0 || c.CodeAttempts > domain.TicketCodeRangeLen {
		c.CodeAttempts = domain.TicketCodeRangeLen
	}
	return c
}

// Controller admits requesters into queues
type Controller struct {
	customers storage.CustomerDirectory
	tickets   storage.TicketStore
	sequencer storage.Sequencer
	catalog   *catalog.Catalog
	clock     clockwork.Clock
	config    Config
	logger    *slog.Logger
}

// NewController creates a new admission controller
func NewController(
	customers storage.CustomerDirectory,
	tickets storage.TicketStore,
	sequencer storage.Sequencer,
	cat *catalog.Catalog,
	clk clockwork.Clock,
	config Config,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		customers: customers,
		tickets:   tickets,
		sequencer: sequencer,
		catalog:   cat,
		clock:     clk,
		config:    config.withDefaults(),
		logger:    logger,
	}
}

// Admit creates a PENDING ticket for the customer identified by nationalID
func (c *Controller) Admit(ctx context.Context, nationalID string, queueType string) (domain.Ticket, error) {
	id, err := domain.NormalizeNationalID(nationalID)
	if err != nil {
		return domain.Ticket{}, err
	}
	qt, err := domain.ParseQueueType(queueType)
	if err != nil {
		return domain.Ticket{}, err
	}

	customer, err := c.customers.FindByNationalID(ctx, id)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("failed to resolve customer: %w", err)
	}

	queue, err := c.catalog.Get(qt)
	if err != nil {
		return domain.Ticket{}, err
	}

	maxActive := c.config.MaxActivePerCustomer
	if customer.VIP {
		maxActive = c.config.MaxActivePerVIP
	}

	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		ticket, err := c.tryAdmit(ctx, customer, queue, maxActive)
		if err == nil {
			c.logger.Info("Ticket admitted",
				slog.String("ticket_id", ticket.ID),
				slog.String("code", ticket.Code),
				slog.String("queue_type", string(ticket.QueueType)),
				slog.Int("position", ticket.PositionValue()),
			)
			return ticket, nil
		}
		if !errors.Is(err, domain.ErrStaleWrite) {
			return domain.Ticket{}, err
		}

		c.logger.Debug("Admission raced, retrying",
			slog.String("queue_type", string(queue.Type)),
			slog.Int("attempt", attempt),
		)
	}

	return domain.Ticket{}, fmt.Errorf("admission into %s kept racing after %d attempts: %w",
		queue.Type, c.config.MaxRetries, domain.ErrStaleWrite)
}

func (c *Controller) tryAdmit(ctx context.Context, customer domain.Customer, queue domain.Queue, maxActive int) (domain.Ticket, error) {
	snapshot, err := c.tickets.QueueSnapshot(ctx, queue.Type)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("failed to read queue state: %w", err)
	}
	if snapshot.PendingCount >= queue.Capacity {
		return domain.Ticket{}, fmt.Errorf("%w: %s has %d of %d pending",
			domain.ErrQueueFull, queue.Type, snapshot.PendingCount, queue.Capacity)
	}

	active, err := c.tickets.CountActiveByCustomer(ctx, customer.ID)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("failed to count active tickets: %w", err)
	}
	if active >= maxActive {
		return domain.Ticket{}, fmt.Errorf("%w: customer holds %d of %d",
			domain.ErrActiveTicketLimit, active, maxActive)
	}

	guard := storage.AdmissionGuard{
		Snapshot:       snapshot,
		Capacity:       queue.Capacity,
		CustomerActive: active,
		MaxActive:      maxActive,
	}

	now := c.clock.Now()
	pos := snapshot.MaxPosition + 1
	eta := queue.EstimateMinutes(pos)
	ticket := domain.Ticket{
		ID:         uuid.NewString(),
		CustomerID: customer.ID,
		QueueType:  queue.Type,
		Status:     domain.TicketStatusPending,
		Position:   &pos,
		ETAMinutes: &eta,
		Target:     customer.PreferredTarget(),
		CreatedAt:  now,
		ExpiresAt:  now.Add(queue.Window()),
		UpdatedAt:  now,
		Version:    1,
	}

	for i := 0; i < c.config.CodeAttempts; i++ {
		seq, err := c.sequencer.NextTicketSequence(ctx)
		if err != nil {
			return domain.Ticket{}, fmt.Errorf("failed to draw ticket code: %w", err)
		}
		ticket.Code = domain.TicketCodeFromSequence(seq)

		err = c.tickets.CreateTicket(ctx, ticket, guard)
		if err == nil {
			return ticket, nil
		}
		if !errors.Is(err, domain.ErrDuplicateCode) {
			return domain.Ticket{}, err
		}
	}

	c.logger.Error("Ticket code space exhausted",
		slog.String("queue_type", string(queue.Type)),
		slog.Int("attempts", c.config.CodeAttempts),
	)
	return domain.Ticket{}, domain.ErrCodeSpaceExhausted
}
