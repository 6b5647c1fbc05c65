// Package outbox delivers notification jobs with bounded concurrency,
// per-send timeouts and exponential backoff.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/ticketero/internal/catalog"
	"github.com/cuongbtq/ticketero/internal/domain"
	"github.com/cuongbtq/ticketero/internal/position"
	"github.com/cuongbtq/ticketero/internal/storage"
)

// Notifier delivers rendered text to a channel target. Implementations
// classify failures with domain.NewTransientSendError and
// domain.NewPermanentSendError; anything else is treated as transient.
type Notifier interface {
	Send(ctx context.Context, target domain.ChannelTarget, text string) error
}

// Config holds outbox settings
type Config struct {
	BatchSize   int
	Concurrency int
	SendTimeout time.Duration
	MaxAttempts int
	MaxBackoff  time.Duration
	JobExpiry   time.Duration
}

// DefaultConfig returns the stock outbox settings
func DefaultConfig() Config {
	return Config{
		BatchSize:   50,
		Concurrency: 4,
		SendTimeout: 5 * time.Second,
		MaxAttempts: 3,
		MaxBackoff:  time.Hour,
		JobExpiry:   24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.JobExpiry <= 0 {
		c.JobExpiry = d.JobExpiry
	}
	return c
}

// Outbox is the notification job queue
type Outbox struct {
	store    storage.Store
	notifier Notifier
	catalog  *catalog.Catalog
	clock    clockwork.Clock
	config   Config
	logger   *slog.Logger
}

// New creates a new outbox
func New(store storage.Store, notifier Notifier, cat *catalog.Catalog, clk clockwork.Clock, config Config, logger *slog.Logger) *Outbox {
	return &Outbox{
		store:    store,
		notifier: notifier,
		catalog:  cat,
		clock:    clk,
		config:   config.withDefaults(),
		logger:   logger,
	}
}

// Enqueue schedules an immediate job for the ticket
func (o *Outbox) Enqueue(ctx context.Context, ticket domain.Ticket, tmpl domain.Template) (domain.NotificationJob, error) {
	job := domain.NewNotificationJob(uuid.NewString(), ticket, tmpl, o.clock.Now())
	if err := o.store.Apply(ctx, storage.Changeset{NewJobs: []domain.NotificationJob{job}}); err != nil {
		return domain.NotificationJob{}, fmt.Errorf("failed to enqueue %s job: %w", tmpl, err)
	}
	return job, nil
}

// DrainResult counts the outcomes of one drain
type DrainResult struct {
	Sent      int
	Retried   int
	Failed    int
	Cancelled int
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeRetried
	outcomeFailed
	outcomeCancelled
	outcomeSkipped
)

// Drain delivers due jobs in urgency order. It returns once every job
// of the batch has been resolved or abandoned.
func (o *Outbox) Drain(ctx context.Context) (DrainResult, error) {
	due, err := o.store.DueJobs(ctx, o.clock.Now(), o.config.BatchSize)
	if err != nil {
		return DrainResult{}, fmt.Errorf("failed to select due jobs: %w", err)
	}
	if len(due) == 0 {
		return DrainResult{}, nil
	}

	var sent, retried, failed, cancelled atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.Concurrency)

	for _, job := range due {
		job := job
		g.Go(func() error {
			switch o.process(gctx, job) {
			case outcomeSent:
				sent.Add(1)
			case outcomeRetried:
				retried.Add(1)
			case outcomeFailed:
				failed.Add(1)
			case outcomeCancelled:
				cancelled.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	result := DrainResult{
		Sent:      int(sent.Load()),
		Retried:   int(retried.Load()),
		Failed:    int(failed.Load()),
		Cancelled: int(cancelled.Load()),
	}
	o.logger.Debug("Outbox drained",
		slog.Int("due", len(due)),
		slog.Int("sent", result.Sent),
		slog.Int("retried", result.Retried),
		slog.Int("failed", result.Failed),
		slog.Int("cancelled", result.Cancelled),
	)
	return result, ctx.Err()
}

func (o *Outbox) process(ctx context.Context, job domain.NotificationJob) outcome {
	now := o.clock.Now()
	logger := o.logger.With(
		slog.String("job_id", job.ID),
		slog.String("ticket_id", job.TicketID),
		slog.String("template", string(job.Template)),
	)

	if now.Sub(job.CreatedAt) >= o.config.JobExpiry {
		return o.cancel(ctx, logger, job, "expired undelivered", now)
	}

	ticket, err := o.store.GetTicket(ctx, job.TicketID)
	if err != nil {
		if errors.Is(err, domain.ErrTicketNotFound) {
			return o.cancel(ctx, logger, job, "ticket not found", now)
		}
		logger.Error("Failed to load ticket for job", slog.Any("error", err))
		return outcomeSkipped
	}
	if !job.Template.RelevantFor(ticket.Status) {
		return o.cancel(ctx, logger, job, "ticket is "+string(ticket.Status), now)
	}

	target := job.Target
	if !target.Usable() {
		target = ticket.Target
	}

	var sendErr error
	if !target.Usable() {
		sendErr = domain.NewPermanentSendError(errors.New("no usable notification target"))
	} else {
		text, err := o.render(ctx, job.Template, ticket)
		if err != nil {
			sendErr = domain.NewPermanentSendError(err)
		} else {
			sendErr = o.send(ctx, target, text)
		}
	}

	now = o.clock.Now()
	if sendErr == nil {
		return o.record(ctx, logger, job, job.MarkSent(now), outcomeSent)
	}

	next := job.RecordFailure(sendErr, now, o.config.MaxAttempts, o.config.MaxBackoff)
	if next.Status == domain.JobStatusFailed {
		logger.Warn("Notification job failed",
			slog.Int("attempts", next.Attempts),
			slog.Bool("permanent", domain.IsPermanent(sendErr)),
			slog.Any("error", sendErr),
		)
		return o.record(ctx, logger, job, next, outcomeFailed)
	}

	logger.Info("Notification delivery will be retried",
		slog.Int("attempts", next.Attempts),
		slog.Time("scheduled_at", next.ScheduledAt),
		slog.Any("error", sendErr),
	)
	return o.record(ctx, logger, job, next, outcomeRetried)
}

// send runs the notifier under the send timeout. A notifier that ignores
// its context is abandoned once the timeout fires.
func (o *Outbox) send(ctx context.Context, target domain.ChannelTarget, text string) error {
	sendCtx, cancel := context.WithTimeout(ctx, o.config.SendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- o.notifier.Send(sendCtx, target, text)
	}()

	select {
	case err := <-done:
		return err
	case <-sendCtx.Done():
		return domain.NewTransientSendError(fmt.Errorf("send abandoned after %s: %w", o.config.SendTimeout, sendCtx.Err()))
	}
}

func (o *Outbox) render(ctx context.Context, tmpl domain.Template, ticket domain.Ticket) (string, error) {
	data := MessageData{
		Code:       ticket.Code,
		Queue:      string(ticket.QueueType),
		Position:   ticket.PositionValue(),
		ETAMinutes: ticket.ETAValue(),
		Station:    ticket.Station,
	}

	if ticket.Status == domain.TicketStatusPending {
		pending, err := o.store.ListTickets(ctx, storage.TicketFilter{
			QueueType: ticket.QueueType,
			Statuses:  []domain.TicketStatus{domain.TicketStatusPending},
		})
		if err != nil {
			return "", fmt.Errorf("failed to read live position: %w", err)
		}
		avg := 0
		if q, ok := o.catalog.Lookup(ticket.QueueType); ok {
			avg = q.AverageServiceMinutes
		}
		if est, ok := position.EstimateFor(pending, ticket.ID, avg); ok {
			data.Position = est.Position
			data.ETAMinutes = est.ETAMinutes
		}
	}

	return Render(tmpl, data)
}

func (o *Outbox) cancel(ctx context.Context, logger *slog.Logger, job domain.NotificationJob, reason string, now time.Time) outcome {
	logger.Info("Notification job cancelled", slog.String("reason", reason))
	return o.record(ctx, logger, job, job.Cancel(reason, now), outcomeCancelled)
}

func (o *Outbox) record(ctx context.Context, logger *slog.Logger, read, next domain.NotificationJob, result outcome) outcome {
	if err := o.store.Apply(ctx, storage.Changeset{Jobs: []storage.JobUpdate{storage.UpdateJob(read, next)}}); err != nil {
		if errors.Is(err, domain.ErrStaleWrite) {
			logger.Debug("Job changed during delivery, leaving it to the current owner")
		} else {
			logger.Error("Failed to record job outcome", slog.Any("error", err))
		}
		return outcomeSkipped
	}
	return result
}
