// Package sweeper cancels tickets that outlived their queue's validity window.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/cuongbtq/ticketero/internal/catalog"
	"github.com/cuongbtq/ticketero/internal/domain"
	"github.com/cuongbtq/ticketero/internal/scheduler"
	"github.com/cuongbtq/ticketero/internal/storage"
)

// ExpiredReason is the cancel reason recorded on swept tickets
const ExpiredReason = "expired"

// Config holds sweeper settings
type Config struct {
	// NotifyExpired enqueues an EXPIRED notice for every swept ticket with a target
	NotifyExpired bool
}

type Sweeper struct {
	store   storage.Store
	catalog *catalog.Catalog
	clock   clockwork.Clock
	config  Config
	logger  *slog.Logger
}

func New(store storage.Store, cat *catalog.Catalog, clk clockwork.Clock, config Config, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:   store,
		catalog: cat,
		clock:   clk,
		config:  config,
		logger:  logger,
	}
}

// Sweep cancels every active ticket whose last activity is older than the
// validity window and returns how many were cancelled
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.clock.Now()

	active, err := s.store.ListTickets(ctx, storage.TicketFilter{Statuses: domain.ActiveTicketStatuses})
	if err != nil {
		return 0, fmt.Errorf("failed to list active tickets: %w", err)
	}

	swept := 0
	for _, t := range active {
		if err := ctx.Err(); err != nil {
			return swept, err
		}
		if now.Sub(t.LastActivity()) <= s.window(t.QueueType) {
			continue
		}

		if err := s.expire(ctx, t, now); err != nil {
			if errors.Is(err, domain.ErrStaleWrite) {
				s.logger.Debug("Ticket changed before it could expire",
					slog.String("ticket_id", t.ID),
				)
				continue
			}
			s.logger.Error("Failed to expire ticket",
				slog.String("ticket_id", t.ID),
				slog.Any("error", err),
			)
			continue
		}
		swept++
	}

	if swept > 0 {
		s.logger.Info("Expired tickets swept", slog.Int("count", swept))
	}
	return swept, nil
}

func (s *Sweeper) expire(ctx context.Context, t domain.Ticket, now time.Time) error {
	cancelled, err := domain.Cancel(t, now, ExpiredReason)
	if err != nil {
		return err
	}

	cs := storage.Changeset{Tickets: []storage.TicketUpdate{storage.UpdateTicket(t, cancelled)}}
	if t.WorkerID != "" {
		upd, err := scheduler.ReleaseWorker(ctx, s.store, t.WorkerID, now)
		if err != nil {
			return err
		}
		if upd != nil {
			cs.Workers = append(cs.Workers, *upd)
		}
	}
	if s.config.NotifyExpired && cancelled.HasTarget() {
		cs.NewJobs = append(cs.NewJobs,
			domain.NewNotificationJob(uuid.NewString(), cancelled, domain.TemplateExpired, now))
	}

	if err := s.store.Apply(ctx, cs); err != nil {
		return err
	}

	s.logger.Info("Ticket expired",
		slog.String("ticket_id", t.ID),
		slog.String("code", t.Code),
		slog.String("previous_status", string(t.Status)),
	)
	return nil
}

func (s *Sweeper) window(queueType domain.QueueType) time.Duration {
	if q, ok := s.catalog.Lookup(queueType); ok {
		return q.Window()
	}
	return domain.DefaultValidityWindow
}
