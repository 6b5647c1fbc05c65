// Package scheduler matches pending tickets to available workers and
// completes tickets whose service time has elapsed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/cuongbtq/ticketero/internal/catalog"
	"github.com/cuongbtq/ticketero/internal/domain"
	"github.com/cuongbtq/ticketero/internal/position"
	"github.com/cuongbtq/ticketero/internal/storage"
)

// Config holds the scheduler settings
type Config struct {
	// AssignmentGrace is how long a ticket waits before it can be assigned
	AssignmentGrace time.Duration
	// ProximityWindow is how many tickets at the head of a queue are told
	// their turn is close. Zero disables proximity notices.
	ProximityWindow int
	// ServiceDuration overrides the queue's average service time when positive
	ServiceDuration time.Duration
}

// DefaultConfig returns the stock scheduler settings
func DefaultConfig() Config {
	return Config{
		AssignmentGrace: 10 * time.Second,
		ProximityWindow: 2,
	}
}

// Scheduler runs assignment and completion passes. Every write is
// a CAS changeset, so overlapping passes never double-assign.
type Scheduler struct {
	store   storage.Store
	catalog *catalog.Catalog
	clock   clockwork.Clock
	config  Config
	logger  *slog.Logger
}

// New creates a new scheduler
func New(store storage.Store, cat *catalog.Catalog, clk clockwork.Clock, config Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:   store,
		catalog: cat,
		clock:   clk,
		config:  config,
		logger:  logger,
	}
}

// TickResult summarizes one assignment pass
type TickResult struct {
	Assigned int
	Notified int
}

// Tick makes at most one assignment per active queue, in priority order,
// then sends proximity notices. Per-queue errors are logged and do not
// stop the pass.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	var result TickResult

	for _, queue := range s.catalog.Active() {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		assigned, err := s.assignQueue(ctx, queue)
		switch {
		case err == nil:
			if assigned {
				result.Assigned++
			}
		case errors.Is(err, domain.ErrStaleWrite):
			s.logger.Debug("Assignment lost a race, skipping",
				slog.String("queue_type", string(queue.Type)),
			)
		default:
			s.logger.Error("Failed to assign queue",
				slog.String("queue_type", string(queue.Type)),
				slog.Any("error", err),
			)
		}

		notified, err := s.notifyProximity(ctx, queue)
		result.Notified += notified
		if err != nil {
			s.logger.Error("Failed to send proximity notices",
				slog.String("queue_type", string(queue.Type)),
				slog.Any("error", err),
			)
		}
	}

	return result, nil
}

func (s *Scheduler) assignQueue(ctx context.Context, queue domain.Queue) (bool, error) {
	now := s.clock.Now()

	pending, err := s.store.ListTickets(ctx, storage.TicketFilter{
		QueueType: queue.Type,
		Statuses:  []domain.TicketStatus{domain.TicketStatusPending},
	})
	if err != nil {
		return false, fmt.Errorf("failed to list pending tickets: %w", err)
	}

	ticket, ok := s.nextEligible(position.Order(pending), now)
	if !ok {
		return false, nil
	}

	worker, ok, err := s.pickWorker(ctx, queue.Type)
	if err != nil || !ok {
		return false, err
	}

	called, err := domain.Call(ticket, now)
	if err != nil {
		return false, err
	}
	serving, err := domain.StartProgress(called, now)
	if err != nil {
		return false, err
	}
	serving = serving.WithAssignment(worker)

	cs := storage.Changeset{
		Tickets: []storage.TicketUpdate{storage.UpdateTicket(ticket, serving)},
		Workers: []storage.WorkerUpdate{storage.UpdateWorker(worker, worker.Occupy(now))},
		NewJobs: []domain.NotificationJob{
			domain.NewNotificationJob(uuid.NewString(), serving, domain.TemplateYourTurn, now),
		},
	}
	if err := s.store.Apply(ctx, cs); err != nil {
		return false, err
	}

	s.logger.Info("Ticket assigned",
		slog.String("ticket_id", ticket.ID),
		slog.String("code", ticket.Code),
		slog.String("queue_type", string(queue.Type)),
		slog.String("worker_id", worker.ID),
		slog.String("station", worker.Station),
	)
	return true, nil
}

// nextEligible returns the oldest ticket past the grace period that can be notified
func (s *Scheduler) nextEligible(ordered []domain.Ticket, now time.Time) (domain.Ticket, bool) {
	for _, t := range ordered {
		if now.Sub(t.CreatedAt) < s.config.AssignmentGrace {
			// ordered by creation, nothing later is old enough either
			return domain.Ticket{}, false
		}
		if t.HasTarget() {
			return t, true
		}
	}
	return domain.Ticket{}, false
}

// pickWorker returns the least recently assigned free worker, ties by id
func (s *Scheduler) pickWorker(ctx context.Context, queueType domain.QueueType) (domain.Worker, bool, error) {
	workers, err := s.store.ListWorkers(ctx, storage.WorkerFilter{
		Status:    domain.WorkerStatusAvailable,
		QueueType: queueType,
	})
	if err != nil {
		return domain.Worker{}, false, fmt.Errorf("failed to list workers: %w", err)
	}

	free := workers[:0]
	for _, w := range workers {
		if w.CanTake(queueType) {
			free = append(free, w)
		}
	}
	if len(free) == 0 {
		return domain.Worker{}, false, nil
	}

	sort.Slice(free, func(i, j int) bool {
		a, b := free[i].LastAssignedAt, free[j].LastAssignedAt
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return free[i].ID < free[j].ID
	})
	return free[0], true, nil
}

func (s *Scheduler) notifyProximity(ctx context.Context, queue domain.Queue) (int, error) {
	if s.config.ProximityWindow <= 0 {
		return 0, nil
	}
	now := s.clock.Now()

	pending, err := s.store.ListTickets(ctx, storage.TicketFilter{
		QueueType: queue.Type,
		Statuses:  []domain.TicketStatus{domain.TicketStatusPending},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list pending tickets: %w", err)
	}

	notified, seen := 0, 0
	for _, t := range position.Order(pending) {
		if seen >= s.config.ProximityWindow {
			break
		}
		if now.Sub(t.CreatedAt) < s.config.AssignmentGrace {
			break
		}
		if !t.HasTarget() {
			continue
		}
		seen++
		if t.ProximityNotified {
			continue
		}

		next := t.WithProximityNotified(now)
		cs := storage.Changeset{
			Tickets: []storage.TicketUpdate{storage.UpdateTicket(t, next)},
			NewJobs: []domain.NotificationJob{
				domain.NewNotificationJob(uuid.NewString(), next, domain.TemplateProximity, now),
			},
		}
		if err := s.store.Apply(ctx, cs); err != nil {
			if errors.Is(err, domain.ErrStaleWrite) {
				continue
			}
			return notified, err
		}
		notified++
	}
	return notified, nil
}

// CompleteDue completes IN_PROGRESS tickets whose service time has elapsed
// and frees their workers
func (s *Scheduler) CompleteDue(ctx context.Context) (int, error) {
	now := s.clock.Now()

	serving, err := s.store.ListTickets(ctx, storage.TicketFilter{
		Statuses: []domain.TicketStatus{domain.TicketStatusInProgress},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list tickets in progress: %w", err)
	}

	completed := 0
	for _, t := range serving {
		if err := ctx.Err(); err != nil {
			return completed, err
		}
		if t.StartedAt == nil || t.StartedAt.Add(s.serviceDuration(t.QueueType)).After(now) {
			continue
		}

		if err := s.complete(ctx, t, now); err != nil {
			if errors.Is(err, domain.ErrStaleWrite) {
				continue
			}
			s.logger.Error("Failed to complete ticket",
				slog.String("ticket_id", t.ID),
				slog.Any("error", err),
			)
			continue
		}
		completed++
	}
	return completed, nil
}

func (s *Scheduler) complete(ctx context.Context, t domain.Ticket, now time.Time) error {
	done, err := domain.Complete(t, now)
	if err != nil {
		return err
	}

	cs := storage.Changeset{Tickets: []storage.TicketUpdate{storage.UpdateTicket(t, done)}}
	if t.WorkerID != "" {
		upd, err := ReleaseWorker(ctx, s.store, t.WorkerID, now)
		if err != nil {
			return err
		}
		if upd != nil {
			cs.Workers = append(cs.Workers, *upd)
		}
	}

	if err := s.store.Apply(ctx, cs); err != nil {
		return err
	}

	s.logger.Info("Ticket completed",
		slog.String("ticket_id", t.ID),
		slog.String("code", t.Code),
		slog.String("worker_id", t.WorkerID),
	)
	return nil
}

func (s *Scheduler) serviceDuration(queueType domain.QueueType) time.Duration {
	if s.config.ServiceDuration > 0 {
		return s.config.ServiceDuration
	}
	q, ok := s.catalog.Lookup(queueType)
	if !ok {
		return time.Duration(domain.MaxAverageServiceMinutes) * time.Minute
	}
	return time.Duration(q.AverageServiceMinutes) * time.Minute
}

// ReleaseWorker builds the CAS update returning a worker's slot. A worker
// that no longer exists yields nil so the ticket can still be closed.
func ReleaseWorker(ctx context.Context, workers storage.WorkerStore, workerID string, now time.Time) (*storage.WorkerUpdate, error) {
	w, err := workers.GetWorker(ctx, workerID)
	if err != nil {
		if errors.Is(err, domain.ErrWorkerNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load worker: %w", err)
	}
	upd := storage.UpdateWorker(w, w.Release(now))
	return &upd, nil
}
