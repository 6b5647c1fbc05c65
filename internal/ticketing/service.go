// Package ticketing is the synchronous entry point of the engine: admission,
// status queries, operator overrides and read access to queues and workers.
package ticketing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/cuongbtq/ticketero/internal/catalog"
	"github.com/cuongbtq/ticketero/internal/domain"
	"github.com/cuongbtq/ticketero/internal/position"
	"github.com/cuongbtq/ticketero/internal/scheduler"
	"github.com/cuongbtq/ticketero/internal/storage"
)

// OperatorCancelReason is recorded when an operator cancels without a reason
const OperatorCancelReason = "operator"

// Admitter creates tickets
type Admitter interface {
	Admit(ctx context.Context, nationalID string, queueType string) (domain.Ticket, error)
}

// Enqueuer schedules notification jobs
type Enqueuer interface {
	Enqueue(ctx context.Context, ticket domain.Ticket, tmpl domain.Template) (domain.NotificationJob, error)
}

// Status is a ticket with its live queue position. Position and ETAMinutes
// are nil once the ticket left PENDING.
type Status struct {
	Ticket     domain.Ticket
	Position   *int
	ETAMinutes *int
	QueueSize  int
}

// Service exposes the engine to the API layer
type Service struct {
	admitter Admitter
	store    storage.Store
	outbox   Enqueuer
	catalog  *catalog.Catalog
	clock    clockwork.Clock
	logger   *slog.Logger
}

// NewService creates a new ticketing service
func NewService(
	admitter Admitter,
	store storage.Store,
	outbox Enqueuer,
	cat *catalog.Catalog,
	clk clockwork.Clock,
	logger *slog.Logger,
) *Service {
	return &Service{
		admitter: admitter,
		store:    store,
		outbox:   outbox,
		catalog:  cat,
		clock:    clk,
		logger:   logger,
	}
}

// Admit creates a ticket and schedules its confirmation. A confirmation that
// cannot be enqueued is logged, the ticket stays admitted.
func (s *Service) Admit(ctx context.Context, nationalID, queueType string) (domain.Ticket, error) {
	ticket, err := s.admitter.Admit(ctx, nationalID, queueType)
	if err != nil {
		return domain.Ticket{}, err
	}

	if !ticket.HasTarget() {
		s.logger.Warn("Ticket has no notification target, skipping confirmation",
			slog.String("ticket_id", ticket.ID),
			slog.String("customer_id", ticket.CustomerID),
		)
		return ticket, nil
	}

	if _, err := s.outbox.Enqueue(ctx, ticket, domain.TemplateConfirmation); err != nil {
		s.logger.Error("Failed to enqueue confirmation",
			slog.String("ticket_id", ticket.ID),
			slog.Any("error", err),
		)
	}
	return ticket, nil
}

// Get returns a ticket by id
func (s *Service) Get(ctx context.Context, id string) (domain.Ticket, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.Ticket{}, domain.NewValidationError("ticket_id", "must be a uuid")
	}
	return s.store.GetTicket(ctx, id)
}

// GetByCode returns the active holder of a code, else its most recent ticket
func (s *Service) GetByCode(ctx context.Context, code string) (domain.Ticket, error) {
	normalized, err := domain.ParseTicketCode(code)
	if err != nil {
		return domain.Ticket{}, err
	}
	return s.store.GetTicketByCode(ctx, normalized)
}

// Status returns the ticket with its position computed from the current
// pending set rather than the stored snapshot
func (s *Service) Status(ctx context.Context, id string) (Status, error) {
	ticket, err := s.Get(ctx, id)
	if err != nil {
		return Status{}, err
	}
	return s.status(ctx, ticket)
}

// StatusByCode is Status addressed by ticket code
func (s *Service) StatusByCode(ctx context.Context, code string) (Status, error) {
	ticket, err := s.GetByCode(ctx, code)
	if err != nil {
		return Status{}, err
	}
	return s.status(ctx, ticket)
}

func (s *Service) status(ctx context.Context, ticket domain.Ticket) (Status, error) {
	st := Status{Ticket: ticket}
	if ticket.Status != domain.TicketStatusPending {
		return st, nil
	}

	pending, err := s.store.ListTickets(ctx, storage.TicketFilter{
		QueueType: ticket.QueueType,
		Statuses:  []domain.TicketStatus{domain.TicketStatusPending},
	})
	if err != nil {
		return Status{}, fmt.Errorf("failed to list pending tickets: %w", err)
	}
	st.QueueSize = len(pending)

	avg := domain.MaxAverageServiceMinutes
	if q, ok := s.catalog.Lookup(ticket.QueueType); ok {
		avg = q.AverageServiceMinutes
	}
	if est, ok := position.EstimateFor(pending, ticket.ID, avg); ok {
		st.Position = &est.Position
		st.ETAMinutes = &est.ETAMinutes
	}
	return st, nil
}

// Call moves a PENDING ticket to CALLED. When workerID is set the worker is
// bound to the ticket and occupied in the same write.
func (s *Service) Call(ctx context.Context, id, workerID string) (domain.Ticket, error) {
	ticket, err := s.Get(ctx, id)
	if err != nil {
		return domain.Ticket{}, err
	}

	now := s.clock.Now()
	next, err := domain.Call(ticket, now)
	if err != nil {
		return domain.Ticket{}, err
	}

	var cs storage.Changeset
	if workerID != "" {
		w, err := s.store.GetWorker(ctx, workerID)
		if err != nil {
			return domain.Ticket{}, err
		}
		if !w.Supports(ticket.QueueType) {
			return domain.Ticket{}, fmt.Errorf("%w: %s does not serve %s", domain.ErrWorkerQueueMismatch, w.ID, ticket.QueueType)
		}
		if !w.CanTake(ticket.QueueType) {
			return domain.Ticket{}, fmt.Errorf("%w: %s is %s", domain.ErrWorkerUnavailable, w.ID, w.Status)
		}
		next = next.WithAssignment(w)
		cs.Workers = append(cs.Workers, storage.UpdateWorker(w, w.Occupy(now)))
	}
	cs.Tickets = append(cs.Tickets, storage.UpdateTicket(ticket, next))
	if next.HasTarget() {
		cs.NewJobs = append(cs.NewJobs, domain.NewNotificationJob(uuid.NewString(), next, domain.TemplateYourTurn, now))
	}

	if err := s.store.Apply(ctx, cs); err != nil {
		return domain.Ticket{}, fmt.Errorf("failed to call ticket: %w", err)
	}
	s.logOverride(domain.ActionCall, next)
	return next, nil
}

// StartProgress moves a CALLED ticket to IN_PROGRESS
func (s *Service) StartProgress(ctx context.Context, id string) (domain.Ticket, error) {
	return s.override(ctx, id, domain.ActionStart, "")
}

// Complete finishes an IN_PROGRESS ticket and frees its worker
func (s *Service) Complete(ctx context.Context, id string) (domain.Ticket, error) {
	return s.override(ctx, id, domain.ActionComplete, "")
}

// Cancel cancels any active ticket and frees its worker
func (s *Service) Cancel(ctx context.Context, id, reason string) (domain.Ticket, error) {
	if reason == "" {
		reason = OperatorCancelReason
	}
	return s.override(ctx, id, domain.ActionCancel, reason)
}

// MarkNoShow closes a CALLED ticket whose requester never showed up
func (s *Service) MarkNoShow(ctx context.Context, id string) (domain.Ticket, error) {
	return s.override(ctx, id, domain.ActionNoShow, "")
}

func (s *Service) override(ctx context.Context, id string, action domain.Action, reason string) (domain.Ticket, error) {
	ticket, err := s.Get(ctx, id)
	if err != nil {
		return domain.Ticket{}, err
	}

	now := s.clock.Now()
	next, err := domain.Apply(ticket, action, now, reason)
	if err != nil {
		return domain.Ticket{}, err
	}

	cs := storage.Changeset{Tickets: []storage.TicketUpdate{storage.UpdateTicket(ticket, next)}}
	if next.Status.IsTerminal() && ticket.WorkerID != "" {
		upd, err := scheduler.ReleaseWorker(ctx, s.store, ticket.WorkerID, now)
		if err != nil {
			return domain.Ticket{}, err
		}
		if upd != nil {
			cs.Workers = append(cs.Workers, *upd)
		}
	}

	if err := s.store.Apply(ctx, cs); err != nil {
		return domain.Ticket{}, fmt.Errorf("failed to %s ticket: %w", action, err)
	}
	s.logOverride(action, next)
	return next, nil
}

func (s *Service) logOverride(action domain.Action, t domain.Ticket) {
	s.logger.Info("Ticket override applied",
		slog.String("action", string(action)),
		slog.String("ticket_id", t.ID),
		slog.String("code", t.Code),
		slog.String("status", string(t.Status)),
		slog.String("worker_id", t.WorkerID),
	)
}

// ListTickets returns tickets matching the filter
func (s *Service) ListTickets(ctx context.Context, filter storage.TicketFilter) ([]domain.Ticket, error) {
	return s.store.ListTickets(ctx, filter)
}

// ListQueues returns every registered queue in priority order
func (s *Service) ListQueues() []domain.Queue {
	return s.catalog.All()
}

// SetQueueActive opens or closes a queue for admission and assignment
func (s *Service) SetQueueActive(queueType string, active bool) (domain.Queue, error) {
	qt, err := domain.ParseQueueType(queueType)
	if err != nil {
		return domain.Queue{}, err
	}
	q, err := s.catalog.SetActive(qt, active)
	if err != nil {
		return domain.Queue{}, err
	}
	s.logger.Info("Queue availability changed",
		slog.String("queue_type", string(q.Type)),
		slog.Bool("active", q.Active),
	)
	return q, nil
}

// ListWorkers returns workers matching the filter
func (s *Service) ListWorkers(ctx context.Context, filter storage.WorkerFilter) ([]domain.Worker, error) {
	return s.store.ListWorkers(ctx, filter)
}

// GetWorker returns a worker by id
func (s *Service) GetWorker(ctx context.Context, id string) (domain.Worker, error) {
	return s.store.GetWorker(ctx, id)
}

// SetWorkerStatus changes a worker's availability. BUSY is owned by the
// scheduler and cannot be set by hand, and a worker still holding a ticket
// cannot be made AVAILABLE.
func (s *Service) SetWorkerStatus(ctx context.Context, id string, status domain.WorkerStatus) (domain.Worker, error) {
	if !status.Valid() {
		return domain.Worker{}, domain.NewValidationError("status", fmt.Sprintf("%q is not a worker status", status))
	}
	if status == domain.WorkerStatusBusy {
		return domain.Worker{}, domain.NewValidationError("status", "BUSY is set by assignment only")
	}

	w, err := s.store.GetWorker(ctx, id)
	if err != nil {
		return domain.Worker{}, err
	}
	if w.Status == status {
		return w, nil
	}
	if status == domain.WorkerStatusAvailable && w.AssignedCount > 0 {
		return domain.Worker{}, fmt.Errorf("%w: %s still holds a ticket", domain.ErrWorkerUnavailable, w.ID)
	}

	next := w.WithStatus(status, s.clock.Now())
	if err := s.store.Apply(ctx, storage.Changeset{
		Workers: []storage.WorkerUpdate{storage.UpdateWorker(w, next)},
	}); err != nil {
		return domain.Worker{}, fmt.Errorf("failed to update worker: %w", err)
	}

	s.logger.Info("Worker status changed",
		slog.String("worker_id", w.ID),
		slog.String("from", string(w.Status)),
		slog.String("to", string(next.Status)),
	)
	return next, nil
}

// ListJobs returns notification jobs matching the filter
func (s *Service) ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.NotificationJob, error) {
	return s.store.ListJobs(ctx, filter)
}
