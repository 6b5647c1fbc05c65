// Package storage defines the persistence contracts of the engine. Every
// mutation of an existing ticket, worker or job is a compare-and-set on the
// values the caller read, and a Changeset is applied all-or-nothing.
package storage

import (
	"context"
	"time"

	"github.com/cuongbtq/ticketero/internal/domain"
)

// CustomerDirectory resolves requesters. The engine never writes customers.
type CustomerDirectory interface {
	FindByNationalID(ctx context.Context, nationalID string) (domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (domain.Customer, error)
}

// Sequencer hands out monotonic ticket sequence values starting at 1
type Sequencer interface {
	NextTicketSequence(ctx context.Context) (int64, error)
}

// TicketFilter selects tickets. Zero fields match everything.
type TicketFilter struct {
	QueueType  domain.QueueType
	CustomerID string
	Statuses   []domain.TicketStatus
	WorkerID   string
	// After restricts to tickets ordered strictly after the cursor
	After *Cursor
	Limit int
}

// Cursor is a keyset position in (created_at, id) order
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Precedes reports whether the cursor sorts strictly before t
func (c Cursor) Precedes(t domain.Ticket) bool {
	if !c.CreatedAt.Equal(t.CreatedAt) {
		return c.CreatedAt.Before(t.CreatedAt)
	}
	return c.ID < t.ID
}

// Matches reports whether t passes the filter
func (f TicketFilter) Matches(t domain.Ticket) bool {
	if f.QueueType != "" && t.QueueType != f.QueueType {
		return false
	}
	if f.CustomerID != "" && t.CustomerID != f.CustomerID {
		return false
	}
	if f.WorkerID != "" && t.WorkerID != f.WorkerID {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, t.Status) {
		return false
	}
	if f.After != nil && !f.After.Precedes(t) {
		return false
	}
	return true
}

// WorkerFilter selects workers. Zero fields match everything.
type WorkerFilter struct {
	Status    domain.WorkerStatus
	QueueType domain.QueueType
}

// Matches reports whether w passes the filter
func (f WorkerFilter) Matches(w domain.Worker) bool {
	if f.Status != "" && w.Status != f.Status {
		return false
	}
	if f.QueueType != "" && !w.Supports(f.QueueType) {
		return false
	}
	return true
}

// JobFilter selects notification jobs. Zero fields match everything.
type JobFilter struct {
	TicketID string
	Statuses []domain.JobStatus
	Limit    int
}

// Matches reports whether j passes the filter
func (f JobFilter) Matches(j domain.NotificationJob) bool {
	if f.TicketID != "" && j.TicketID != f.TicketID {
		return false
	}
	if len(f.Statuses) > 0 {
		for _, s := range f.Statuses {
			if s == j.Status {
				return true
			}
		}
		return false
	}
	return true
}

// QueueSnapshot is the pending state of one queue as seen by admission
type QueueSnapshot struct {
	PendingCount int
	MaxPosition  int
}

// AdmissionGuard carries what admission observed before creating a ticket.
// The store re-checks it atomically with the insert and returns
// domain.ErrStaleWrite when the queue or the customer moved in between.
type AdmissionGuard struct {
	Snapshot       QueueSnapshot
	Capacity       int
	CustomerActive int
	MaxActive      int
}

// TicketUpdate replaces a ticket if it still has the expected status and version
type TicketUpdate struct {
	Ticket          domain.Ticket
	ExpectedStatus  domain.TicketStatus
	ExpectedVersion int64
}

// UpdateTicket builds a CAS update from the value read and the value to write
func UpdateTicket(read, next domain.Ticket) TicketUpdate {
	return TicketUpdate{Ticket: next, ExpectedStatus: read.Status, ExpectedVersion: read.Version}
}

// WorkerUpdate replaces a worker if it still has the expected status and version
type WorkerUpdate struct {
	Worker          domain.Worker
	ExpectedStatus  domain.WorkerStatus
	ExpectedVersion int64
}

// UpdateWorker builds a CAS update from the value read and the value to write
func UpdateWorker(read, next domain.Worker) WorkerUpdate {
	return WorkerUpdate{Worker: next, ExpectedStatus: read.Status, ExpectedVersion: read.Version}
}

// JobUpdate replaces a job if it still has the expected status and attempt count
type JobUpdate struct {
	Job              domain.NotificationJob
	ExpectedStatus   domain.JobStatus
	ExpectedAttempts int
}

// UpdateJob builds a CAS update from the value read and the value to write
func UpdateJob(read, next domain.NotificationJob) JobUpdate {
	return JobUpdate{Job: next, ExpectedStatus: read.Status, ExpectedAttempts: read.Attempts}
}

// Changeset groups writes that must land together. If any CAS check fails
// nothing is written and Apply returns domain.ErrStaleWrite.
type Changeset struct {
	Tickets []TicketUpdate
	Workers []WorkerUpdate
	Jobs    []JobUpdate
	NewJobs []domain.NotificationJob
}

// Empty reports whether the changeset has no writes
func (c Changeset) Empty() bool {
	return len(c.Tickets) == 0 && len(c.Workers) == 0 && len(c.Jobs) == 0 && len(c.NewJobs) == 0
}

// TicketStore persists tickets
type TicketStore interface {
	// CreateTicket inserts a PENDING ticket after re-checking the guard.
	// Returns domain.ErrDuplicateCode when an active ticket holds the code.
	CreateTicket(ctx context.Context, t domain.Ticket, guard AdmissionGuard) error
	GetTicket(ctx context.Context, id string) (domain.Ticket, error)
	// GetTicketByCode prefers the active holder of the code, else the most recent ticket
	GetTicketByCode(ctx context.Context, code string) (domain.Ticket, error)
	// ListTickets returns matches ordered by creation time, then id
	ListTickets(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	QueueSnapshot(ctx context.Context, queueType domain.QueueType) (QueueSnapshot, error)
	CountActiveByCustomer(ctx context.Context, customerID string) (int, error)
}

// WorkerStore persists workers
type WorkerStore interface {
	// SaveWorker inserts or replaces a worker without CAS. Used for seeding.
	SaveWorker(ctx context.Context, w domain.Worker) error
	GetWorker(ctx context.Context, id string) (domain.Worker, error)
	// ListWorkers returns matches ordered by id
	ListWorkers(ctx context.Context, filter WorkerFilter) ([]domain.Worker, error)
}

// JobStore persists notification jobs
type JobStore interface {
	GetJob(ctx context.Context, id string) (domain.NotificationJob, error)
	// ListJobs returns matches ordered by creation time, then id
	ListJobs(ctx context.Context, filter JobFilter) ([]domain.NotificationJob, error)
	// DueJobs returns PENDING jobs scheduled at or before now, ordered by
	// template urgency, then scheduled time, then creation time
	DueJobs(ctx context.Context, now time.Time, limit int) ([]domain.NotificationJob, error)
}

// Store is the full persistence surface used by the engine
type Store interface {
	TicketStore
	WorkerStore
	JobStore
	Sequencer
	Apply(ctx context.Context, cs Changeset) error
}

func containsStatus(list []domain.TicketStatus, s domain.TicketStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
