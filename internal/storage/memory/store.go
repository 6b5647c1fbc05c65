// Package memory is an in-process Store. A single mutex serializes writes so
// guarded inserts and changesets are atomic.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/ticketero/internal/domain"
	"github.com/cuongbtq/ticketero/internal/storage"
)

// Store implements storage.Store in memory
type Store struct {
	mu       sync.RWMutex
	tickets  map[string]domain.Ticket
	workers  map[string]domain.Worker
	jobs     map[string]domain.NotificationJob
	sequence int64
}

var _ storage.Store = (*Store)(nil)

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		tickets: make(map[string]domain.Ticket),
		workers: make(map[string]domain.Worker),
		jobs:    make(map[string]domain.NotificationJob),
	}
}

func (s *Store) NextTicketSequence(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence++
	return s.sequence, nil
}

func (s *Store) CreateTicket(ctx context.Context, t domain.Ticket, guard storage.AdmissionGuard) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tickets[t.ID]; exists {
		return fmt.Errorf("ticket %s already exists: %w", t.ID, domain.ErrStaleWrite)
	}

	snapshot := s.snapshotLocked(t.QueueType)
	if snapshot != guard.Snapshot {
		return domain.ErrStaleWrite
	}
	if guard.Capacity > 0 && snapshot.PendingCount >= guard.Capacity {
		return domain.ErrQueueFull
	}
	if guard.MaxActive > 0 {
		active := s.activeByCustomerLocked(t.CustomerID)
		if active != guard.CustomerActive {
			return domain.ErrStaleWrite
		}
		if active >= guard.MaxActive {
			return domain.ErrActiveTicketLimit
		}
	}
	for _, existing := range s.tickets {
		if existing.Code == t.Code && existing.IsActive() {
			return domain.ErrDuplicateCode
		}
	}

	s.tickets[t.ID] = t
	return nil
}

func (s *Store) GetTicket(ctx context.Context, id string) (domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return domain.Ticket{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[id]
	if !ok {
		return domain.Ticket{}, domain.ErrTicketNotFound
	}
	return t, nil
}

func (s *Store) GetTicketByCode(ctx context.Context, code string) (domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return domain.Ticket{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		found domain.Ticket
		ok    bool
	)
	for _, t := range s.tickets {
		if t.Code != code {
			continue
		}
		if t.IsActive() {
			return t, nil
		}
		if !ok || t.CreatedAt.After(found.CreatedAt) {
			found, ok = t, true
		}
	}
	if !ok {
		return domain.Ticket{}, domain.ErrTicketNotFound
	}
	return found, nil
}

func (s *Store) ListTickets(ctx context.Context, filter storage.TicketFilter) ([]domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.Ticket, 0)
	for _, t := range s.tickets {
		if filter.Matches(t) {
			out = append(out, t)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) QueueSnapshot(ctx context.Context, queueType domain.QueueType) (storage.QueueSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return storage.QueueSnapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(queueType), nil
}

func (s *Store) CountActiveByCustomer(ctx context.Context, customerID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeByCustomerLocked(customerID), nil
}

func (s *Store) SaveWorker(ctx context.Context, w domain.Worker) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.ID == "" {
		return domain.NewValidationError("worker_id", "must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[w.ID] = cloneWorker(w)
	return nil
}

func (s *Store) GetWorker(ctx context.Context, id string) (domain.Worker, error) {
	if err := ctx.Err(); err != nil {
		return domain.Worker{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.workers[id]
	if !ok {
		return domain.Worker{}, domain.ErrWorkerNotFound
	}
	return cloneWorker(w), nil
}

func (s *Store) ListWorkers(ctx context.Context, filter storage.WorkerFilter) ([]domain.Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		if filter.Matches(w) {
			out = append(out, cloneWorker(w))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (domain.NotificationJob, error) {
	if err := ctx.Err(); err != nil {
		return domain.NotificationJob{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return domain.NotificationJob{}, domain.ErrJobNotFound
	}
	return j, nil
}

func (s *Store) ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.NotificationJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.NotificationJob, 0)
	for _, j := range s.jobs {
		if filter.Matches(j) {
			out = append(out, j)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) DueJobs(ctx context.Context, now time.Time, limit int) ([]domain.NotificationJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.NotificationJob, 0)
	for _, j := range s.jobs {
		if j.IsDue(now) {
			out = append(out, j)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Template.Urgency() != b.Template.Urgency() {
			return a.Template.Urgency() < b.Template.Urgency()
		}
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.Before(b.ScheduledAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Apply checks every CAS condition first and only then writes
func (s *Store) Apply(ctx context.Context, cs storage.Changeset) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range cs.Tickets {
		cur, ok := s.tickets[u.Ticket.ID]
		if !ok {
			return domain.ErrTicketNotFound
		}
		if cur.Status != u.ExpectedStatus || cur.Version != u.ExpectedVersion {
			return fmt.Errorf("ticket %s: %w", u.Ticket.ID, domain.ErrStaleWrite)
		}
	}
	for _, u := range cs.Workers {
		cur, ok := s.workers[u.Worker.ID]
		if !ok {
			return domain.ErrWorkerNotFound
		}
		if cur.Status != u.ExpectedStatus || cur.Version != u.ExpectedVersion {
			return fmt.Errorf("worker %s: %w", u.Worker.ID, domain.ErrStaleWrite)
		}
	}
	for _, u := range cs.Jobs {
		cur, ok := s.jobs[u.Job.ID]
		if !ok {
			return domain.ErrJobNotFound
		}
		if cur.Status != u.ExpectedStatus || cur.Attempts != u.ExpectedAttempts {
			return fmt.Errorf("job %s: %w", u.Job.ID, domain.ErrStaleWrite)
		}
	}
	for _, j := range cs.NewJobs {
		if _, exists := s.jobs[j.ID]; exists {
			return fmt.Errorf("job %s already exists: %w", j.ID, domain.ErrStaleWrite)
		}
	}

	for _, u := range cs.Tickets {
		s.tickets[u.Ticket.ID] = u.Ticket
	}
	for _, u := range cs.Workers {
		s.workers[u.Worker.ID] = cloneWorker(u.Worker)
	}
	for _, u := range cs.Jobs {
		s.jobs[u.Job.ID] = u.Job
	}
	for _, j := range cs.NewJobs {
		s.jobs[j.ID] = j
	}
	return nil
}

func (s *Store) snapshotLocked(queueType domain.QueueType) storage.QueueSnapshot {
	var snap storage.QueueSnapshot
	for _, t := range s.tickets {
		if t.QueueType != queueType || t.Status != domain.TicketStatusPending {
			continue
		}
		snap.PendingCount++
		if p := t.PositionValue(); p > snap.MaxPosition {
			snap.MaxPosition = p
		}
	}
	return snap
}

func (s *Store) activeByCustomerLocked(customerID string) int {
	n := 0
	for _, t := range s.tickets {
		if t.CustomerID == customerID && t.IsActive() {
			n++
		}
	}
	return n
}

func cloneWorker(w domain.Worker) domain.Worker {
	w.SupportedQueues = append([]domain.QueueType(nil), w.SupportedQueues...)
	return w
}
