package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/ticketero/internal/domain"
	"github.com/cuongbtq/ticketero/internal/storage"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTicket(id, code string, pos int, created time.Time) domain.Ticket {
	eta := pos * 20
	return domain.Ticket{
		ID:         id,
		Code:       code,
		CustomerID: "c-" + id,
		QueueType:  domain.QueueTypeGeneral,
		Status:     domain.TicketStatusPending,
		Position:   &pos,
		ETAMinutes: &eta,
		CreatedAt:  created,
		Version:    1,
	}
}

func TestStore_CreateTicketGuard(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	first := newTicket("a", "T1000", 1, base)
	require.NoError(t, s.CreateTicket(ctx, first, storage.AdmissionGuard{Capacity: 2}))

	// stale snapshot
	second := newTicket("b", "T1001", 1, base.Add(time.Second))
	err := s.CreateTicket(ctx, second, storage.AdmissionGuard{Capacity: 2})
	assert.True(t, errors.Is(err, domain.ErrStaleWrite))

	snap, err := s.QueueSnapshot(ctx, domain.QueueTypeGeneral)
	require.NoError(t, err)
	assert.Equal(t, storage.QueueSnapshot{PendingCount: 1, MaxPosition: 1}, snap)

	second = newTicket("b", "T1001", 2, base.Add(time.Second))
	require.NoError(t, s.CreateTicket(ctx, second, storage.AdmissionGuard{Snapshot: snap, Capacity: 2}))

	snap, err = s.QueueSnapshot(ctx, domain.QueueTypeGeneral)
	require.NoError(t, err)
	third := newTicket("c", "T1002", 3, base.Add(2*time.Second))
	err = s.CreateTicket(ctx, third, storage.AdmissionGuard{Snapshot: snap, Capacity: 2})
	assert.True(t, errors.Is(err, domain.ErrQueueFull))
	assert.True(t, errors.Is(err, domain.ErrCapacity))
}

func TestStore_CreateTicketDuplicateCode(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.CreateTicket(ctx, newTicket("a", "T1000", 1, base), storage.AdmissionGuard{}))

	snap, _ := s.QueueSnapshot(ctx, domain.QueueTypeGeneral)
	err := s.CreateTicket(ctx, newTicket("b", "T1000", 2, base), storage.AdmissionGuard{Snapshot: snap})
	assert.True(t, errors.Is(err, domain.ErrDuplicateCode))

	// once the holder is terminal the code is free again
	held, err := s.GetTicket(ctx, "a")
	require.NoError(t, err)
	done, err := domain.Cancel(held, base, "test")
	require.NoError(t, err)
	require.NoError(t, s.Apply(ctx, storage.Changeset{Tickets: []storage.TicketUpdate{storage.UpdateTicket(held, done)}}))

	snap, _ = s.QueueSnapshot(ctx, domain.QueueTypeGeneral)
	require.NoError(t, s.CreateTicket(ctx, newTicket("b", "T1000", 1, base.Add(time.Minute)), storage.AdmissionGuard{Snapshot: snap}))

	got, err := s.GetTicketByCode(ctx, "T1000")
	require.NoError(t, err)
	assert.Equal(t, "b", got.ID)
}

func TestStore_CustomerLimitGuard(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	ticket := newTicket("a", "T1000", 1, base)
	require.NoError(t, s.CreateTicket(ctx, ticket, storage.AdmissionGuard{MaxActive: 1}))

	n, err := s.CountActiveByCustomer(ctx, ticket.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again := newTicket("b", "T1001", 2, base)
	again.CustomerID = ticket.CustomerID
	snap, _ := s.QueueSnapshot(ctx, domain.QueueTypeGeneral)
	err = s.CreateTicket(ctx, again, storage.AdmissionGuard{Snapshot: snap, MaxActive: 1, CustomerActive: 1})
	assert.True(t, errors.Is(err, domain.ErrActiveTicketLimit))

	err = s.CreateTicket(ctx, again, storage.AdmissionGuard{Snapshot: snap, MaxActive: 1, CustomerActive: 0})
	assert.True(t, errors.Is(err, domain.ErrStaleWrite))
}

func TestStore_ApplyAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	ticket := newTicket("a", "T1000", 1, base)
	require.NoError(t, s.CreateTicket(ctx, ticket, storage.AdmissionGuard{}))
	worker := domain.Worker{ID: "w1", Status: domain.WorkerStatusAvailable, SupportedQueues: []domain.QueueType{domain.QueueTypeGeneral}}
	require.NoError(t, s.SaveWorker(ctx, worker))

	called, err := domain.Call(ticket, base)
	require.NoError(t, err)
	busy := worker.Occupy(base)

	staleWorker := worker
	staleWorker.Version = 99
	job := domain.NewNotificationJob("j1", called, domain.TemplateYourTurn, base)

	err = s.Apply(ctx, storage.Changeset{
		Tickets: []storage.TicketUpdate{storage.UpdateTicket(ticket, called)},
		Workers: []storage.WorkerUpdate{storage.UpdateWorker(staleWorker, busy)},
		NewJobs: []domain.NotificationJob{job},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStaleWrite))

	got, err := s.GetTicket(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusPending, got.Status)
	_, err = s.GetJob(ctx, "j1")
	assert.True(t, errors.Is(err, domain.ErrJobNotFound))

	err = s.Apply(ctx, storage.Changeset{
		Tickets: []storage.TicketUpdate{storage.UpdateTicket(ticket, called)},
		Workers: []storage.WorkerUpdate{storage.UpdateWorker(worker, busy)},
		NewJobs: []domain.NotificationJob{job},
	})
	require.NoError(t, err)

	got, _ = s.GetTicket(ctx, "a")
	assert.Equal(t, domain.TicketStatusCalled, got.Status)
	w, _ := s.GetWorker(ctx, "w1")
	assert.Equal(t, domain.WorkerStatusBusy, w.Status)
	_, err = s.GetJob(ctx, "j1")
	assert.NoError(t, err)
}

func TestStore_DueJobsOrder(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	ticket := newTicket("a", "T1000", 1, base)

	jobs := []domain.NotificationJob{
		domain.NewNotificationJob("expired", ticket, domain.TemplateExpired, base),
		domain.NewNotificationJob("confirm-late", ticket, domain.TemplateConfirmation, base.Add(time.Minute)),
		domain.NewNotificationJob("confirm", ticket, domain.TemplateConfirmation, base),
		domain.NewNotificationJob("turn", ticket, domain.TemplateYourTurn, base.Add(2*time.Minute)),
		domain.NewNotificationJob("future", ticket, domain.TemplateYourTurn, base.Add(time.Hour)),
	}
	sent := domain.NewNotificationJob("sent", ticket, domain.TemplateYourTurn, base).MarkSent(base)
	jobs = append(jobs, sent)
	require.NoError(t, s.Apply(ctx, storage.Changeset{NewJobs: jobs}))

	due, err := s.DueJobs(ctx, base.Add(5*time.Minute), 0)
	require.NoError(t, err)

	ids := make([]string, 0, len(due))
	for _, j := range due {
		ids = append(ids, j.ID)
	}
	assert.Equal(t, []string{"turn", "confirm", "confirm-late", "expired"}, ids)

	limited, err := s.DueJobs(ctx, base.Add(5*time.Minute), 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestStore_ConcurrentCAS(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	ticket := newTicket("a", "T1000", 1, base)
	require.NoError(t, s.CreateTicket(ctx, ticket, storage.AdmissionGuard{}))

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next, err := domain.Cancel(ticket, base, fmt.Sprintf("worker-%d", i))
			if err != nil {
				return
			}
			if s.Apply(ctx, storage.Changeset{Tickets: []storage.TicketUpdate{storage.UpdateTicket(ticket, next)}}) == nil {
				winners.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestStore_Sequence(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	for want := int64(1); want <= 3; want++ {
		got, err := s.NextTicketSequence(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err := s.NextTicketSequence(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCustomers(t *testing.T) {
	ctx := context.Background()
	c := NewCustomers(domain.Customer{ID: "c1", NationalID: "12.345.678-9", FirstName: "Ana"})

	got, err := c.FindByNationalID(ctx, "123456789")
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.FirstName)

	_, err = c.FindByNationalID(ctx, "99999999")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	got, err = c.GetCustomer(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "123456789", got.NationalID)
}

func TestStore_ListTicketsAfterCursor(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	for i := 0; i < 4; i++ {
		tk := newTicket(fmt.Sprintf("t%d", i), fmt.Sprintf("T%d", 1000+i), i+1, base.Add(time.Duration(i/2)*time.Minute))
		guard := storage.AdmissionGuard{
			Snapshot: storage.QueueSnapshot{PendingCount: i, MaxPosition: i},
			Capacity: 10,
		}
		require.NoError(t, s.CreateTicket(ctx, tk, guard))
	}

	page, err := s.ListTickets(ctx, storage.TicketFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, []string{"t0", "t1"}, []string{page[0].ID, page[1].ID})

	last := page[1]
	page, err = s.ListTickets(ctx, storage.TicketFilter{
		After: &storage.Cursor{CreatedAt: last.CreatedAt, ID: last.ID},
		Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, []string{"t2", "t3"}, []string{page[0].ID, page[1].ID})

	page, err = s.ListTickets(ctx, storage.TicketFilter{
		After: &storage.Cursor{CreatedAt: page[1].CreatedAt, ID: page[1].ID},
	})
	require.NoError(t, err)
	assert.Empty(t, page)
}
