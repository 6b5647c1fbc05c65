package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/ticketero/internal/catalog"
	"github.com/cuongbtq/ticketero/internal/domain"
	"github.com/cuongbtq/ticketero/internal/storage"
	"github.com/cuongbtq/ticketero/internal/storage/memory"
)

var start = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type sent struct {
	target domain.ChannelTarget
	text   string
}

type fakeNotifier struct {
	mu       sync.Mutex
	calls    []sent
	err      func(n int) error
	block    chan struct{}
	inflight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (n *fakeNotifier) Send(ctx context.Context, target domain.ChannelTarget, text string) error {
	cur := n.inflight.Add(1)
	defer n.inflight.Add(-1)
	for {
		peak := n.peak.Load()
		if cur <= peak || n.peak.CompareAndSwap(peak, cur) {
			break
		}
	}

	n.mu.Lock()
	n.calls = append(n.calls, sent{target: target, text: text})
	count := len(n.calls)
	n.mu.Unlock()

	if n.block != nil {
		// ignores ctx on purpose
		<-n.block
	}
	if n.delay > 0 {
		time.Sleep(n.delay)
	}
	if n.err != nil {
		return n.err(count)
	}
	return nil
}

func (n *fakeNotifier) texts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.calls))
	for _, c := range n.calls {
		out = append(out, c.text)
	}
	return out
}

type fixture struct {
	outbox   *Outbox
	store    *memory.Store
	clock    *clockwork.FakeClock
	notifier *fakeNotifier
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.NewStore(),
		clock:    clockwork.NewFakeClockAt(start),
		notifier: &fakeNotifier{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.outbox = New(f.store, f.notifier, catalog.Default(), f.clock, cfg, logger)
	return f
}

func (f *fixture) addTicket(t *testing.T, id string, status domain.TicketStatus) domain.Ticket {
	t.Helper()
	snap, err := f.store.QueueSnapshot(context.Background(), domain.QueueTypeGeneral)
	require.NoError(t, err)

	pos := snap.MaxPosition + 1
	ticket := domain.Ticket{
		ID:         id,
		Code:       "T" + id,
		CustomerID: "c-" + id,
		QueueType:  domain.QueueTypeGeneral,
		Status:     domain.TicketStatusPending,
		Position:   &pos,
		Target:     domain.ChannelTarget{Channel: domain.ChannelTelegram, Address: "chat-" + id},
		CreatedAt:  f.clock.Now(),
		Version:    1,
	}
	require.NoError(t, f.store.CreateTicket(context.Background(), ticket, storage.AdmissionGuard{Snapshot: snap}))

	if status != domain.TicketStatusPending {
		next := ticket
		next.Status = status
		next.Position = nil
		next.Station = "desk-3"
		next.Version++
		require.NoError(t, f.store.Apply(context.Background(), storage.Changeset{
			Tickets: []storage.TicketUpdate{storage.UpdateTicket(ticket, next)},
		}))
		ticket = next
	}
	return ticket
}

func (f *fixture) job(t *testing.T, id string) domain.NotificationJob {
	t.Helper()
	j, err := f.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return j
}

func (f *fixture) enqueue(t *testing.T, ticket domain.Ticket, tmpl domain.Template) domain.NotificationJob {
	t.Helper()
	j, err := f.outbox.Enqueue(context.Background(), ticket, tmpl)
	require.NoError(t, err)
	return j
}

func TestDrain_Sent(t *testing.T) {
	f := newFixture(t, Config{})
	ticket := f.addTicket(t, "1", domain.TicketStatusInProgress)
	job := f.enqueue(t, ticket, domain.TemplateYourTurn)

	res, err := f.outbox.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Sent: 1}, res)

	got := f.job(t, job.ID)
	assert.Equal(t, domain.JobStatusSent, got.Status)
	require.NotNil(t, got.SentAt)
	assert.Equal(t, 0, got.Attempts)

	texts := f.notifier.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "T1: it is your turn")
	assert.Contains(t, texts[0], "desk-3")

	// sent jobs are never selected again
	res, err = f.outbox.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainResult{}, res)
}

func TestDrain_TransientFailuresExhaustRetries(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 3, MaxBackoff: time.Hour})
	f.notifier.err = func(int) error { return domain.NewTransientSendError(errors.New("gateway timeout")) }
	ticket := f.addTicket(t, "1", domain.TicketStatusInProgress)
	job := f.enqueue(t, ticket, domain.TemplateYourTurn)
	ctx := context.Background()

	res, err := f.outbox.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)
	got := f.job(t, job.ID)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, start.Add(2*time.Minute), got.ScheduledAt)
	assert.Contains(t, got.LastError, "gateway timeout")

	// not due yet
	f.clock.Advance(time.Minute)
	res, err = f.outbox.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{}, res)

	f.clock.Advance(time.Minute)
	_, err = f.outbox.Drain(ctx)
	require.NoError(t, err)
	got = f.job(t, job.ID)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, f.clock.Now().Add(4*time.Minute), got.ScheduledAt)

	f.clock.Advance(4 * time.Minute)
	res, err = f.outbox.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	final := f.job(t, job.ID)
	assert.Equal(t, domain.JobStatusFailed, final.Status)
	assert.Equal(t, 3, final.Attempts)
	assert.Equal(t, got.ScheduledAt, final.ScheduledAt)

	f.clock.Advance(24 * time.Hour)
	res, err = f.outbox.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{}, res)
	assert.Len(t, f.notifier.texts(), 3)
}

func TestDrain_PermanentFailure(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 3})
	f.notifier.err = func(int) error { return domain.NewPermanentSendError(errors.New("chat not found")) }
	ticket := f.addTicket(t, "1", domain.TicketStatusInProgress)
	job := f.enqueue(t, ticket, domain.TemplateYourTurn)

	res, err := f.outbox.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	got := f.job(t, job.ID)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, start, got.ScheduledAt)
}

func TestDrain_UnclassifiedErrorIsTransient(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 3})
	f.notifier.err = func(int) error { return errors.New("boom") }
	ticket := f.addTicket(t, "1", domain.TicketStatusInProgress)
	job := f.enqueue(t, ticket, domain.TemplateYourTurn)

	res, err := f.outbox.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)
	assert.Equal(t, domain.JobStatusPending, f.job(t, job.ID).Status)
}

func TestDrain_AbandonsStuckSend(t *testing.T) {
	f := newFixture(t, Config{SendTimeout: 50 * time.Millisecond})
	f.notifier.block = make(chan struct{})
	defer close(f.notifier.block)

	ticket := f.addTicket(t, "1", domain.TicketStatusInProgress)
	job := f.enqueue(t, ticket, domain.TemplateYourTurn)

	began := time.Now()
	res, err := f.outbox.Drain(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(began), 2*time.Second)
	assert.Equal(t, 1, res.Retried)

	got := f.job(t, job.ID)
	assert.Equal(t, 1, got.Attempts)
	assert.Contains(t, got.LastError, "abandoned")
}

func TestDrain_CancelsIrrelevantJobs(t *testing.T) {
	f := newFixture(t, Config{})
	ticket := f.addTicket(t, "1", domain.TicketStatusCancelled)
	turn := f.enqueue(t, ticket, domain.TemplateYourTurn)
	expired := f.enqueue(t, ticket, domain.TemplateExpired)

	res, err := f.outbox.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cancelled)
	assert.Equal(t, 1, res.Sent)

	assert.Equal(t, domain.JobStatusCancelled, f.job(t, turn.ID).Status)
	assert.Equal(t, domain.JobStatusSent, f.job(t, expired.ID).Status)
}

func TestDrain_CancelsStaleJobs(t *testing.T) {
	f := newFixture(t, Config{JobExpiry: time.Hour})
	f.notifier.err = func(int) error { return domain.NewTransientSendError(errors.New("down")) }
	ticket := f.addTicket(t, "1", domain.TicketStatusInProgress)
	job := f.enqueue(t, ticket, domain.TemplateYourTurn)

	_, err := f.outbox.Drain(context.Background())
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	res, err := f.outbox.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cancelled)
	assert.Equal(t, domain.JobStatusCancelled, f.job(t, job.ID).Status)
}

func TestDrain_UrgencyOrder(t *testing.T) {
	f := newFixture(t, Config{Concurrency: 1})
	pending := f.addTicket(t, "1", domain.TicketStatusPending)
	serving := f.addTicket(t, "2", domain.TicketStatusInProgress)

	f.enqueue(t, pending, domain.TemplateConfirmation)
	f.clock.Advance(time.Second)
	f.enqueue(t, serving, domain.TemplateYourTurn)

	_, err := f.outbox.Drain(context.Background())
	require.NoError(t, err)

	texts := f.notifier.texts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "your turn")
	assert.Contains(t, texts[1], "confirmed")
}

func TestDrain_LivePosition(t *testing.T) {
	f := newFixture(t, Config{})
	f.addTicket(t, "1", domain.TicketStatusPending)
	f.clock.Advance(time.Second)
	second := f.addTicket(t, "2", domain.TicketStatusPending)
	job := f.enqueue(t, second, domain.TemplateConfirmation)

	// once the head leaves, the second ticket is rendered as number 1
	head, err := f.store.GetTicket(context.Background(), "1")
	require.NoError(t, err)
	gone, err := domain.Cancel(head, f.clock.Now(), "customer")
	require.NoError(t, err)
	require.NoError(t, f.store.Apply(context.Background(), storage.Changeset{
		Tickets: []storage.TicketUpdate{storage.UpdateTicket(head, gone)},
	}))

	_, err = f.outbox.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusSent, f.job(t, job.ID).Status)
	texts := f.notifier.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "number 1 in line, estimated wait 20 min")
}

func TestDrain_BoundedConcurrency(t *testing.T) {
	f := newFixture(t, Config{Concurrency: 2, BatchSize: 20})
	f.notifier.delay = 10 * time.Millisecond
	for i := 0; i < 8; i++ {
		ticket := f.addTicket(t, string(rune('a'+i)), domain.TicketStatusInProgress)
		f.enqueue(t, ticket, domain.TemplateYourTurn)
	}

	res, err := f.outbox.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, res.Sent)
	assert.LessOrEqual(t, f.notifier.peak.Load(), int32(2))
}

func TestDrain_BatchSize(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 2})
	for i := 0; i < 5; i++ {
		ticket := f.addTicket(t, string(rune('a'+i)), domain.TicketStatusInProgress)
		f.enqueue(t, ticket, domain.TemplateYourTurn)
	}

	res, err := f.outbox.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
}

func TestDrain_Targets(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	ticket := f.addTicket(t, "1", domain.TicketStatusInProgress)
	withoutTarget := ticket
	withoutTarget.Target = domain.ChannelTarget{}
	fallback := domain.NewNotificationJob("j-fallback", withoutTarget, domain.TemplateYourTurn, start)
	require.NoError(t, f.store.Apply(ctx, storage.Changeset{NewJobs: []domain.NotificationJob{fallback}}))

	// the stored ticket still has a target, so the job falls back to it
	res, err := f.outbox.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	unreachable := f.addTicket(t, "2", domain.TicketStatusInProgress)
	cleared := unreachable
	cleared.Target = domain.ChannelTarget{}
	cleared.Version++
	require.NoError(t, f.store.Apply(ctx, storage.Changeset{
		Tickets: []storage.TicketUpdate{storage.UpdateTicket(unreachable, cleared)},
	}))
	job := f.enqueue(t, cleared, domain.TemplateYourTurn)

	res, err = f.outbox.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	got := f.job(t, job.ID)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Contains(t, got.LastError, "no usable notification target")
}

func TestRender(t *testing.T) {
	text, err := Render(domain.TemplateConfirmation, MessageData{Code: "T1000", Queue: "GENERAL", Position: 3, ETAMinutes: 60})
	require.NoError(t, err)
	assert.Contains(t, text, "T1000")
	assert.Contains(t, text, "number 3 in line, estimated wait 60 min")

	text, err = Render(domain.TemplateYourTurn, MessageData{Code: "T1000"})
	require.NoError(t, err)
	assert.Contains(t, text, "the service desk")

	_, err = Render(domain.Template("NOPE"), MessageData{})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}
