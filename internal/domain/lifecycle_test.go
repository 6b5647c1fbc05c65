package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingTicket() Ticket {
	pos, eta := 3, 60
	return Ticket{
		ID:         "t-1",
		Code:       "T1000",
		CustomerID: "c-1",
		QueueType:  QueueTypeGeneral,
		Status:     TicketStatusPending,
		Position:   &pos,
		ETAMinutes: &eta,
		CreatedAt:  time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
		Version:    1,
	}
}

func TestCanTransition(t *testing.T) {
	all := []TicketStatus{
		TicketStatusPending, TicketStatusCalled, TicketStatusInProgress,
		TicketStatusCompleted, TicketStatusCancelled, TicketStatusNoShow,
	}
	allowed := map[[2]TicketStatus]bool{
		{TicketStatusPending, TicketStatusCalled}:       true,
		{TicketStatusPending, TicketStatusCancelled}:    true,
		{TicketStatusCalled, TicketStatusInProgress}:    true,
		{TicketStatusCalled, TicketStatusNoShow}:        true,
		{TicketStatusCalled, TicketStatusCancelled}:     true,
		{TicketStatusInProgress, TicketStatusCompleted}: true,
		{TicketStatusInProgress, TicketStatusCancelled}: true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]TicketStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestLifecycle_HappyPath(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	ticket := pendingTicket()

	called, err := Call(ticket, now)
	require.NoError(t, err)
	assert.Equal(t, TicketStatusCalled, called.Status)
	assert.Equal(t, int64(2), called.Version)
	assert.Nil(t, called.Position)
	assert.Nil(t, called.ETAMinutes)
	require.NotNil(t, called.CalledAt)
	assert.Equal(t, now, *called.CalledAt)

	started, err := StartProgress(called, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, TicketStatusInProgress, started.Status)
	assert.Equal(t, int64(3), started.Version)
	require.NotNil(t, started.StartedAt)

	done, err := Complete(started, now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, TicketStatusCompleted, done.Status)
	assert.Equal(t, int64(4), done.Version)
	require.NotNil(t, done.CompletedAt)

	// original value is untouched
	assert.Equal(t, TicketStatusPending, ticket.Status)
	assert.NotNil(t, ticket.Position)
}

func TestLifecycle_TerminalStatesReject(t *testing.T) {
	now := time.Now()
	for _, status := range []TicketStatus{TicketStatusCompleted, TicketStatusCancelled, TicketStatusNoShow} {
		ticket := pendingTicket()
		ticket.Status = status

		for _, action := range []Action{ActionCall, ActionStart, ActionComplete, ActionCancel, ActionNoShow} {
			_, err := Apply(ticket, action, now, "")
			require.Error(t, err, "%s from %s", action, status)
			assert.True(t, errors.Is(err, ErrState))

			var transitionErr *InvalidTransitionError
			require.True(t, errors.As(err, &transitionErr))
			assert.Equal(t, status, transitionErr.From)
			assert.Equal(t, action, transitionErr.Action)
		}
	}
}

func TestCancel_SetsReason(t *testing.T) {
	now := time.Now()
	cancelled, err := Cancel(pendingTicket(), now, "expired")
	require.NoError(t, err)
	assert.Equal(t, TicketStatusCancelled, cancelled.Status)
	assert.Equal(t, "expired", cancelled.CancelReason)
	require.NotNil(t, cancelled.CancelledAt)
	assert.Nil(t, cancelled.Position)
}

func TestMarkNoShow(t *testing.T) {
	now := time.Now()

	_, err := MarkNoShow(pendingTicket(), now)
	require.Error(t, err)

	called, err := Call(pendingTicket(), now)
	require.NoError(t, err)
	noShow, err := MarkNoShow(called, now)
	require.NoError(t, err)
	assert.Equal(t, TicketStatusNoShow, noShow.Status)
	assert.Equal(t, "no_show", noShow.CancelReason)
}

func TestApply_UnknownAction(t *testing.T) {
	_, err := Apply(pendingTicket(), Action("teleport"), time.Now(), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}
