package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuongbtq/ticketero/internal/domain"
)

func TestRankAndEstimate(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	pending := []domain.Ticket{
		{ID: "c", Status: domain.TicketStatusPending, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "b", Status: domain.TicketStatusPending, CreatedAt: base},
		{ID: "a", Status: domain.TicketStatusPending, CreatedAt: base},
		{ID: "x", Status: domain.TicketStatusCalled, CreatedAt: base.Add(-time.Hour)},
	}

	tests := []struct {
		id       string
		wantRank int
		wantOK   bool
	}{
		{id: "a", wantRank: 1, wantOK: true},
		{id: "b", wantRank: 2, wantOK: true},
		{id: "c", wantRank: 3, wantOK: true},
		{id: "x", wantOK: false},
		{id: "missing", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			rank, ok := Rank(pending, tt.id)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantRank, rank)

			est, ok := EstimateFor(pending, tt.id, 15)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantRank*15, est.ETAMinutes)
		})
	}

	// input order untouched
	assert.Equal(t, "c", pending[0].ID)
}

func TestOrder_Empty(t *testing.T) {
	assert.Empty(t, Order(nil))
}
