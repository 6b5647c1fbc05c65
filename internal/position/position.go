// Package position computes live queue rank and wait estimates from the
// current PENDING tickets of a queue.
package position

import (
	"sort"

	"github.com/cuongbtq/ticketero/internal/domain"
)

// Order sorts pending tickets by creation time, ties broken by id.
// The input slice is not modified.
func Order(pending []domain.Ticket) []domain.Ticket {
	out := make([]domain.Ticket, 0, len(pending))
	for _, t := range pending {
		if t.Status == domain.TicketStatusPending {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Rank returns the 1-based rank of ticketID among the pending tickets,
// or false when it is not pending
func Rank(pending []domain.Ticket, ticketID string) (int, bool) {
	for i, t := range Order(pending) {
		if t.ID == ticketID {
			return i + 1, true
		}
	}
	return 0, false
}

// Estimate is the live rank of a ticket and its wait estimate in minutes
type Estimate struct {
	Position   int
	ETAMinutes int
}

// EstimateFor returns rank x average service minutes for ticketID
func EstimateFor(pending []domain.Ticket, ticketID string, averageServiceMinutes int) (Estimate, bool) {
	rank, ok := Rank(pending, ticketID)
	if !ok {
		return Estimate{}, false
	}
	return Estimate{Position: rank, ETAMinutes: rank * averageServiceMinutes}, true
}
