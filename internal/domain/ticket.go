package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TicketStatus is the lifecycle status of a ticket
type TicketStatus string

// Ticket status constants
const (
	TicketStatusPending    TicketStatus = "PENDING"
	TicketStatusCalled     TicketStatus = "CALLED"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusCompleted  TicketStatus = "COMPLETED"
	TicketStatusCancelled  TicketStatus = "CANCELLED"
	TicketStatusNoShow     TicketStatus = "NO_SHOW"
)

// ActiveTicketStatuses lists every non-terminal status
var ActiveTicketStatuses = []TicketStatus{
	TicketStatusPending,
	TicketStatusCalled,
	TicketStatusInProgress,
}

// IsTerminal reports whether no further transition is possible
func (s TicketStatus) IsTerminal() bool {
	switch s {
	case TicketStatusCompleted, TicketStatusCancelled, TicketStatusNoShow:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusPending, TicketStatusCalled, TicketStatusInProgress,
		TicketStatusCompleted, TicketStatusCancelled, TicketStatusNoShow:
		return true
	default:
		return false
	}
}

// Ticket code range. Codes wrap back to the start once the end is passed.
const (
	TicketCodePrefix   = "T"
	TicketCodeFirst    = 1000
	TicketCodeLast     = 9999
	TicketCodeRangeLen = TicketCodeLast - TicketCodeFirst + 1
)

// TicketCodeFromSequence maps a monotonic sequence value (starting at 1) into the code range
func TicketCodeFromSequence(seq int64) string {
	if seq < 1 {
		seq = 1
	}
	n := TicketCodeFirst + (seq-1)%TicketCodeRangeLen
	return TicketCodePrefix + strconv.FormatInt(n, 10)
}

// ParseTicketCode normalizes and validates a ticket code such as "t1001"
func ParseTicketCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != 5 || !strings.HasPrefix(code, TicketCodePrefix) {
		return "", NewValidationError("ticket_code", fmt.Sprintf("%q must follow format T####", raw))
	}
	n, err := strconv.Atoi(code[1:])
	if err != nil || n < TicketCodeFirst || n > TicketCodeLast {
		return "", NewValidationError("ticket_code", fmt.Sprintf("%q is outside T%d..T%d", raw, TicketCodeFirst, TicketCodeLast))
	}
	return code, nil
}

// Ticket is a single service request. Values are immutable by convention:
// lifecycle operations return a new version instead of mutating the receiver.
type Ticket struct {
	ID         string
	Code       string
	CustomerID string
	QueueType  QueueType
	Status     TicketStatus

	// Position and ETAMinutes are only set while the ticket is PENDING
	Position   *int
	ETAMinutes *int

	Target ChannelTarget

	WorkerID string
	Station  string

	ProximityNotified bool
	CancelReason      string

	CreatedAt   time.Time
	CalledAt    *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
	ExpiresAt   time.Time
	UpdatedAt   time.Time

	Version int64
}

// IsActive reports whether the ticket is still in a non-terminal status
func (t Ticket) IsActive() bool {
	return !t.Status.IsTerminal()
}

// HasTarget reports whether the ticket can be notified
func (t Ticket) HasTarget() bool {
	return t.Target.Usable()
}

// LastActivity is the call time once called, otherwise the creation time
func (t Ticket) LastActivity() time.Time {
	if t.CalledAt != nil {
		return *t.CalledAt
	}
	return t.CreatedAt
}

// PositionValue returns the stored position or 0 when unset
func (t Ticket) PositionValue() int {
	if t.Position == nil {
		return 0
	}
	return *t.Position
}

// ETAValue returns the stored ETA in minutes or 0 when unset
func (t Ticket) ETAValue() int {
	if t.ETAMinutes == nil {
		return 0
	}
	return *t.ETAMinutes
}

// WithAssignment returns a copy bound to the worker's station
func (t Ticket) WithAssignment(w Worker) Ticket {
	t.WorkerID = w.ID
	t.Station = w.Station
	return t
}

// WithProximityNotified returns a copy flagged as having received the proximity notice
func (t Ticket) WithProximityNotified(now time.Time) Ticket {
	t.ProximityNotified = true
	t.UpdatedAt = now
	t.Version++
	return t
}
