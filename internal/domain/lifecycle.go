package domain

import "time"

// Action names a lifecycle operation
type Action string

// Lifecycle actions
const (
	ActionCall     Action = "call"
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
	ActionNoShow   Action = "no_show"
)

// actionTargets maps every action to the status it produces
var actionTargets = map[Action]TicketStatus{
	ActionCall:     TicketStatusCalled,
	ActionStart:    TicketStatusInProgress,
	ActionComplete: TicketStatusCompleted,
	ActionCancel:   TicketStatusCancelled,
	ActionNoShow:   TicketStatusNoShow,
}

// transitions is the allowed-edges table. Terminal statuses have no entry.
var transitions = map[TicketStatus][]TicketStatus{
	TicketStatusPending:    {TicketStatusCalled, TicketStatusCancelled},
	TicketStatusCalled:     {TicketStatusInProgress, TicketStatusNoShow, TicketStatusCancelled},
	TicketStatusInProgress: {TicketStatusCompleted, TicketStatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the state graph
func CanTransition(from, to TicketStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanApply reports whether action may be applied to a ticket in status from
func CanApply(action Action, from TicketStatus) bool {
	to, ok := actionTargets[action]
	if !ok {
		return false
	}
	return CanTransition(from, to)
}

// Apply runs a lifecycle action by name. It is what manual overrides use.
func Apply(t Ticket, action Action, now time.Time, reason string) (Ticket, error) {
	switch action {
	case ActionCall:
		return Call(t, now)
	case ActionStart:
		return StartProgress(t, now)
	case ActionComplete:
		return Complete(t, now)
	case ActionCancel:
		return Cancel(t, now, reason)
	case ActionNoShow:
		return MarkNoShow(t, now)
	default:
		return Ticket{}, NewValidationError("action", string(action)+" is not a lifecycle action")
	}
}

// Call moves a PENDING ticket to CALLED
func Call(t Ticket, now time.Time) (Ticket, error) {
	next, err := transition(t, ActionCall, now)
	if err != nil {
		return Ticket{}, err
	}
	next.CalledAt = timePtr(now)
	return next, nil
}

// StartProgress moves a CALLED ticket to IN_PROGRESS
func StartProgress(t Ticket, now time.Time) (Ticket, error) {
	next, err := transition(t, ActionStart, now)
	if err != nil {
		return Ticket{}, err
	}
	next.StartedAt = timePtr(now)
	return next, nil
}

// Complete moves an IN_PROGRESS ticket to COMPLETED
func Complete(t Ticket, now time.Time) (Ticket, error) {
	next, err := transition(t, ActionComplete, now)
	if err != nil {
		return Ticket{}, err
	}
	next.CompletedAt = timePtr(now)
	return next, nil
}

// Cancel moves any active ticket to CANCELLED
func Cancel(t Ticket, now time.Time, reason string) (Ticket, error) {
	next, err := transition(t, ActionCancel, now)
	if err != nil {
		return Ticket{}, err
	}
	next.CancelledAt = timePtr(now)
	next.CancelReason = reason
	return next, nil
}

// MarkNoShow moves a CALLED ticket to NO_SHOW
func MarkNoShow(t Ticket, now time.Time) (Ticket, error) {
	next, err := transition(t, ActionNoShow, now)
	if err != nil {
		return Ticket{}, err
	}
	next.CancelledAt = timePtr(now)
	next.CancelReason = "no_show"
	return next, nil
}

func transition(t Ticket, action Action, now time.Time) (Ticket, error) {
	if !CanApply(action, t.Status) {
		return Ticket{}, &InvalidTransitionError{Action: action, From: t.Status}
	}

	next := t
	next.Status = actionTargets[action]
	next.UpdatedAt = now
	next.Version = t.Version + 1
	if next.Status != TicketStatusPending {
		next.Position = nil
		next.ETAMinutes = nil
	}
	return next, nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}
