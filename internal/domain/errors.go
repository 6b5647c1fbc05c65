package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the engine wraps exactly one of these,
// so callers can branch with errors.Is(err, domain.ErrCapacity).
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrCapacity   = errors.New("capacity exceeded")
	ErrState      = errors.New("invalid state")
	ErrDelivery   = errors.New("delivery failed")
)

var (
	// ErrCustomerNotFound is returned when the customer directory has no match
	ErrCustomerNotFound = newKindError(ErrNotFound, "customer not found")

	// ErrQueueNotFound is returned for unknown or inactive queue types
	ErrQueueNotFound = newKindError(ErrNotFound, "queue not found")

	// ErrTicketNotFound is returned when a ticket cannot be found by id or code
	ErrTicketNotFound = newKindError(ErrNotFound, "ticket not found")

	// ErrWorkerNotFound is returned when a worker cannot be found
	ErrWorkerNotFound = newKindError(ErrNotFound, "worker not found")

	// ErrJobNotFound is returned when a notification job cannot be found
	ErrJobNotFound = newKindError(ErrNotFound, "notification job not found")

	// ErrQueueFull is returned when pending count reached the queue capacity
	ErrQueueFull = newKindError(ErrCapacity, "queue is full")

	// ErrActiveTicketLimit is returned when a customer already holds the maximum number of active tickets
	ErrActiveTicketLimit = newKindError(ErrCapacity, "customer active ticket limit reached")

	// ErrCodeSpaceExhausted is returned when every ticket code in the range is held by an active ticket
	ErrCodeSpaceExhausted = newKindError(ErrCapacity, "ticket code space exhausted")

	// ErrStaleWrite is returned when a compare-and-set update lost the race
	ErrStaleWrite = newKindError(ErrState, "stale write: entity changed since it was read")

	// ErrDuplicateCode is returned when an active ticket already holds the code
	ErrDuplicateCode = newKindError(ErrState, "ticket code already in use")

	// ErrWorkerUnavailable is returned when a worker cannot take a ticket
	ErrWorkerUnavailable = newKindError(ErrState, "worker is not available")

	// ErrWorkerQueueMismatch is returned when a worker does not serve the ticket's queue
	ErrWorkerQueueMismatch = newKindError(ErrValidation, "worker does not serve queue")
)

type kindError struct {
	kind error
	msg  string
}

func newKindError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

func (e *kindError) Error() string {
	return e.msg
}

func (e *kindError) Is(target error) bool {
	return target == e.kind
}

// ValidationError reports malformed input
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a new validation error for a field
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidTransitionError is returned when a lifecycle operation is not allowed
// from the ticket's current status
type InvalidTransitionError struct {
	Action Action
	From   TicketStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s ticket in status %s", e.Action, e.From)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrState
}

// TransientSendError wraps delivery failures that should be retried
type TransientSendError struct {
	Err error
}

func (e *TransientSendError) Error() string {
	return "transient send error: " + e.Err.Error()
}

func (e *TransientSendError) Unwrap() error {
	return e.Err
}

func (e *TransientSendError) Is(target error) bool {
	return target == ErrDelivery
}

// NewTransientSendError creates a new retryable delivery error
func NewTransientSendError(err error) error {
	return &TransientSendError{Err: err}
}

// PermanentSendError wraps delivery failures that must not be retried
type PermanentSendError struct {
	Err error
}

func (e *PermanentSendError) Error() string {
	return "permanent send error: " + e.Err.Error()
}

func (e *PermanentSendError) Unwrap() error {
	return e.Err
}

func (e *PermanentSendError) Is(target error) bool {
	return target == ErrDelivery
}

// NewPermanentSendError creates a new terminal delivery error
func NewPermanentSendError(err error) error {
	return &PermanentSendError{Err: err}
}

// IsPermanent reports whether err is a permanent delivery failure.
// Anything else, including unclassified errors, is treated as transient.
func IsPermanent(err error) bool {
	var permanent *PermanentSendError
	return errors.As(err, &permanent)
}
