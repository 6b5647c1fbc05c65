package domain

import (
	"math"
	"time"
)

// JobStatus is the delivery status of a notification job
type JobStatus string

// Notification job status constants
const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusSent      JobStatus = "SENT"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// IsTerminal reports whether the job will never be delivered again
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSent || s == JobStatusFailed || s == JobStatusCancelled
}

// Template identifies the message a job renders
type Template string

// Notification templates
const (
	TemplateYourTurn     Template = "YOUR_TURN"
	TemplateConfirmation Template = "CONFIRMATION"
	TemplateProximity    Template = "PROXIMITY"
	TemplateExpired      Template = "EXPIRED"
)

// Urgency orders templates for delivery; lower is sent first
func (t Template) Urgency() int {
	switch t {
	case TemplateYourTurn:
		return 1
	case TemplateConfirmation, TemplateProximity:
		return 2
	default:
		return 3
	}
}

// RelevantFor reports whether the template still makes sense for a ticket status.
// Jobs whose template is no longer relevant are cancelled instead of delivered.
func (t Template) RelevantFor(status TicketStatus) bool {
	switch t {
	case TemplateConfirmation, TemplateProximity:
		return status == TicketStatusPending
	case TemplateYourTurn:
		return status == TicketStatusCalled || status == TicketStatusInProgress
	case TemplateExpired:
		return status == TicketStatusCancelled
	default:
		return false
	}
}

// NotificationJob is one outbound message in the outbox
type NotificationJob struct {
	ID          string
	TicketID    string
	CustomerID  string
	Template    Template
	Target      ChannelTarget
	Status      JobStatus
	ScheduledAt time.Time
	Attempts    int
	LastError   string
	SentAt      *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewNotificationJob creates a PENDING job for a ticket scheduled at the given time
func NewNotificationJob(id string, t Ticket, tmpl Template, scheduledAt time.Time) NotificationJob {
	return NotificationJob{
		ID:          id,
		TicketID:    t.ID,
		CustomerID:  t.CustomerID,
		Template:    tmpl,
		Target:      t.Target,
		Status:      JobStatusPending,
		ScheduledAt: scheduledAt,
		CreatedAt:   scheduledAt,
		UpdatedAt:   scheduledAt,
	}
}

// Backoff returns the retry delay after the given number of attempts:
// 2^attempts minutes, capped at max when max > 0. It never decreases as
// attempts grow.
func Backoff(attempts int, max time.Duration) time.Duration {
	limit := max
	if limit <= 0 {
		limit = time.Duration(math.MaxInt64)
	}
	if attempts < 0 {
		attempts = 0
	}
	// 2^28 minutes no longer fits in a Duration
	if attempts > maxBackoffShift {
		return limit
	}
	d := time.Duration(1<<uint(attempts)) * time.Minute
	if d > limit {
		return limit
	}
	return d
}

const maxBackoffShift = 27

// MarkSent returns a SENT copy
func (j NotificationJob) MarkSent(now time.Time) NotificationJob {
	j.Status = JobStatusSent
	j.SentAt = &now
	j.LastError = ""
	j.UpdatedAt = now
	return j
}

// RecordFailure returns a copy with one more attempt. Transient failures
// reschedule the job until maxAttempts is reached; permanent failures and
// exhausted jobs become FAILED and keep their ScheduledAt.
func (j NotificationJob) RecordFailure(cause error, now time.Time, maxAttempts int, maxBackoff time.Duration) NotificationJob {
	j.Attempts++
	j.UpdatedAt = now
	if cause != nil {
		j.LastError = cause.Error()
	}
	if IsPermanent(cause) || j.Attempts >= maxAttempts {
		j.Status = JobStatusFailed
		return j
	}
	j.ScheduledAt = now.Add(Backoff(j.Attempts, maxBackoff))
	return j
}

// Cancel returns a CANCELLED copy carrying the reason in LastError
func (j NotificationJob) Cancel(reason string, now time.Time) NotificationJob {
	j.Status = JobStatusCancelled
	j.LastError = reason
	j.UpdatedAt = now
	return j
}

// IsDue reports whether the job is PENDING and scheduled at or before now
func (j NotificationJob) IsDue(now time.Time) bool {
	return j.Status == JobStatusPending && !j.ScheduledAt.After(now)
}
