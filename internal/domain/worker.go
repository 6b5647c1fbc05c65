package domain

import "time"

// WorkerStatus is the availability of a service worker
type WorkerStatus string

// Worker status constants
const (
	WorkerStatusAvailable WorkerStatus = "AVAILABLE"
	WorkerStatusBusy      WorkerStatus = "BUSY"
	WorkerStatusOnBreak   WorkerStatus = "ON_BREAK"
	WorkerStatusOffline   WorkerStatus = "OFFLINE"
)

// Valid reports whether s is a known worker status
func (s WorkerStatus) Valid() bool {
	switch s {
	case WorkerStatusAvailable, WorkerStatusBusy, WorkerStatusOnBreak, WorkerStatusOffline:
		return true
	default:
		return false
	}
}

// Worker is a service agent at a station
type Worker struct {
	ID              string
	Name            string
	Status          WorkerStatus
	SupportedQueues []QueueType
	Station         string
	AssignedCount   int
	LastAssignedAt  *time.Time
	UpdatedAt       time.Time
	Version         int64
}

// Supports reports whether the worker serves the queue type
func (w Worker) Supports(q QueueType) bool {
	for _, s := range w.SupportedQueues {
		if s == q {
			return true
		}
	}
	return false
}

// CanTake reports whether the worker may be assigned a ticket of queue q
func (w Worker) CanTake(q QueueType) bool {
	return w.Status == WorkerStatusAvailable && w.AssignedCount == 0 && w.Supports(q)
}

// Occupy returns a BUSY copy holding one more ticket
func (w Worker) Occupy(now time.Time) Worker {
	w.Status = WorkerStatusBusy
	w.AssignedCount++
	w.LastAssignedAt = &now
	w.UpdatedAt = now
	w.Version++
	return w
}

// Release returns an AVAILABLE copy holding one ticket less. A worker that went
// on break or offline while serving keeps that status.
func (w Worker) Release(now time.Time) Worker {
	if w.Status == WorkerStatusBusy {
		w.Status = WorkerStatusAvailable
	}
	if w.AssignedCount > 0 {
		w.AssignedCount--
	}
	w.UpdatedAt = now
	w.Version++
	return w
}

// WithStatus returns a copy with an operator-set status
func (w Worker) WithStatus(status WorkerStatus, now time.Time) Worker {
	w.Status = status
	w.UpdatedAt = now
	w.Version++
	return w
}
