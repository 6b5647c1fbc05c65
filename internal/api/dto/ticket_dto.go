package dto

import (
	"time"

	"github.com/cuongbtq/ticketero/internal/domain"
	"github.com/cuongbtq/ticketero/internal/ticketing"
)

type CreateTicketRequest struct {
	NationalID string `json:"national_id" binding:"required"`
	QueueType  string `json:"queue_type" binding:"required"`
}

type CallTicketRequest struct {
	WorkerID string `json:"worker_id"`
}

type CancelTicketRequest struct {
	Reason string `json:"reason"`
}

type ListTicketsRequest struct {
	QueueType  string `form:"queue_type"`
	Status     string `form:"status"`
	CustomerID string `form:"customer_id"`
	WorkerID   string `form:"worker_id"`
	PageSize   int    `form:"page_size"`
	Cursor     string `form:"cursor"`
}

type ListTicketsResponse struct {
	Tickets    []TicketDTO `json:"tickets"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

type TicketDTO struct {
	TicketID          string  `json:"ticket_id"`
	Code              string  `json:"code"`
	CustomerID        string  `json:"customer_id"`
	QueueType         string  `json:"queue_type"`
	Status            string  `json:"status"`
	Position          *int    `json:"position"`
	ETAMinutes        *int    `json:"eta_minutes"`
	WorkerID          string  `json:"worker_id,omitempty"`
	Station           string  `json:"station,omitempty"`
	Channel           string  `json:"channel,omitempty"`
	ProximityNotified bool    `json:"proximity_notified"`
	CancelReason      string  `json:"cancel_reason,omitempty"`
	CreatedAt         string  `json:"created_at"`
	CalledAt          *string `json:"called_at,omitempty"`
	StartedAt         *string `json:"started_at,omitempty"`
	CompletedAt       *string `json:"completed_at,omitempty"`
	CancelledAt       *string `json:"cancelled_at,omitempty"`
	ExpiresAt         string  `json:"expires_at"`
	UpdatedAt         string  `json:"updated_at"`
	Version           int64   `json:"version"`
}

type TicketStatusDTO struct {
	TicketID   string `json:"ticket_id"`
	Code       string `json:"code"`
	QueueType  string `json:"queue_type"`
	Status     string `json:"status"`
	Position   *int   `json:"position"`
	ETAMinutes *int   `json:"eta_minutes"`
	QueueSize  int    `json:"queue_size"`
	Station    string `json:"station,omitempty"`
}

type QueueDTO struct {
	QueueType             string `json:"queue_type"`
	PriorityRank          int    `json:"priority_rank"`
	Capacity              int    `json:"capacity"`
	AverageServiceMinutes int    `json:"average_service_minutes"`
	ValidityWindowMinutes int    `json:"validity_window_minutes"`
	Active                bool   `json:"active"`
}

type SetQueueActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

type ListWorkersRequest struct {
	Status    string `form:"status"`
	QueueType string `form:"queue_type"`
}

type WorkerDTO struct {
	WorkerID        string   `json:"worker_id"`
	Name            string   `json:"name"`
	Status          string   `json:"status"`
	SupportedQueues []string `json:"supported_queues"`
	Station         string   `json:"station"`
	AssignedCount   int      `json:"assigned_count"`
	LastAssignedAt  *string  `json:"last_assigned_at,omitempty"`
	Version         int64    `json:"version"`
}

type UpdateWorkerStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type NotificationDTO struct {
	JobID       string  `json:"job_id"`
	TicketID    string  `json:"ticket_id"`
	Template    string  `json:"template"`
	Channel     string  `json:"channel"`
	Status      string  `json:"status"`
	Attempts    int     `json:"attempts"`
	LastError   string  `json:"last_error,omitempty"`
	ScheduledAt string  `json:"scheduled_at"`
	SentAt      *string `json:"sent_at,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Field string `json:"field,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func NewTicketDTO(t domain.Ticket) TicketDTO {
	return TicketDTO{
		TicketID:          t.ID,
		Code:              t.Code,
		CustomerID:        t.CustomerID,
		QueueType:         string(t.QueueType),
		Status:            string(t.Status),
		Position:          t.Position,
		ETAMinutes:        t.ETAMinutes,
		WorkerID:          t.WorkerID,
		Station:           t.Station,
		Channel:           string(t.Target.Channel),
		ProximityNotified: t.ProximityNotified,
		CancelReason:      t.CancelReason,
		CreatedAt:         formatTime(t.CreatedAt),
		CalledAt:          formatTimePtr(t.CalledAt),
		StartedAt:         formatTimePtr(t.StartedAt),
		CompletedAt:       formatTimePtr(t.CompletedAt),
		CancelledAt:       formatTimePtr(t.CancelledAt),
		ExpiresAt:         formatTime(t.ExpiresAt),
		UpdatedAt:         formatTime(t.UpdatedAt),
		Version:           t.Version,
	}
}

func NewTicketStatusDTO(st ticketing.Status) TicketStatusDTO {
	return TicketStatusDTO{
		TicketID:   st.Ticket.ID,
		Code:       st.Ticket.Code,
		QueueType:  string(st.Ticket.QueueType),
		Status:     string(st.Ticket.Status),
		Position:   st.Position,
		ETAMinutes: st.ETAMinutes,
		QueueSize:  st.QueueSize,
		Station:    st.Ticket.Station,
	}
}

func NewQueueDTO(q domain.Queue) QueueDTO {
	return QueueDTO{
		QueueType:             string(q.Type),
		PriorityRank:          q.PriorityRank,
		Capacity:              q.Capacity,
		AverageServiceMinutes: q.AverageServiceMinutes,
		ValidityWindowMinutes: int(q.Window() / time.Minute),
		Active:                q.Active,
	}
}

func NewWorkerDTO(w domain.Worker) WorkerDTO {
	queues := make([]string, len(w.SupportedQueues))
	for i, q := range w.SupportedQueues {
		queues[i] = string(q)
	}
	return WorkerDTO{
		WorkerID:        w.ID,
		Name:            w.Name,
		Status:          string(w.Status),
		SupportedQueues: queues,
		Station:         w.Station,
		AssignedCount:   w.AssignedCount,
		LastAssignedAt:  formatTimePtr(w.LastAssignedAt),
		Version:         w.Version,
	}
}

func NewNotificationDTO(j domain.NotificationJob) NotificationDTO {
	return NotificationDTO{
		JobID:       j.ID,
		TicketID:    j.TicketID,
		Template:    string(j.Template),
		Channel:     string(j.Target.Channel),
		Status:      string(j.Status),
		Attempts:    j.Attempts,
		LastError:   j.LastError,
		ScheduledAt: formatTime(j.ScheduledAt),
		SentAt:      formatTimePtr(j.SentAt),
		CreatedAt:   formatTime(j.CreatedAt),
	}
}
