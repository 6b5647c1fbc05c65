package postgres

import (
	"time"

	"github.com/lib/pq"

	"github.com/cuongbtq/ticketero/internal/domain"
)

type customerRow struct {
	ID             string `db:"id"`
	NationalID     string `db:"national_id"`
	FirstName      string `db:"first_name"`
	LastName       string `db:"last_name"`
	VIP            bool   `db:"vip"`
	Phone          string `db:"phone"`
	Email          string `db:"email"`
	TelegramChatID string `db:"telegram_chat_id"`
	PushToken      string `db:"push_token"`
}

func (r customerRow) toDomain() domain.Customer {
	return domain.Customer{
		ID:             r.ID,
		NationalID:     r.NationalID,
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		VIP:            r.VIP,
		Phone:          r.Phone,
		Email:          r.Email,
		TelegramChatID: r.TelegramChatID,
		PushToken:      r.PushToken,
	}
}

type ticketRow struct {
	ID                string     `db:"id"`
	Code              string     `db:"code"`
	CustomerID        string     `db:"customer_id"`
	QueueType         string     `db:"queue_type"`
	Status            string     `db:"status"`
	Position          *int       `db:"position"`
	ETAMinutes        *int       `db:"eta_minutes"`
	TargetChannel     string     `db:"target_channel"`
	TargetAddress     string     `db:"target_address"`
	WorkerID          string     `db:"worker_id"`
	Station           string     `db:"station"`
	ProximityNotified bool       `db:"proximity_notified"`
	CancelReason      string     `db:"cancel_reason"`
	CreatedAt         time.Time  `db:"created_at"`
	CalledAt          *time.Time `db:"called_at"`
	StartedAt         *time.Time `db:"started_at"`
	CompletedAt       *time.Time `db:"completed_at"`
	CancelledAt       *time.Time `db:"cancelled_at"`
	ExpiresAt         time.Time  `db:"expires_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
	Version           int64      `db:"version"`
}

func newTicketRow(t domain.Ticket) ticketRow {
	return ticketRow{
		ID:                t.ID,
		Code:              t.Code,
		CustomerID:        t.CustomerID,
		QueueType:         string(t.QueueType),
		Status:            string(t.Status),
		Position:          t.Position,
		ETAMinutes:        t.ETAMinutes,
		TargetChannel:     string(t.Target.Channel),
		TargetAddress:     t.Target.Address,
		WorkerID:          t.WorkerID,
		Station:           t.Station,
		ProximityNotified: t.ProximityNotified,
		CancelReason:      t.CancelReason,
		CreatedAt:         t.CreatedAt,
		CalledAt:          t.CalledAt,
		StartedAt:         t.StartedAt,
		CompletedAt:       t.CompletedAt,
		CancelledAt:       t.CancelledAt,
		ExpiresAt:         t.ExpiresAt,
		UpdatedAt:         t.UpdatedAt,
		Version:           t.Version,
	}
}

func (r ticketRow) toDomain() domain.Ticket {
	return domain.Ticket{
		ID:                r.ID,
		Code:              r.Code,
		CustomerID:        r.CustomerID,
		QueueType:         domain.QueueType(r.QueueType),
		Status:            domain.TicketStatus(r.Status),
		Position:          r.Position,
		ETAMinutes:        r.ETAMinutes,
		Target:            domain.ChannelTarget{Channel: domain.Channel(r.TargetChannel), Address: r.TargetAddress},
		WorkerID:          r.WorkerID,
		Station:           r.Station,
		ProximityNotified: r.ProximityNotified,
		CancelReason:      r.CancelReason,
		CreatedAt:         r.CreatedAt,
		CalledAt:          r.CalledAt,
		StartedAt:         r.StartedAt,
		CompletedAt:       r.CompletedAt,
		CancelledAt:       r.CancelledAt,
		ExpiresAt:         r.ExpiresAt,
		UpdatedAt:         r.UpdatedAt,
		Version:           r.Version,
	}
}

type workerRow struct {
	ID              string         `db:"id"`
	Name            string         `db:"name"`
	Status          string         `db:"status"`
	SupportedQueues pq.StringArray `db:"supported_queues"`
	Station         string         `db:"station"`
	AssignedCount   int            `db:"assigned_count"`
	LastAssignedAt  *time.Time     `db:"last_assigned_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	Version         int64          `db:"version"`
}

func newWorkerRow(w domain.Worker) workerRow {
	queues := make(pq.StringArray, 0, len(w.SupportedQueues))
	for _, q := range w.SupportedQueues {
		queues = append(queues, string(q))
	}
	return workerRow{
		ID:              w.ID,
		Name:            w.Name,
		Status:          string(w.Status),
		SupportedQueues: queues,
		Station:         w.Station,
		AssignedCount:   w.AssignedCount,
		LastAssignedAt:  w.LastAssignedAt,
		UpdatedAt:       w.UpdatedAt,
		Version:         w.Version,
	}
}

func (r workerRow) toDomain() domain.Worker {
	queues := make([]domain.QueueType, 0, len(r.SupportedQueues))
	for _, q := range r.SupportedQueues {
		queues = append(queues, domain.QueueType(q))
	}
	return domain.Worker{
		ID:              r.ID,
		Name:            r.Name,
		Status:          domain.WorkerStatus(r.Status),
		SupportedQueues: queues,
		Station:         r.Station,
		AssignedCount:   r.AssignedCount,
		LastAssignedAt:  r.LastAssignedAt,
		UpdatedAt:       r.UpdatedAt,
		Version:         r.Version,
	}
}

type jobRow struct {
	ID            string     `db:"id"`
	TicketID      string     `db:"ticket_id"`
	CustomerID    string     `db:"customer_id"`
	Template      string     `db:"template"`
	Urgency       int        `db:"urgency"`
	TargetChannel string     `db:"target_channel"`
	TargetAddress string     `db:"target_address"`
	Status        string     `db:"status"`
	ScheduledAt   time.Time  `db:"scheduled_at"`
	Attempts      int        `db:"attempts"`
	LastError     string     `db:"last_error"`
	SentAt        *time.Time `db:"sent_at"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

func newJobRow(j domain.NotificationJob) jobRow {
	return jobRow{
		ID:            j.ID,
		TicketID:      j.TicketID,
		CustomerID:    j.CustomerID,
		Template:      string(j.Template),
		Urgency:       j.Template.Urgency(),
		TargetChannel: string(j.Target.Channel),
		TargetAddress: j.Target.Address,
		Status:        string(j.Status),
		ScheduledAt:   j.ScheduledAt,
		Attempts:      j.Attempts,
		LastError:     j.LastError,
		SentAt:        j.SentAt,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
}

func (r jobRow) toDomain() domain.NotificationJob {
	return domain.NotificationJob{
		ID:          r.ID,
		TicketID:    r.TicketID,
		CustomerID:  r.CustomerID,
		Template:    domain.Template(r.Template),
		Target:      domain.ChannelTarget{Channel: domain.Channel(r.TargetChannel), Address: r.TargetAddress},
		Status:      domain.JobStatus(r.Status),
		ScheduledAt: r.ScheduledAt,
		Attempts:    r.Attempts,
		LastError:   r.LastError,
		SentAt:      r.SentAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}
