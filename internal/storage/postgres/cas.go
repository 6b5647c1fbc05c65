package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/ticketero/internal/domain"
	"github.com/cuongbtq/ticketero/internal/storage"
)

type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

type ticketCAS struct {
	ticketRow
	ExpectedStatus  string `db:"expected_status"`
	ExpectedVersion int64  `db:"expected_version"`
}

type workerCAS struct {
	workerRow
	ExpectedStatus  string `db:"expected_status"`
	ExpectedVersion int64  `db:"expected_version"`
}

type jobCAS struct {
	jobRow
	ExpectedStatus   string `db:"expected_status"`
	ExpectedAttempts int    `db:"expected_attempts"`
}

func queueSnapshot(ctx context.Context, q queryer, queueType domain.QueueType) (storage.QueueSnapshot, error) {
	query := `
		SELECT COUNT(*) AS pending_count, COALESCE(MAX(position), 0) AS max_position
		FROM tickets
		WHERE queue_type = $1 AND status = $2
	`

	var row struct {
		PendingCount int `db:"pending_count"`
		MaxPosition  int `db:"max_position"`
	}
	if err := q.GetContext(ctx, &row, query, string(queueType), string(domain.TicketStatusPending)); err != nil {
		return storage.QueueSnapshot{}, fmt.Errorf("failed to read queue snapshot: %w", err)
	}
	return storage.QueueSnapshot{PendingCount: row.PendingCount, MaxPosition: row.MaxPosition}, nil
}

func countActiveByCustomer(ctx context.Context, q queryer, customerID string) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM tickets WHERE customer_id = $1 AND status = ANY($2)`
	if err := q.GetContext(ctx, &n, query, customerID, activeStatuses); err != nil {
		return 0, fmt.Errorf("failed to count active tickets: %w", err)
	}
	return n, nil
}

func updateTicket(ctx context.Context, tx *sqlx.Tx, u storage.TicketUpdate) error {
	query := `
		UPDATE tickets
		SET status = :status,
		    position = :position,
		    eta_minutes = :eta_minutes,
		    target_channel = :target_channel,
		    target_address = :target_address,
		    worker_id = :worker_id,
		    station = :station,
		    proximity_notified = :proximity_notified,
		    cancel_reason = :cancel_reason,
		    called_at = :called_at,
		    started_at = :started_at,
		    completed_at = :completed_at,
		    cancelled_at = :cancelled_at,
		    expires_at = :expires_at,
		    updated_at = :updated_at,
		    version = :version
		WHERE id = :id
		  AND status = :expected_status
		  AND version = :expected_version
	`

	arg := ticketCAS{
		ticketRow:       newTicketRow(u.Ticket),
		ExpectedStatus:  string(u.ExpectedStatus),
		ExpectedVersion: u.ExpectedVersion,
	}
	res, err := tx.NamedExecContext(ctx, query, arg)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.ErrDuplicateCode
		}
		return fmt.Errorf("failed to update ticket: %w", err)
	}
	return expectOneRow(res.RowsAffected, "ticket", u.Ticket.ID)
}

func updateWorker(ctx context.Context, tx *sqlx.Tx, u storage.WorkerUpdate) error {
	query := `
		UPDATE workers
		SET name = :name,
		    status = :status,
		    supported_queues = :supported_queues,
		    station = :station,
		    assigned_count = :assigned_count,
		    last_assigned_at = :last_assigned_at,
		    updated_at = :updated_at,
		    version = :version
		WHERE id = :id
		  AND status = :expected_status
		  AND version = :expected_version
	`

	arg := workerCAS{
		workerRow:       newWorkerRow(u.Worker),
		ExpectedStatus:  string(u.ExpectedStatus),
		ExpectedVersion: u.ExpectedVersion,
	}
	res, err := tx.NamedExecContext(ctx, query, arg)
	if err != nil {
		return fmt.Errorf("failed to update worker: %w", err)
	}
	return expectOneRow(res.RowsAffected, "worker", u.Worker.ID)
}

func updateJob(ctx context.Context, tx *sqlx.Tx, u storage.JobUpdate) error {
	query := `
		UPDATE notification_jobs
		SET status = :status,
		    scheduled_at = :scheduled_at,
		    attempts = :attempts,
		    last_error = :last_error,
		    sent_at = :sent_at,
		    updated_at = :updated_at
		WHERE id = :id
		  AND status = :expected_status
		  AND attempts = :expected_attempts
	`

	arg := jobCAS{
		jobRow:           newJobRow(u.Job),
		ExpectedStatus:   string(u.ExpectedStatus),
		ExpectedAttempts: u.ExpectedAttempts,
	}
	res, err := tx.NamedExecContext(ctx, query, arg)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return expectOneRow(res.RowsAffected, "job", u.Job.ID)
}

func insertJob(ctx context.Context, tx *sqlx.Tx, j domain.NotificationJob) error {
	query := `INSERT INTO notification_jobs (` + jobColumns + `) VALUES (
			:id, :ticket_id, :customer_id, :template, :urgency, :target_channel, :target_address,
			:status, :scheduled_at, :attempts, :last_error, :sent_at, :created_at, :updated_at
		)`
	if _, err := tx.NamedExecContext(ctx, query, newJobRow(j)); err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func expectOneRow(rowsAffected func() (int64, error), entity, id string) error {
	n, err := rowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, domain.ErrStaleWrite)
	}
	return nil
}
