// Package postgres implements storage.Store on PostgreSQL with sqlx.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/ticketero/internal/domain"
	"github.com/cuongbtq/ticketero/internal/storage"
	"github.com/cuongbtq/ticketero/shared/postgresql"
)

//go:embed schema.sql
var schema string

const (
	ticketColumns = `id, code, customer_id, queue_type, status, position, eta_minutes,
		target_channel, target_address, worker_id, station, proximity_notified, cancel_reason,
		created_at, called_at, started_at, completed_at, cancelled_at, expires_at, updated_at, version`

	workerColumns = `id, name, status, supported_queues, station, assigned_count,
		last_assigned_at, updated_at, version`

	jobColumns = `id, ticket_id, customer_id, template, urgency, target_channel, target_address,
		status, scheduled_at, attempts, last_error, sent_at, created_at, updated_at`

	ticketSequenceName = "ticket_code"

	uniqueViolation = "23505"
)

var activeStatuses = pq.Array([]string{
	string(domain.TicketStatusPending),
	string(domain.TicketStatusCalled),
	string(domain.TicketStatusInProgress),
})

// Store implements storage.Store and storage.CustomerDirectory
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

var (
	_ storage.Store             = (*Store)(nil)
	_ storage.CustomerDirectory = (*Store)(nil)
)

// NewStore creates a new Store on top of the shared client
func NewStore(pg *postgresql.Client, logger *slog.Logger) *Store {
	return NewStoreFromDB(pg.GetDB(), logger)
}

// NewStoreFromDB creates a new Store from an existing handle
func NewStoreFromDB(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// Migrate creates the schema if it does not exist
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	s.logger.Info("Database schema applied")
	return nil
}

func (s *Store) NextTicketSequence(ctx context.Context) (int64, error) {
	query := `
		INSERT INTO ticket_sequences (name, next_value)
		VALUES ($1, 1)
		ON CONFLICT (name)
		DO UPDATE SET next_value = ticket_sequences.next_value + 1
		RETURNING next_value
	`

	var next int64
	if err := s.db.GetContext(ctx, &next, query, ticketSequenceName); err != nil {
		return 0, fmt.Errorf("failed to advance ticket sequence: %w", err)
	}
	return next, nil
}

// CreateTicket serializes admissions per queue and per customer with
// transaction-scoped advisory locks, then re-checks the guard before inserting
func (s *Store) CreateTicket(ctx context.Context, t domain.Ticket, guard storage.AdmissionGuard) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "queue:"+string(t.QueueType)); err != nil {
			return fmt.Errorf("failed to lock queue: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "customer:"+t.CustomerID); err != nil {
			return fmt.Errorf("failed to lock customer: %w", err)
		}

		snapshot, err := queueSnapshot(ctx, tx, t.QueueType)
		if err != nil {
			return err
		}
		if snapshot != guard.Snapshot {
			return domain.ErrStaleWrite
		}
		if guard.Capacity > 0 && snapshot.PendingCount >= guard.Capacity {
			return domain.ErrQueueFull
		}

		if guard.MaxActive > 0 {
			active, err := countActiveByCustomer(ctx, tx, t.CustomerID)
			if err != nil {
				return err
			}
			if active != guard.CustomerActive {
				return domain.ErrStaleWrite
			}
			if active >= guard.MaxActive {
				return domain.ErrActiveTicketLimit
			}
		}

		query := `INSERT INTO tickets (` + ticketColumns + `) VALUES (
			:id, :code, :customer_id, :queue_type, :status, :position, :eta_minutes,
			:target_channel, :target_address, :worker_id, :station, :proximity_notified, :cancel_reason,
			:created_at, :called_at, :started_at, :completed_at, :cancelled_at, :expires_at, :updated_at, :version
		)`
		if _, err := tx.NamedExecContext(ctx, query, newTicketRow(t)); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				return domain.ErrDuplicateCode
			}
			return fmt.Errorf("failed to insert ticket: %w", err)
		}
		return nil
	})
}

func (s *Store) GetTicket(ctx context.Context, id string) (domain.Ticket, error) {
	var row ticketRow
	err := s.db.GetContext(ctx, &row, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Ticket{}, domain.ErrTicketNotFound
		}
		return domain.Ticket{}, fmt.Errorf("failed to get ticket: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetTicketByCode(ctx context.Context, code string) (domain.Ticket, error) {
	query := `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE code = $1
		ORDER BY (status = ANY($2)) DESC, created_at DESC
		LIMIT 1
	`

	var row ticketRow
	if err := s.db.GetContext(ctx, &row, query, code, activeStatuses); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Ticket{}, domain.ErrTicketNotFound
		}
		return domain.Ticket{}, fmt.Errorf("failed to get ticket by code: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListTickets(ctx context.Context, filter storage.TicketFilter) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.QueueType != "" {
		query += fmt.Sprintf(" AND queue_type = $%d", argIdx)
		args = append(args, string(filter.QueueType))
		argIdx++
	}

	if filter.CustomerID != "" {
		query += fmt.Sprintf(" AND customer_id = $%d", argIdx)
		args = append(args, filter.CustomerID)
		argIdx++
	}

	if filter.WorkerID != "" {
		query += fmt.Sprintf(" AND worker_id = $%d", argIdx)
		args = append(args, filter.WorkerID)
		argIdx++
	}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		query += fmt.Sprintf(" AND status = ANY($%d)", argIdx)
		args = append(args, pq.Array(statuses))
		argIdx++
	}

	if filter.After != nil {
		query += fmt.Sprintf(" AND (created_at, id) > ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.After.CreatedAt, filter.After.ID)
		argIdx += 2
	}

	query += " ORDER BY created_at ASC, id ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}

	var rows []ticketRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}

	tickets := make([]domain.Ticket, 0, len(rows))
	for _, r := range rows {
		tickets = append(tickets, r.toDomain())
	}
	return tickets, nil
}

func (s *Store) QueueSnapshot(ctx context.Context, queueType domain.QueueType) (storage.QueueSnapshot, error) {
	return queueSnapshot(ctx, s.db, queueType)
}

func (s *Store) CountActiveByCustomer(ctx context.Context, customerID string) (int, error) {
	return countActiveByCustomer(ctx, s.db, customerID)
}

func (s *Store) SaveWorker(ctx context.Context, w domain.Worker) error {
	if w.ID == "" {
		return domain.NewValidationError("worker_id", "must not be empty")
	}
	query := `INSERT INTO workers (` + workerColumns + `) VALUES (
			:id, :name, :status, :supported_queues, :station, :assigned_count,
			:last_assigned_at, :updated_at, :version
		)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			supported_queues = EXCLUDED.supported_queues,
			station = EXCLUDED.station,
			assigned_count = EXCLUDED.assigned_count,
			last_assigned_at = EXCLUDED.last_assigned_at,
			updated_at = EXCLUDED.updated_at,
			version = EXCLUDED.version`

	if _, err := s.db.NamedExecContext(ctx, query, newWorkerRow(w)); err != nil {
		return fmt.Errorf("failed to save worker: %w", err)
	}
	return nil
}

func (s *Store) GetWorker(ctx context.Context, id string) (domain.Worker, error) {
	var row workerRow
	err := s.db.GetContext(ctx, &row, `SELECT `+workerColumns+` FROM workers WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Worker{}, domain.ErrWorkerNotFound
		}
		return domain.Worker{}, fmt.Errorf("failed to get worker: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListWorkers(ctx context.Context, filter storage.WorkerFilter) ([]domain.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM workers WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}

	if filter.QueueType != "" {
		query += fmt.Sprintf(" AND $%d = ANY(supported_queues)", argIdx)
		args = append(args, string(filter.QueueType))
	}

	query += " ORDER BY id ASC"

	var rows []workerRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}

	workers := make([]domain.Worker, 0, len(rows))
	for _, r := range rows {
		workers = append(workers, r.toDomain())
	}
	return workers, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (domain.NotificationJob, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM notification_jobs WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotificationJob{}, domain.ErrJobNotFound
		}
		return domain.NotificationJob{}, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.NotificationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM notification_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.TicketID != "" {
		query += fmt.Sprintf(" AND ticket_id = $%d", argIdx)
		args = append(args, filter.TicketID)
		argIdx++
	}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		query += fmt.Sprintf(" AND status = ANY($%d)", argIdx)
		args = append(args, pq.Array(statuses))
		argIdx++
	}

	query += " ORDER BY created_at ASC, id ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}

	return s.selectJobs(ctx, query, args...)
}

func (s *Store) DueJobs(ctx context.Context, now time.Time, limit int) ([]domain.NotificationJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM notification_jobs
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY urgency ASC, scheduled_at ASC, created_at ASC, id ASC
	`
	args := []interface{}{string(domain.JobStatusPending), now}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}
	return s.selectJobs(ctx, query, args...)
}

// Apply runs the changeset in one transaction. A CAS miss on any row rolls
// the whole transaction back.
func (s *Store) Apply(ctx context.Context, cs storage.Changeset) error {
	if cs.Empty() {
		return nil
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, u := range cs.Tickets {
			if err := updateTicket(ctx, tx, u); err != nil {
				return err
			}
		}
		for _, u := range cs.Workers {
			if err := updateWorker(ctx, tx, u); err != nil {
				return err
			}
		}
		for _, u := range cs.Jobs {
			if err := updateJob(ctx, tx, u); err != nil {
				return err
			}
		}
		for _, j := range cs.NewJobs {
			if err := insertJob(ctx, tx, j); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) FindByNationalID(ctx context.Context, nationalID string) (domain.Customer, error) {
	return s.getCustomer(ctx, `SELECT * FROM customers WHERE national_id = $1`, nationalID)
}

func (s *Store) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	return s.getCustomer(ctx, `SELECT * FROM customers WHERE id = $1`, id)
}

// SaveCustomer inserts or replaces a customer. Used for seeding the directory.
func (s *Store) SaveCustomer(ctx context.Context, c domain.Customer) error {
	query := `
		INSERT INTO customers (id, national_id, first_name, last_name, vip, phone, email, telegram_chat_id, push_token)
		VALUES (:id, :national_id, :first_name, :last_name, :vip, :phone, :email, :telegram_chat_id, :push_token)
		ON CONFLICT (id) DO UPDATE SET
			national_id = EXCLUDED.national_id,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			vip = EXCLUDED.vip,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			telegram_chat_id = EXCLUDED.telegram_chat_id,
			push_token = EXCLUDED.push_token
	`
	row := customerRow{
		ID:             c.ID,
		NationalID:     c.NationalID,
		FirstName:      c.FirstName,
		LastName:       c.LastName,
		VIP:            c.VIP,
		Phone:          c.Phone,
		Email:          c.Email,
		TelegramChatID: c.TelegramChatID,
		PushToken:      c.PushToken,
	}
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save customer: %w", err)
	}
	return nil
}

func (s *Store) getCustomer(ctx context.Context, query string, arg string) (domain.Customer, error) {
	var row customerRow
	if err := s.db.GetContext(ctx, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.ErrCustomerNotFound
		}
		return domain.Customer{}, fmt.Errorf("failed to get customer: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) selectJobs(ctx context.Context, query string, args ...interface{}) ([]domain.NotificationJob, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select jobs: %w", err)
	}
	jobs := make([]domain.NotificationJob, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.toDomain())
	}
	return jobs, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Error("Failed to rollback transaction",
				slog.Any("error", rbErr),
			)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
