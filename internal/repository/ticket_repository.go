package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/itsm-sla/internal/domain"
)

// TicketRepository is the ticket store the SLA engine reads snapshots from and writes status to.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	// UpdateStatus moves the ticket only if its current status is still from; otherwise ErrConflict.
	UpdateStatus(ctx context.Context, id string, from, to domain.TicketStatus, at time.Time) (*domain.Ticket, error)
	MarkFirstResponse(ctx context.Context, id string, at time.Time) error
	MarkSLAAttached(ctx context.Context, id string, at time.Time) error
	// Escalate flips the ticket to escalated and stores the event in one unit;
	// ErrConflict when the ticket is no longer in event.PreviousStatus.
	Escalate(ctx context.Context, event *domain.EscalationEvent) error
	ListEscalations(ctx context.Context, ticketID string) ([]domain.EscalationEvent, error)
	// ListPendingSLA returns open tickets that never had timers attached.
	ListPendingSLA(ctx context.Context, limit int) ([]domain.Ticket, error)
	// ListClosedSince returns tickets closed at or after since, oldest first.
	ListClosedSince(ctx context.Context, since time.Time, limit int) ([]domain.Ticket, error)
}

// querier is the slice of *pgxpool.Pool the ticket store uses.
type querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ querier = (*pgxpool.Pool)(nil)

type ticketRepository struct {
	pool querier
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, product_id, module_id, issue_type, title, status, assigned_to,
       created_at, updated_at, first_response_at, closed_at, sla_attached_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (id, product_id, module_id, issue_type, title, status, assigned_to, created_at)
        VALUES (COALESCE(NULLIF($1, ''), gen_random_uuid()::text),$2,$3,$4,$5,$6,$7,COALESCE($8, NOW()))
        RETURNING id, created_at, updated_at`
	var createdAt *time.Time
	if !ticket.CreatedAt.IsZero() {
		createdAt = &ticket.CreatedAt
	}
	err := r.pool.QueryRow(ctx, query,
		ticket.ID,
		ticket.ProductID,
		ticket.ModuleID,
		ticket.IssueType,
		ticket.Title,
		ticket.Status,
		ticket.AssignedTo,
		createdAt,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
	return mapPgError(err)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

func (r *ticketRepository) UpdateStatus(ctx context.Context, id string, from, to domain.TicketStatus, at time.Time) (*domain.Ticket, error) {
	query := `
        UPDATE tickets SET status=$1,
            closed_at = CASE WHEN $1 = 'closed' THEN $4::timestamptz ELSE NULL END,
            updated_at=$4
        WHERE id=$2 AND status=$3
        RETURNING ` + ticketColumns
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, to, id, from, at))
	if err == pgx.ErrNoRows {
		return nil, r.conflictOrMissing(ctx, id)
	}
	return ticket, err
}

func (r *ticketRepository) MarkFirstResponse(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE tickets SET first_response_at=COALESCE(first_response_at, $1), updated_at=$1 WHERE id=$2`
	cmd, err := r.pool.Exec(ctx, query, at, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) MarkSLAAttached(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE tickets SET sla_attached_at=COALESCE(sla_attached_at, $1) WHERE id=$2`
	cmd, err := r.pool.Exec(ctx, query, at, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) Escalate(ctx context.Context, event *domain.EscalationEvent) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	cmd, err := tx.Exec(ctx,
		`UPDATE tickets SET status=$1, updated_at=$2 WHERE id=$3 AND status=$4`,
		domain.TicketStatusEscalated, event.Timestamp, event.TicketID, event.PreviousStatus)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		if err := tx.Rollback(ctx); err != nil {
			return err
		}
		return r.conflictOrMissing(ctx, event.TicketID)
	}

	const insert = `
        INSERT INTO escalation_events (ticket_id, timer_id, escalation_level, reason, previous_status, triggered_by, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id`
	if err := tx.QueryRow(ctx, insert,
		event.TicketID,
		event.TimerID,
		event.EscalationLevel,
		event.Reason,
		event.PreviousStatus,
		event.TriggeredBy,
		event.Timestamp,
	).Scan(&event.ID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *ticketRepository) ListEscalations(ctx context.Context, ticketID string) ([]domain.EscalationEvent, error) {
	const query = `
        SELECT id, ticket_id, timer_id, escalation_level, reason, previous_status, triggered_by, created_at
        FROM escalation_events WHERE ticket_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.EscalationEvent
	for rows.Next() {
		var ev domain.EscalationEvent
		if err := rows.Scan(
			&ev.ID,
			&ev.TicketID,
			&ev.TimerID,
			&ev.EscalationLevel,
			&ev.Reason,
			&ev.PreviousStatus,
			&ev.TriggeredBy,
			&ev.Timestamp,
		); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

func (r *ticketRepository) ListPendingSLA(ctx context.Context, limit int) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE sla_attached_at IS NULL AND status <> 'closed'
        ORDER BY created_at ASC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) ListClosedSince(ctx context.Context, since time.Time, limit int) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE status = 'closed' AND closed_at >= $1
        ORDER BY closed_at ASC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, since, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) conflictOrMissing(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tickets WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return pgx.ErrNoRows
	}
	return ErrConflict
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.ProductID,
		&ticket.ModuleID,
		&ticket.IssueType,
		&ticket.Title,
		&ticket.Status,
		&ticket.AssignedTo,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.FirstResponseAt,
		&ticket.ClosedAt,
		&ticket.SLAAttachedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
