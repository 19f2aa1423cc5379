package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/itsm-sla/internal/domain"
)

// TimerFilter narrows open-timer listings. Zero values match everything.
type TimerFilter struct {
	TicketID string
	Status   domain.TimerStatus
	Type     domain.TimerType
	Priority domain.PriorityLevel
	Limit    int
}

// TimerRepository persists materialised SLA timers.
type TimerRepository interface {
	// CreateBatch stores all timers of one ticket or none of them.
	CreateBatch(ctx context.Context, timers []*domain.Timer) error
	GetByID(ctx context.Context, id string) (*domain.Timer, error)
	ListByTicket(ctx context.Context, ticketID string) ([]domain.Timer, error)
	// Update writes timer if its version is unchanged and bumps the version; otherwise ErrConflict.
	Update(ctx context.Context, timer *domain.Timer) error
	// ListOpen returns timers that are not completed.
	ListOpen(ctx context.Context, filter TimerFilter) ([]domain.Timer, error)
}

type timerRepository struct {
	pool *pgxpool.Pool
}

// NewTimerRepository builds repository.
func NewTimerRepository(pool *pgxpool.Pool) TimerRepository {
	return &timerRepository{pool: pool}
}

const timerColumns = `id, ticket_id, config_id, timer_type, status, priority_level, limit_minutes,
       escalation_minutes, escalation_level, business_hours_only, started_at, deadline, escalation_at,
       paused_at, paused_total_seconds, completed_at, breached_at, version, created_at, updated_at`

func (r *timerRepository) CreateBatch(ctx context.Context, timers []*domain.Timer) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const query = `
        INSERT INTO sla_timers (ticket_id, config_id, timer_type, status, priority_level, limit_minutes,
            escalation_minutes, escalation_level, business_hours_only, started_at, deadline, escalation_at,
            paused_total_seconds, version)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,0,1)
        RETURNING id, version, created_at, updated_at`
	for _, timer := range timers {
		if err := tx.QueryRow(ctx, query,
			timer.TicketID,
			timer.ConfigID,
			timer.Type,
			timer.Status,
			timer.Priority,
			timer.LimitMinutes,
			timer.EscalationMinutes,
			timer.EscalationLevel,
			timer.BusinessHoursOnly,
			timer.StartedAt,
			timer.Deadline,
			timer.EscalationAt,
		).Scan(&timer.ID, &timer.Version, &timer.CreatedAt, &timer.UpdatedAt); err != nil {
			return mapPgError(err)
		}
	}
	return tx.Commit(ctx)
}

func (r *timerRepository) GetByID(ctx context.Context, id string) (*domain.Timer, error) {
	query := `SELECT ` + timerColumns + ` FROM sla_timers WHERE id=$1`
	return scanTimer(r.pool.QueryRow(ctx, query, id))
}

func (r *timerRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.Timer, error) {
	query := `SELECT ` + timerColumns + ` FROM sla_timers WHERE ticket_id=$1
        ORDER BY CASE timer_type WHEN 'response' THEN 0 ELSE 1 END`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTimers(rows)
}

func (r *timerRepository) Update(ctx context.Context, timer *domain.Timer) error {
	const query = `
        UPDATE sla_timers SET status=$1, deadline=$2, escalation_at=$3, paused_at=$4,
            paused_total_seconds=$5, completed_at=$6, breached_at=$7,
            version=version+1, updated_at=NOW()
        WHERE id=$8 AND version=$9
        RETURNING version, updated_at`
	err := r.pool.QueryRow(ctx, query,
		timer.Status,
		timer.Deadline,
		timer.EscalationAt,
		timer.PausedAt,
		int64(timer.PausedTotal/time.Second),
		timer.CompletedAt,
		timer.BreachedAt,
		timer.ID,
		timer.Version,
	).Scan(&timer.Version, &timer.UpdatedAt)
	if err == pgx.ErrNoRows {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM sla_timers WHERE id=$1)`, timer.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return pgx.ErrNoRows
		}
		return ErrConflict
	}
	return err
}

func (r *timerRepository) ListOpen(ctx context.Context, filter TimerFilter) ([]domain.Timer, error) {
	clauses := []string{"status <> 'completed'"}
	var args []any
	if filter.TicketID != "" {
		args = append(args, filter.TicketID)
		clauses = append(clauses, fmt.Sprintf("ticket_id=$%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		clauses = append(clauses, fmt.Sprintf("timer_type=$%d", len(args)))
	}
	if filter.Priority != "" {
		args = append(args, filter.Priority)
		clauses = append(clauses, fmt.Sprintf("priority_level=$%d", len(args)))
	}
	query := `SELECT ` + timerColumns + ` FROM sla_timers WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY deadline ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTimers(rows)
}

func scanTimer(row pgx.Row) (*domain.Timer, error) {
	var (
		timer        domain.Timer
		pausedTotalS int64
	)
	if err := row.Scan(
		&timer.ID,
		&timer.TicketID,
		&timer.ConfigID,
		&timer.Type,
		&timer.Status,
		&timer.Priority,
		&timer.LimitMinutes,
		&timer.EscalationMinutes,
		&timer.EscalationLevel,
		&timer.BusinessHoursOnly,
		&timer.StartedAt,
		&timer.Deadline,
		&timer.EscalationAt,
		&timer.PausedAt,
		&pausedTotalS,
		&timer.CompletedAt,
		&timer.BreachedAt,
		&timer.Version,
		&timer.CreatedAt,
		&timer.UpdatedAt,
	); err != nil {
		return nil, err
	}
	timer.PausedTotal = time.Duration(pausedTotalS) * time.Second
	return &timer, nil
}

func scanTimers(rows pgx.Rows) ([]domain.Timer, error) {
	var result []domain.Timer
	for rows.Next() {
		timer, err := scanTimer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *timer)
	}
	return result, rows.Err()
}
