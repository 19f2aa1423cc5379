package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/itsm-sla/internal/domain"
)

// SlaConfigFilter narrows configuration listings.
type SlaConfigFilter struct {
	ProductID string
	ModuleID  string
	Active    *bool
}

// SlaConfigRepository persists SLA rules keyed by (product, module, issue).
type SlaConfigRepository interface {
	Create(ctx context.Context, config *domain.SlaConfiguration) error
	Update(ctx context.Context, config *domain.SlaConfiguration) error
	// Upsert creates or overwrites the rule with the same key; created reports which happened.
	Upsert(ctx context.Context, config *domain.SlaConfiguration) (created bool, err error)
	GetByID(ctx context.Context, id string) (*domain.SlaConfiguration, error)
	// FindByKey returns pgx.ErrNoRows when no rule exists for the triple, active or not.
	FindByKey(ctx context.Context, key domain.ConfigKey) (*domain.SlaConfiguration, error)
	List(ctx context.Context, filter SlaConfigFilter) ([]domain.SlaConfiguration, error)
}

type slaConfigRepository struct {
	pool *pgxpool.Pool
}

// NewSlaConfigRepository builds repository.
func NewSlaConfigRepository(pool *pgxpool.Pool) SlaConfigRepository {
	return &slaConfigRepository{pool: pool}
}

const slaConfigColumns = `id, product_id, module_id, issue_name, priority_level, response_time_minutes,
       resolution_time_minutes, escalation_time_minutes, escalation_level, business_hours_only,
       is_active, created_at, updated_at`

func (r *slaConfigRepository) Create(ctx context.Context, config *domain.SlaConfiguration) error {
	const query = `
        INSERT INTO sla_configurations (product_id, module_id, issue_name, priority_level, response_time_minutes,
            resolution_time_minutes, escalation_time_minutes, escalation_level, business_hours_only, is_active)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, query,
		config.ProductID,
		config.ModuleID,
		config.IssueName,
		config.PriorityLevel,
		config.ResponseTimeMinutes,
		config.ResolutionTimeMinutes,
		config.EscalationTimeMinutes,
		config.EscalationLevel,
		config.BusinessHoursOnly,
		config.IsActive,
	).Scan(&config.ID, &config.CreatedAt, &config.UpdatedAt)
	return mapPgError(err)
}

func (r *slaConfigRepository) Update(ctx context.Context, config *domain.SlaConfiguration) error {
	const query = `
        UPDATE sla_configurations SET product_id=$1, module_id=$2, issue_name=$3, priority_level=$4,
            response_time_minutes=$5, resolution_time_minutes=$6, escalation_time_minutes=$7,
            escalation_level=$8, business_hours_only=$9, is_active=$10, updated_at=NOW()
        WHERE id=$11
        RETURNING updated_at`
	err := r.pool.QueryRow(ctx, query,
		config.ProductID,
		config.ModuleID,
		config.IssueName,
		config.PriorityLevel,
		config.ResponseTimeMinutes,
		config.ResolutionTimeMinutes,
		config.EscalationTimeMinutes,
		config.EscalationLevel,
		config.BusinessHoursOnly,
		config.IsActive,
		config.ID,
	).Scan(&config.UpdatedAt)
	return mapPgError(err)
}

func (r *slaConfigRepository) Upsert(ctx context.Context, config *domain.SlaConfiguration) (bool, error) {
	const query = `
        INSERT INTO sla_configurations (product_id, module_id, issue_name, priority_level, response_time_minutes,
            resolution_time_minutes, escalation_time_minutes, escalation_level, business_hours_only, is_active)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (product_id, module_id, issue_name) DO UPDATE SET
            priority_level=EXCLUDED.priority_level,
            response_time_minutes=EXCLUDED.response_time_minutes,
            resolution_time_minutes=EXCLUDED.resolution_time_minutes,
            escalation_time_minutes=EXCLUDED.escalation_time_minutes,
            escalation_level=EXCLUDED.escalation_level,
            business_hours_only=EXCLUDED.business_hours_only,
            is_active=EXCLUDED.is_active,
            updated_at=NOW()
        RETURNING id, created_at, updated_at, (xmax = 0) AS inserted`
	var created bool
	err := r.pool.QueryRow(ctx, query,
		config.ProductID,
		config.ModuleID,
		config.IssueName,
		config.PriorityLevel,
		config.ResponseTimeMinutes,
		config.ResolutionTimeMinutes,
		config.EscalationTimeMinutes,
		config.EscalationLevel,
		config.BusinessHoursOnly,
		config.IsActive,
	).Scan(&config.ID, &config.CreatedAt, &config.UpdatedAt, &created)
	return created, err
}

func (r *slaConfigRepository) GetByID(ctx context.Context, id string) (*domain.SlaConfiguration, error) {
	query := `SELECT ` + slaConfigColumns + ` FROM sla_configurations WHERE id=$1`
	return scanSlaConfig(r.pool.QueryRow(ctx, query, id))
}

func (r *slaConfigRepository) FindByKey(ctx context.Context, key domain.ConfigKey) (*domain.SlaConfiguration, error) {
	query := `SELECT ` + slaConfigColumns + ` FROM sla_configurations
        WHERE product_id=$1 AND module_id=$2 AND issue_name=$3`
	return scanSlaConfig(r.pool.QueryRow(ctx, query, key.ProductID, key.ModuleID, key.IssueName))
}

func (r *slaConfigRepository) List(ctx context.Context, filter SlaConfigFilter) ([]domain.SlaConfiguration, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.ProductID != "" {
		args = append(args, filter.ProductID)
		clauses = append(clauses, fmt.Sprintf("product_id=$%d", len(args)))
	}
	if filter.ModuleID != "" {
		args = append(args, filter.ModuleID)
		clauses = append(clauses, fmt.Sprintf("module_id=$%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		clauses = append(clauses, fmt.Sprintf("is_active=$%d", len(args)))
	}
	query := `SELECT ` + slaConfigColumns + ` FROM sla_configurations`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY product_id, module_id, issue_name`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.SlaConfiguration
	for rows.Next() {
		config, err := scanSlaConfig(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *config)
	}
	return result, rows.Err()
}

func scanSlaConfig(row pgx.Row) (*domain.SlaConfiguration, error) {
	var config domain.SlaConfiguration
	if err := row.Scan(
		&config.ID,
		&config.ProductID,
		&config.ModuleID,
		&config.IssueName,
		&config.PriorityLevel,
		&config.ResponseTimeMinutes,
		&config.ResolutionTimeMinutes,
		&config.EscalationTimeMinutes,
		&config.EscalationLevel,
		&config.BusinessHoursOnly,
		&config.IsActive,
		&config.CreatedAt,
		&config.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &config, nil
}
