// Package legacy reads SLA rules from the legacy MySQL schema and imports them.
package legacy

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spec-kit/itsm-sla/internal/domain"
)

const selectConfigs = `
SELECT product_id, module_id, issue_name, priority_level,
       response_time_minutes, resolution_time_minutes, escalation_time_minutes,
       escalation_level, business_hours_only, is_active
FROM sla_configurations
ORDER BY product_id, module_id, issue_name`

// Reader loads rules from the legacy sla_configurations table.
type Reader struct {
	db *sql.DB
}

// NewReader wraps db.
func NewReader(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// ReadConfigs returns every legacy rule as stored, without validation.
func (r *Reader) ReadConfigs(ctx context.Context) ([]domain.SlaConfiguration, error) {
	rows, err := r.db.QueryContext(ctx, selectConfigs)
	if err != nil {
		return nil, fmt.Errorf("query legacy sla configurations: %w", err)
	}
	defer rows.Close()

	var configs []domain.SlaConfiguration
	for rows.Next() {
		var (
			config     domain.SlaConfiguration
			priority   string
			escalation sql.NullInt32
			level      sql.NullString
		)
		if err := rows.Scan(
			&config.ProductID,
			&config.ModuleID,
			&config.IssueName,
			&priority,
			&config.ResponseTimeMinutes,
			&config.ResolutionTimeMinutes,
			&escalation,
			&level,
			&config.BusinessHoursOnly,
			&config.IsActive,
		); err != nil {
			return nil, fmt.Errorf("scan legacy sla configuration: %w", err)
		}
		config.PriorityLevel = domain.PriorityLevel(priority)
		if escalation.Valid {
			minutes := int(escalation.Int32)
			config.EscalationTimeMinutes = &minutes
		}
		if level.Valid {
			config.EscalationLevel = domain.EscalationLevel(level.String)
		}
		configs = append(configs, config)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate legacy sla configurations: %w", err)
	}
	return configs, nil
}
