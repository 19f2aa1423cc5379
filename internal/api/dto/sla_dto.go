package dto

import (
	"time"

	"github.com/spec-kit/itsm-sla/internal/domain"
)

// NoSLALabel is what dashboards show for a ticket without a matching rule.
const NoSLALabel = "No SLA"

// TimerResponse is the per-timer dashboard shape. Timestamps are RFC 3339.
type TimerResponse struct {
	TimerID                  string               `json:"timer_id"`
	TicketID                 string               `json:"ticket_id"`
	TimerType                domain.TimerType     `json:"timer_type"`
	Status                   domain.TimerStatus   `json:"status"`
	RemainingMinutes         int64                `json:"remaining_minutes"`
	IsBreached               bool                 `json:"is_breached"`
	IsWarning                bool                 `json:"is_warning"`
	IsEscalationNeeded       bool                 `json:"is_escalation_needed"`
	IsEscalationWarning      bool                 `json:"is_escalation_warning"`
	PriorityLevel            domain.PriorityLevel `json:"priority_level"`
	Deadline                 string               `json:"deadline"`
	EscalationAt             *string              `json:"escalation_at,omitempty"`
	TimeLimitMinutes         int                  `json:"time_limit_minutes"`
	PausedAccumulatedMinutes int64                `json:"paused_accumulated_minutes"`
	BreachedAt               *string              `json:"breached_at"`
	BusinessHoursOnly        bool                 `json:"business_hours_only"`
}

// TicketSLAResponse is the SLA picture of one ticket.
type TicketSLAResponse struct {
	TicketID    string          `json:"ticket_id"`
	HasSLA      bool            `json:"has_sla"`
	Label       string          `json:"label,omitempty"`
	EvaluatedAt string          `json:"evaluated_at"`
	Timers      []TimerResponse `json:"timers"`
}

// SlaConfigRequest payload for create and update.
type SlaConfigRequest struct {
	ProductID             string                 `json:"product_id"`
	ModuleID              string                 `json:"module_id"`
	IssueName             string                 `json:"issue_name"`
	PriorityLevel         domain.PriorityLevel   `json:"priority_level"`
	ResponseTimeMinutes   int                    `json:"response_time_minutes"`
	ResolutionTimeMinutes int                    `json:"resolution_time_minutes"`
	EscalationTimeMinutes *int                   `json:"escalation_time_minutes"`
	EscalationLevel       domain.EscalationLevel `json:"escalation_level"`
	BusinessHoursOnly     bool                   `json:"business_hours_only"`
	IsActive              *bool                  `json:"is_active"`
}

// SetActiveRequest payload.
type SetActiveRequest struct {
	IsActive *bool `json:"is_active"`
}

// SlaConfigResponse describes an SLA rule.
type SlaConfigResponse struct {
	ID                    string                 `json:"id"`
	ProductID             string                 `json:"product_id"`
	ModuleID              string                 `json:"module_id"`
	IssueName             string                 `json:"issue_name"`
	PriorityLevel         domain.PriorityLevel   `json:"priority_level"`
	ResponseTimeMinutes   int                    `json:"response_time_minutes"`
	ResolutionTimeMinutes int                    `json:"resolution_time_minutes"`
	EscalationTimeMinutes *int                   `json:"escalation_time_minutes"`
	EscalationLevel       domain.EscalationLevel `json:"escalation_level"`
	BusinessHoursOnly     bool                   `json:"business_hours_only"`
	IsActive              bool                   `json:"is_active"`
	CreatedAt             time.Time              `json:"created_at"`
	UpdatedAt             time.Time              `json:"updated_at"`
}
