package dto

import (
	"time"

	"github.com/spec-kit/itsm-sla/internal/domain"
)

// CreateTicketRequest payload. ID is optional and lets the ticket system keep its own ids.
type CreateTicketRequest struct {
	ID         string  `json:"id"`
	ProductID  string  `json:"product_id"`
	ModuleID   string  `json:"module_id"`
	IssueType  string  `json:"issue_type"`
	Title      string  `json:"title"`
	AssignedTo *string `json:"assigned_to"`
}

// UpdateStatusRequest payload.
type UpdateStatusRequest struct {
	Status  domain.TicketStatus `json:"status"`
	Comment string              `json:"comment"`
}

// TicketResponse describes a ticket snapshot.
type TicketResponse struct {
	ID              string              `json:"id"`
	ProductID       string              `json:"product_id"`
	ModuleID        string              `json:"module_id"`
	IssueType       string              `json:"issue_type"`
	Title           string              `json:"title,omitempty"`
	Status          domain.TicketStatus `json:"status"`
	AssignedTo      *string             `json:"assigned_to"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	FirstResponseAt *time.Time          `json:"first_response_at"`
	ClosedAt        *time.Time          `json:"closed_at"`
}

// TicketDetailResponse is a ticket with its SLA status.
type TicketDetailResponse struct {
	TicketResponse
	SLA TicketSLAResponse `json:"sla"`
}

// EscalationResponse is one escalation event.
type EscalationResponse struct {
	ID              string                  `json:"id"`
	TicketID        string                  `json:"ticket_id"`
	TimerID         *string                 `json:"timer_id"`
	EscalationLevel domain.EscalationLevel  `json:"escalation_level"`
	Reason          domain.EscalationReason `json:"reason"`
	PreviousStatus  domain.TicketStatus     `json:"previous_status"`
	TriggeredBy     *string                 `json:"triggered_by"`
	Timestamp       time.Time               `json:"timestamp"`
}

// HistoryResponse is one audit trail entry.
type HistoryResponse struct {
	ID            string                  `json:"id"`
	ChangedByType domain.ActorType        `json:"changed_by_type"`
	ChangedByID   *string                 `json:"changed_by_id"`
	ChangeType    domain.TicketChangeType `json:"change_type"`
	OldValue      map[string]any          `json:"old_value"`
	NewValue      map[string]any          `json:"new_value"`
	CreatedAt     time.Time               `json:"created_at"`
}
