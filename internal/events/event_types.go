package events

import (
	"time"

	"github.com/spec-kit/itsm-sla/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketEscalated     EventType = "ticket_escalated"
	EventTimersAttached      EventType = "sla_timers_attached"
	EventTimerBreached       EventType = "sla_timer_breached"
	EventTimerCompleted      EventType = "sla_timer_completed"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type domain.ActorType `json:"type"`
	ID   *string          `json:"id,omitempty"`
}

// SystemActor is the actor of engine-driven events.
var SystemActor = Actor{Type: domain.ActorTypeSystem}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	ProductID string `json:"product_id"`
	ModuleID  string `json:"module_id"`
	IssueType string `json:"issue_type"`
	HasSLA    bool   `json:"has_sla"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Comment   string              `json:"comment,omitempty"`
}

// TicketEscalatedPayload carries what the escalation sink delivers.
type TicketEscalatedPayload struct {
	EscalationID    string                  `json:"escalation_id"`
	TimerID         *string                 `json:"timer_id,omitempty"`
	EscalationLevel domain.EscalationLevel  `json:"escalation_level"`
	Reason          domain.EscalationReason `json:"reason"`
	PreviousStatus  domain.TicketStatus     `json:"previous_status"`
}

// TimersAttachedPayload payload.
type TimersAttachedPayload struct {
	ConfigID           string               `json:"config_id"`
	Priority           domain.PriorityLevel `json:"priority"`
	ResponseDeadline   time.Time            `json:"response_deadline"`
	ResolutionDeadline time.Time            `json:"resolution_deadline"`
}

// TimerPayload describes a single timer transition.
type TimerPayload struct {
	TimerID   string               `json:"timer_id"`
	TimerType domain.TimerType     `json:"timer_type"`
	Status    domain.TimerStatus   `json:"status"`
	Priority  domain.PriorityLevel `json:"priority"`
	Deadline  time.Time            `json:"deadline"`
}
