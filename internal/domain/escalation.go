package domain

import "time"

// EscalationReason explains why a ticket was escalated.
type EscalationReason string

const (
	EscalationReasonBreach    EscalationReason = "sla_breach"
	EscalationReasonThreshold EscalationReason = "sla_escalation_threshold"
	EscalationReasonManual    EscalationReason = "manual"
)

// EscalationEvent records a ticket's move to escalated.
type EscalationEvent struct {
	ID              string
	TicketID        string
	TimerID         *string
	EscalationLevel EscalationLevel
	Reason          EscalationReason
	PreviousStatus  TicketStatus
	TriggeredBy     *string
	Timestamp       time.Time
}
