package domain

import "time"

// TicketChangeType captures what changed in a history entry.
type TicketChangeType string

const (
	ChangeTypeStatus        TicketChangeType = "STATUS_CHANGE"
	ChangeTypeFirstResponse TicketChangeType = "FIRST_RESPONSE"
	ChangeTypeTimer         TicketChangeType = "TIMER_CHANGE"
)

// ActorType indicates who caused a change.
type ActorType string

const (
	ActorTypeAgent  ActorType = "AGENT"
	ActorTypeSystem ActorType = "SYSTEM"
)

// TicketHistory is an immutable audit trail entry.
type TicketHistory struct {
	ID            string
	TicketID      string
	ChangedByType ActorType
	ChangedByID   *string
	ChangeType    TicketChangeType
	OldValue      map[string]any
	NewValue      map[string]any
	CreatedAt     time.Time
}
