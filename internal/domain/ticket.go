package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusNew        TicketStatus = "new"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusEscalated  TicketStatus = "escalated"
	TicketStatusClosed     TicketStatus = "closed"
)

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusNew, TicketStatusInProgress, TicketStatusEscalated, TicketStatusClosed:
		return true
	}
	return false
}

var allowedTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusNew:        {TicketStatusInProgress, TicketStatusEscalated, TicketStatusClosed},
	TicketStatusInProgress: {TicketStatusEscalated, TicketStatusClosed},
	TicketStatusEscalated:  {TicketStatusClosed},
	TicketStatusClosed:     {TicketStatusInProgress},
}

// CanTransition reports whether a ticket may move from current to next.
// Statuses only move forward; closed -> in_progress is the explicit reopen.
func CanTransition(current, next TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Ticket is the snapshot of a support request the SLA engine works from.
type Ticket struct {
	ID              string
	ProductID       string
	ModuleID        string
	IssueType       string
	Title           string
	Status          TicketStatus
	AssignedTo      *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	FirstResponseAt *time.Time
	ClosedAt        *time.Time
	SLAAttachedAt   *time.Time
}

// IsOpen reports whether the ticket still runs SLA clocks.
func (t *Ticket) IsOpen() bool {
	return t.Status != TicketStatusClosed
}
