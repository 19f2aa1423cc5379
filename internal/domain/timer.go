package domain

import "time"

// TimerType distinguishes the two SLA clocks of a ticket.
type TimerType string

const (
	TimerTypeResponse   TimerType = "response"
	TimerTypeResolution TimerType = "resolution"
)

// Valid reports whether t is a known timer type.
func (t TimerType) Valid() bool {
	return t == TimerTypeResponse || t == TimerTypeResolution
}

// TimerStatus enumerates timer lifecycle states.
type TimerStatus string

const (
	TimerStatusActive    TimerStatus = "active"
	TimerStatusPaused    TimerStatus = "paused"
	TimerStatusCompleted TimerStatus = "completed"
	TimerStatusBreached  TimerStatus = "breached"
)

// Valid reports whether s is a known timer status.
func (s TimerStatus) Valid() bool {
	switch s {
	case TimerStatusActive, TimerStatusPaused, TimerStatusCompleted, TimerStatusBreached:
		return true
	}
	return false
}

// Timer is a materialised SLA clock. SLA values are copied from the
// configuration at creation so later edits never move a running timer.
type Timer struct {
	ID                string
	TicketID          string
	ConfigID          string
	Type              TimerType
	Status            TimerStatus
	Priority          PriorityLevel
	LimitMinutes      int
	EscalationMinutes *int
	EscalationLevel   EscalationLevel
	BusinessHoursOnly bool
	StartedAt         time.Time
	Deadline          time.Time
	EscalationAt      *time.Time
	PausedAt          *time.Time
	PausedTotal       time.Duration
	CompletedAt       *time.Time
	BreachedAt        *time.Time
	Version           int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsOpen reports whether the timer has not been completed yet.
func (t *Timer) IsOpen() bool {
	return t.Status != TimerStatusCompleted
}

// TimerState is the live evaluation of a timer at an instant.
type TimerState struct {
	RemainingMinutes    int64
	IsBreached          bool
	IsWarning           bool
	IsEscalationWarning bool
	IsEscalationNeeded  bool
	Priority            PriorityLevel
}
