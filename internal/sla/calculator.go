package sla

import (
	"errors"
	"fmt"
	"time"

	"github.com/spec-kit/itsm-sla/internal/domain"
)

// DefaultWarningThreshold is the fixed warning window before a deadline.
const DefaultWarningThreshold = 30 * time.Minute

// ErrInvalidInput marks malformed calculator input: a missing anchor timestamp or non-positive budgets.
var ErrInvalidInput = errors.New("invalid sla input")

// Calculator is the pure deadline arithmetic of the engine. It holds no mutable state.
type Calculator struct {
	business Calendar
	warning  time.Duration
}

// NewCalculator builds a calculator. business may be nil, in which case business-hours-only
// rules are computed around the clock.
func NewCalculator(business Calendar, warningThreshold time.Duration) *Calculator {
	if warningThreshold <= 0 {
		warningThreshold = DefaultWarningThreshold
	}
	return &Calculator{business: business, warning: warningThreshold}
}

// WarningThreshold returns the configured warning window.
func (c *Calculator) WarningThreshold() time.Duration {
	return c.warning
}

func (c *Calculator) calendarFor(businessHoursOnly bool) Calendar {
	if businessHoursOnly && c.business != nil {
		return c.business
	}
	return AlwaysOpen{}
}

// NewTimers materialises the response and resolution timers of ticket under config.
func (c *Calculator) NewTimers(ticket *domain.Ticket, config *domain.SlaConfiguration) ([]*domain.Timer, error) {
	if ticket == nil || ticket.CreatedAt.IsZero() {
		return nil, fmt.Errorf("%w: ticket created_at is required", ErrInvalidInput)
	}
	if config == nil || config.ResponseTimeMinutes <= 0 || config.ResolutionTimeMinutes <= 0 {
		return nil, fmt.Errorf("%w: response and resolution minutes must be positive", ErrInvalidInput)
	}
	if esc := config.EscalationTimeMinutes; esc != nil && (*esc <= 0 || *esc >= config.ResolutionTimeMinutes) {
		return nil, fmt.Errorf("%w: escalation minutes %d outside (0, %d)", ErrInvalidInput, *esc, config.ResolutionTimeMinutes)
	}

	cal := c.calendarFor(config.BusinessHoursOnly)
	start := ticket.CreatedAt
	base := domain.Timer{
		TicketID:          ticket.ID,
		ConfigID:          config.ID,
		Status:            domain.TimerStatusActive,
		Priority:          config.PriorityLevel,
		BusinessHoursOnly: config.BusinessHoursOnly,
		StartedAt:         start,
	}

	response := base
	response.Type = domain.TimerTypeResponse
	response.LimitMinutes = config.ResponseTimeMinutes
	response.Deadline = cal.Add(start, minutes(config.ResponseTimeMinutes))

	resolution := base
	resolution.Type = domain.TimerTypeResolution
	resolution.LimitMinutes = config.ResolutionTimeMinutes
	resolution.Deadline = cal.Add(start, minutes(config.ResolutionTimeMinutes))
	resolution.EscalationLevel = config.EscalationLevel
	if esc := config.EscalationTimeMinutes; esc != nil {
		value := *esc
		at := cal.Add(start, minutes(config.ResolutionTimeMinutes-value))
		resolution.EscalationMinutes = &value
		resolution.EscalationAt = &at
	}

	return []*domain.Timer{&response, &resolution}, nil
}

// ComputeTimerState evaluates a ticket against config for one timer type without
// materialising anything.
func (c *Calculator) ComputeTimerState(ticket *domain.Ticket, config *domain.SlaConfiguration, timerType domain.TimerType, now time.Time) (domain.TimerState, error) {
	if !timerType.Valid() {
		return domain.TimerState{}, fmt.Errorf("%w: unknown timer type %q", ErrInvalidInput, timerType)
	}
	timers, err := c.NewTimers(ticket, config)
	if err != nil {
		return domain.TimerState{}, err
	}
	for _, timer := range timers {
		if timer.Type == timerType {
			return c.State(timer, now), nil
		}
	}
	return domain.TimerState{}, fmt.Errorf("%w: no %s timer", ErrInvalidInput, timerType)
}

// EvaluatedAt is the instant a timer is measured at: paused timers are frozen at the
// pause, completed timers at completion.
func EvaluatedAt(timer *domain.Timer, now time.Time) time.Time {
	switch {
	case timer.Status == domain.TimerStatusCompleted && timer.CompletedAt != nil:
		return *timer.CompletedAt
	case timer.Status == domain.TimerStatusPaused && timer.PausedAt != nil:
		return *timer.PausedAt
	}
	return now
}

// State evaluates a materialised timer at now.
func (c *Calculator) State(timer *domain.Timer, now time.Time) domain.TimerState {
	at := EvaluatedAt(timer, now)
	cal := c.calendarFor(timer.BusinessHoursOnly)

	state := domain.TimerState{
		RemainingMinutes: floorMinutes(cal.Between(at, timer.Deadline)),
		Priority:         timer.Priority,
	}
	if timer.Status == domain.TimerStatusCompleted {
		return state
	}

	state.IsBreached = timer.Status == domain.TimerStatusBreached || state.RemainingMinutes <= 0
	state.IsWarning = !state.IsBreached && state.RemainingMinutes > 0 && state.RemainingMinutes <= c.warningMinutes()

	if timer.Type != domain.TimerTypeResolution {
		return state
	}
	state.IsEscalationNeeded = state.IsBreached
	if timer.EscalationAt != nil {
		if !at.Before(*timer.EscalationAt) {
			state.IsEscalationNeeded = true
		} else if !state.IsEscalationNeeded {
			state.IsEscalationWarning = floorMinutes(cal.Between(at, *timer.EscalationAt)) <= c.warningMinutes()
		}
	}
	return state
}

// Overdue reports whether timer has no whole minute left before its deadline at the given
// instant, measured on the timer's own calendar.
func (c *Calculator) Overdue(timer *domain.Timer, at time.Time) bool {
	return floorMinutes(c.calendarFor(timer.BusinessHoursOnly).Between(at, timer.Deadline)) <= 0
}

// EscalationReason names why an escalation-needed timer fires.
func EscalationReason(state domain.TimerState) domain.EscalationReason {
	if state.IsBreached {
		return domain.EscalationReasonBreach
	}
	return domain.EscalationReasonThreshold
}

func (c *Calculator) warningMinutes() int64 {
	return int64(c.warning / time.Minute)
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

// floorMinutes rounds toward negative infinity so one second overdue reads as -1.
func floorMinutes(d time.Duration) int64 {
	m := int64(d / time.Minute)
	if d%time.Minute < 0 {
		m--
	}
	return m
}
