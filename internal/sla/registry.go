package sla

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/itsm-sla/internal/domain"
	"github.com/spec-kit/itsm-sla/internal/events"
	"github.com/spec-kit/itsm-sla/internal/observability"
	"github.com/spec-kit/itsm-sla/internal/repository"
	apperrors "github.com/spec-kit/itsm-sla/pkg/util/errorutil"
)

// maxConflictRetries bounds how often a mutation re-reads a timer another writer changed.
const maxConflictRetries = 3

// ConfigLookup resolves the SLA rule for a ticket. A nil config with a nil error means no rule.
type ConfigLookup interface {
	FindConfig(ctx context.Context, key domain.ConfigKey) (*domain.SlaConfiguration, error)
}

// RegistryDependencies bundles collaborators of the registry.
type RegistryDependencies struct {
	Tickets    repository.TicketRepository
	Timers     repository.TimerRepository
	Configs    ConfigLookup
	Calculator *Calculator
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Registry owns the lifecycle of SLA timers. It is the only writer of timer status.
type Registry struct {
	tickets    repository.TicketRepository
	timers     repository.TimerRepository
	configs    ConfigLookup
	calc       *Calculator
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
	locks      *keyedMutex
}

// NewRegistry constructs the registry.
func NewRegistry(deps RegistryDependencies) *Registry {
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	calc := deps.Calculator
	if calc == nil {
		calc = NewCalculator(nil, DefaultWarningThreshold)
	}
	return &Registry{
		tickets:    deps.Tickets,
		timers:     deps.Timers,
		configs:    deps.Configs,
		calc:       calc,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        clock,
		locks:      newKeyedMutex(),
	}
}

// TimerView pairs a timer with its live evaluation.
type TimerView struct {
	Timer domain.Timer
	State domain.TimerState
}

// TicketSLA is the live SLA picture of one ticket. No timers means the ticket has no SLA.
type TicketSLA struct {
	TicketID    string
	EvaluatedAt time.Time
	Timers      []TimerView
}

// HasSLA reports whether any timer exists.
func (t *TicketSLA) HasSLA() bool {
	return len(t.Timers) > 0
}

// Timer returns the view of the given type, if present.
func (t *TicketSLA) Timer(timerType domain.TimerType) (TimerView, bool) {
	for _, view := range t.Timers {
		if view.Timer.Type == timerType {
			return view, true
		}
	}
	return TimerView{}, false
}

// ActiveFilter narrows ListActive. Breached and Warning are evaluated live.
type ActiveFilter struct {
	Status   domain.TimerStatus
	Type     domain.TimerType
	Priority domain.PriorityLevel
	Breached *bool
	Warning  *bool
	Limit    int
}

// Summary aggregates open timers for the SLA dashboard.
type Summary struct {
	EvaluatedAt      time.Time                    `json:"evaluated_at"`
	Total            int                          `json:"total"`
	Active           int                          `json:"active"`
	Paused           int                          `json:"paused"`
	Breached         int                          `json:"breached"`
	Warning          int                          `json:"warning"`
	EscalationNeeded int                          `json:"escalation_needed"`
	ByPriority       map[domain.PriorityLevel]int `json:"by_priority"`
}

// Now returns the registry clock reading.
func (r *Registry) Now() time.Time {
	return r.now()
}

// Calculator exposes the calculator used for evaluation.
func (r *Registry) Calculator() *Calculator {
	return r.calc
}

// CreateTimersForTicket attaches response and resolution timers when an active SLA rule
// matches the ticket. No rule is a valid outcome and yields no timers. Calling it again for
// a ticket that already has timers returns the existing ones.
func (r *Registry) CreateTimersForTicket(ctx context.Context, ticket *domain.Ticket) ([]domain.Timer, error) {
	unlock := r.locks.Lock(ticket.ID)
	defer unlock()

	existing, err := r.timers.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	key := domain.ConfigKey{ProductID: ticket.ProductID, ModuleID: ticket.ModuleID, IssueName: ticket.IssueType}
	config, err := r.configs.FindConfig(ctx, key)
	if err != nil {
		return nil, err
	}
	if config == nil || !config.IsActive {
		r.logger.Debug("no sla configuration for ticket", zap.String("ticket_id", ticket.ID), zap.String("key", key.String()))
		return nil, nil
	}

	timers, err := r.calc.NewTimers(ticket, config)
	if err != nil {
		return nil, err
	}
	if err := r.timers.CreateBatch(ctx, timers); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return r.timers.ListByTicket(ctx, ticket.ID)
		}
		return nil, err
	}

	result := make([]domain.Timer, 0, len(timers))
	for _, timer := range timers {
		r.metrics.TimerCreated(string(timer.Type), string(timer.Priority))
		result = append(result, *timer)
	}
	r.logger.Info("sla timers attached",
		zap.String("ticket_id", ticket.ID),
		zap.String("config_id", config.ID),
		zap.String("priority", string(config.PriorityLevel)))
	r.publish(ctx, events.Event{
		Type:     events.EventTimersAttached,
		TicketID: ticket.ID,
		Payload: events.TimersAttachedPayload{
			ConfigID:           config.ID,
			Priority:           config.PriorityLevel,
			ResponseDeadline:   timers[0].Deadline,
			ResolutionDeadline: timers[1].Deadline,
		},
	})
	return result, nil
}

// Pause freezes an active timer.
func (r *Registry) Pause(ctx context.Context, timerID string) (*TimerView, error) {
	return r.mutate(ctx, timerID, func(timer *domain.Timer, now time.Time) (bool, error) {
		if timer.Status != domain.TimerStatusActive {
			return false, apperrors.NewInvalidStateTransition("timer", string(timer.Status), string(domain.TimerStatusPaused))
		}
		pausedAt := now
		timer.PausedAt = &pausedAt
		timer.Status = domain.TimerStatusPaused
		return true, nil
	})
}

// Resume restarts a paused timer, pushing its deadline out so the remaining budget is
// what it was at the pause.
func (r *Registry) Resume(ctx context.Context, timerID string) (*TimerView, error) {
	return r.mutate(ctx, timerID, func(timer *domain.Timer, now time.Time) (bool, error) {
		if timer.Status != domain.TimerStatusPaused {
			return false, apperrors.NewInvalidStateTransition("timer", string(timer.Status), string(domain.TimerStatusActive))
		}
		r.unpause(timer, now)
		timer.Status = domain.TimerStatusActive
		return true, nil
	})
}

// Complete stops a timer whatever its remaining time. Completing a completed timer is a no-op.
func (r *Registry) Complete(ctx context.Context, timerID string) (*TimerView, error) {
	return r.mutate(ctx, timerID, func(timer *domain.Timer, now time.Time) (bool, error) {
		return r.complete(timer, now), nil
	})
}

// CompleteTimersForTicket completes the ticket's open timers of the given types, or all
// of them when no type is given. Timers already completed are left untouched.
func (r *Registry) CompleteTimersForTicket(ctx context.Context, ticketID string, types ...domain.TimerType) ([]domain.Timer, error) {
	unlock := r.locks.Lock(ticketID)
	defer unlock()

	wanted := make(map[domain.TimerType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	var completed []domain.Timer
	for attempt := 0; ; attempt++ {
		timers, err := r.timers.ListByTicket(ctx, ticketID)
		if err != nil {
			return nil, err
		}
		conflict := false
		for i := range timers {
			timer := &timers[i]
			if !timer.IsOpen() || (len(wanted) > 0 && !wanted[timer.Type]) {
				continue
			}
			previous := timer.Status
			r.complete(timer, r.now())
			if err := r.timers.Update(ctx, timer); err != nil {
				if errors.Is(err, repository.ErrConflict) {
					conflict = true
					continue
				}
				return nil, err
			}
			r.afterTransition(ctx, timer, previous)
			completed = append(completed, *timer)
		}
		if !conflict {
			return completed, nil
		}
		if attempt+1 >= maxConflictRetries {
			return completed, apperrors.NewConflict("timer changed concurrently", map[string]any{"ticket_id": ticketID})
		}
	}
}

// GetRemaining returns the live state of both timers of a ticket. Active timers found past
// their deadline are persisted as breached on the way.
func (r *Registry) GetRemaining(ctx context.Context, ticketID string) (*TicketSLA, error) {
	if _, err := r.tickets.GetByID(ctx, ticketID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, err
	}
	timers, err := r.timers.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	now := r.now()
	result := &TicketSLA{TicketID: ticketID, EvaluatedAt: now, Timers: make([]TimerView, 0, len(timers))}
	for i := range timers {
		timer := r.settleBreach(ctx, &timers[i], now)
		result.Timers = append(result.Timers, TimerView{Timer: *timer, State: r.calc.State(timer, now)})
	}
	return result, nil
}

// ListActive returns non-completed timers with their live state, filtered.
func (r *Registry) ListActive(ctx context.Context, filter ActiveFilter) ([]TimerView, error) {
	stored := filter.Status
	if stored == domain.TimerStatusBreached {
		// overdue timers may still be stored as active until settled below
		stored = ""
	}
	timers, err := r.timers.ListOpen(ctx, repository.TimerFilter{
		Status:   stored,
		Type:     filter.Type,
		Priority: filter.Priority,
	})
	if err != nil {
		return nil, err
	}

	now := r.now()
	views := make([]TimerView, 0, len(timers))
	for i := range timers {
		timer := r.settleBreach(ctx, &timers[i], now)
		state := r.calc.State(timer, now)
		if filter.Status != "" && timer.Status != filter.Status {
			continue
		}
		if filter.Breached != nil && state.IsBreached != *filter.Breached {
			continue
		}
		if filter.Warning != nil && state.IsWarning != *filter.Warning {
			continue
		}
		views = append(views, TimerView{Timer: *timer, State: state})
		if filter.Limit > 0 && len(views) == filter.Limit {
			break
		}
	}
	return views, nil
}

// Summary counts open timers by status, live flags and priority.
func (r *Registry) Summary(ctx context.Context, filter ActiveFilter) (*Summary, error) {
	filter.Limit = 0
	views, err := r.ListActive(ctx, filter)
	if err != nil {
		return nil, err
	}
	summary := &Summary{EvaluatedAt: r.now(), ByPriority: make(map[domain.PriorityLevel]int)}
	for _, view := range views {
		summary.Total++
		summary.ByPriority[view.Timer.Priority]++
		switch view.Timer.Status {
		case domain.TimerStatusActive:
			summary.Active++
		case domain.TimerStatusPaused:
			summary.Paused++
		}
		if view.State.IsBreached {
			summary.Breached++
		}
		if view.State.IsWarning {
			summary.Warning++
		}
		if view.State.IsEscalationNeeded {
			summary.EscalationNeeded++
		}
	}
	return summary, nil
}

// Guard runs fn under the ticket's lock with a fresh evaluation of the timer, so no pause,
// resume or completion of the ticket's timers can interleave with fn.
func (r *Registry) Guard(ctx context.Context, ticketID, timerID string, fn func(TimerView) error) error {
	unlock := r.locks.Lock(ticketID)
	defer unlock()

	timer, err := r.loadTimer(ctx, timerID)
	if err != nil {
		return err
	}
	now := r.now()
	r.markBreachIfDue(timer, now)
	return fn(TimerView{Timer: *timer, State: r.calc.State(timer, now)})
}

// mutate applies fn to a timer under the ticket lock, retrying on version conflicts.
func (r *Registry) mutate(ctx context.Context, timerID string, fn func(*domain.Timer, time.Time) (bool, error)) (*TimerView, error) {
	timer, err := r.loadTimer(ctx, timerID)
	if err != nil {
		return nil, err
	}
	unlock := r.locks.Lock(timer.TicketID)
	defer unlock()

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if attempt > 0 {
			if timer, err = r.loadTimer(ctx, timerID); err != nil {
				return nil, err
			}
		}
		now := r.now()
		previous := timer.Status
		breachChanged := r.markBreachIfDue(timer, now)
		changed, fnErr := fn(timer, now)
		if !changed && !breachChanged {
			if fnErr != nil {
				return nil, fnErr
			}
			return &TimerView{Timer: *timer, State: r.calc.State(timer, now)}, nil
		}
		if fnErr != nil {
			// the breach is still worth recording even though the requested move is refused
			if err := r.timers.Update(ctx, timer); err == nil {
				r.afterTransition(ctx, timer, previous)
			}
			return nil, fnErr
		}
		if err := r.timers.Update(ctx, timer); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				continue
			}
			return nil, err
		}
		r.afterTransition(ctx, timer, previous)
		return &TimerView{Timer: *timer, State: r.calc.State(timer, now)}, nil
	}
	return nil, apperrors.NewConflict("timer changed concurrently", map[string]any{"timer_id": timerID})
}

func (r *Registry) loadTimer(ctx context.Context, timerID string) (*domain.Timer, error) {
	timer, err := r.timers.GetByID(ctx, timerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("timer", map[string]any{"timer_id": timerID})
		}
		return nil, err
	}
	return timer, nil
}

// settleBreach persists the breach of an active timer found past its deadline. On any
// failure the in-memory transition is still returned so the caller reports live state.
func (r *Registry) settleBreach(ctx context.Context, timer *domain.Timer, now time.Time) *domain.Timer {
	if timer.Status != domain.TimerStatusActive || !r.calc.Overdue(timer, now) {
		return timer
	}
	unlock := r.locks.Lock(timer.TicketID)
	defer unlock()

	fresh, err := r.timers.GetByID(ctx, timer.ID)
	if err != nil {
		r.markBreachIfDue(timer, now)
		return timer
	}
	if !r.markBreachIfDue(fresh, now) {
		return fresh
	}
	if err := r.timers.Update(ctx, fresh); err != nil {
		r.logger.Warn("persist sla breach", zap.String("timer_id", fresh.ID), zap.Error(err))
		r.markBreachIfDue(timer, now)
		return timer
	}
	r.afterTransition(ctx, fresh, domain.TimerStatusActive)
	return fresh
}

// markBreachIfDue flips an active timer with no whole minute left to breached. BreachedAt
// records the missed deadline, not the moment the breach was noticed.
func (r *Registry) markBreachIfDue(timer *domain.Timer, now time.Time) bool {
	if timer.Status != domain.TimerStatusActive || !r.calc.Overdue(timer, now) {
		return false
	}
	breachedAt := timer.Deadline
	timer.Status = domain.TimerStatusBreached
	timer.BreachedAt = &breachedAt
	return true
}

func (r *Registry) complete(timer *domain.Timer, now time.Time) bool {
	if timer.Status == domain.TimerStatusCompleted {
		return false
	}
	r.markBreachIfDue(timer, now)
	if timer.Status == domain.TimerStatusPaused {
		r.unpause(timer, now)
	}
	completedAt := now
	timer.CompletedAt = &completedAt
	timer.Status = domain.TimerStatusCompleted
	return true
}

// unpause moves the deadline and escalation point out by the paused interval, measured on
// the timer's calendar, and clears the pause.
func (r *Registry) unpause(timer *domain.Timer, now time.Time) {
	if timer.PausedAt == nil {
		return
	}
	pausedAt := *timer.PausedAt
	cal := r.calc.calendarFor(timer.BusinessHoursOnly)
	shift := func(t time.Time) time.Time {
		return cal.Add(now, cal.Between(pausedAt, t))
	}
	timer.Deadline = shift(timer.Deadline)
	if timer.EscalationAt != nil && timer.EscalationAt.After(pausedAt) {
		at := shift(*timer.EscalationAt)
		timer.EscalationAt = &at
	}
	if now.After(pausedAt) {
		timer.PausedTotal += now.Sub(pausedAt)
	}
	timer.PausedAt = nil
}

func (r *Registry) afterTransition(ctx context.Context, timer *domain.Timer, previous domain.TimerStatus) {
	if timer.Status == previous {
		return
	}
	r.metrics.TimerTransition(string(timer.Type), string(timer.Status))
	fields := []zap.Field{
		zap.String("ticket_id", timer.TicketID),
		zap.String("timer_id", timer.ID),
		zap.String("timer_type", string(timer.Type)),
		zap.String("from", string(previous)),
		zap.String("to", string(timer.Status)),
	}
	payload := events.TimerPayload{
		TimerID:   timer.ID,
		TimerType: timer.Type,
		Status:    timer.Status,
		Priority:  timer.Priority,
		Deadline:  timer.Deadline,
	}
	switch timer.Status {
	case domain.TimerStatusBreached:
		r.logger.Warn("sla timer breached", fields...)
		r.publish(ctx, events.Event{Type: events.EventTimerBreached, TicketID: timer.TicketID, Payload: payload})
	case domain.TimerStatusCompleted:
		r.logger.Info("sla timer completed", fields...)
		r.publish(ctx, events.Event{Type: events.EventTimerCompleted, TicketID: timer.TicketID, Payload: payload})
	default:
		r.logger.Info("sla timer transition", fields...)
	}
}

func (r *Registry) publish(ctx context.Context, event events.Event) {
	if r.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now()
	}
	if event.Actor.Type == "" {
		event.Actor = events.SystemActor
	}
	if err := r.dispatcher.Publish(ctx, event); err != nil {
		r.logger.Warn("publish sla event",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}
