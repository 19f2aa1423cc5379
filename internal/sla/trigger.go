package sla

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/itsm-sla/internal/domain"
	"github.com/spec-kit/itsm-sla/internal/events"
	"github.com/spec-kit/itsm-sla/internal/observability"
	"github.com/spec-kit/itsm-sla/internal/repository"
)

// TriggerDependencies bundles collaborators of the escalation trigger.
type TriggerDependencies struct {
	Tickets    repository.TicketRepository
	Registry   *Registry
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// Trigger is the only component that escalates tickets automatically.
type Trigger struct {
	tickets    repository.TicketRepository
	registry   *Registry
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewTrigger constructs the trigger.
func NewTrigger(deps TriggerDependencies) *Trigger {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trigger{
		tickets:    deps.Tickets,
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
	}
}

// EvaluationReport summarises one evaluation pass.
type EvaluationReport struct {
	Candidates int
	Escalated  int
	Closed     int
	Failed     int
}

// EvaluateTicket evaluates one ticket and escalates it when its resolution timer needs it.
// It returns the escalation event when one was committed by this call.
func (t *Trigger) EvaluateTicket(ctx context.Context, ticketID string) (*domain.EscalationEvent, error) {
	sla, err := t.registry.GetRemaining(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !sla.HasSLA() {
		return nil, nil
	}
	ticket, err := t.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	return t.evaluate(ctx, ticket, sla.Timers)
}

// EvaluateAll runs one tick over every open resolution timer.
func (t *Trigger) EvaluateAll(ctx context.Context) (EvaluationReport, error) {
	var report EvaluationReport
	views, err := t.registry.ListActive(ctx, ActiveFilter{Type: domain.TimerTypeResolution})
	if err != nil {
		return report, err
	}

	for _, view := range views {
		if !view.State.IsEscalationNeeded {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Candidates++

		ticket, err := t.tickets.GetByID(ctx, view.Timer.TicketID)
		if err != nil {
			report.Failed++
			t.logger.Warn("load ticket for escalation", zap.String("ticket_id", view.Timer.TicketID), zap.Error(err))
			continue
		}
		if ticket.Status == domain.TicketStatusClosed {
			report.Closed++
		}
		event, err := t.evaluate(ctx, ticket, []TimerView{view})
		if err != nil {
			report.Failed++
			t.logger.Warn("evaluate escalation", zap.String("ticket_id", ticket.ID), zap.Error(err))
			continue
		}
		if event != nil {
			report.Escalated++
		}
	}
	return report, nil
}

func (t *Trigger) evaluate(ctx context.Context, ticket *domain.Ticket, views []TimerView) (*domain.EscalationEvent, error) {
	switch ticket.Status {
	case domain.TicketStatusClosed:
		for _, view := range views {
			if view.Timer.IsOpen() {
				// closure should have stopped these already
				_, err := t.registry.CompleteTimersForTicket(ctx, ticket.ID)
				if err == nil {
					t.logger.Info("completed stale timers of closed ticket", zap.String("ticket_id", ticket.ID))
				}
				return nil, err
			}
		}
		return nil, nil
	case domain.TicketStatusEscalated:
		return nil, nil
	}

	for _, view := range views {
		if view.Timer.Type == domain.TimerTypeResolution && view.State.IsEscalationNeeded && escalatable(view.Timer.Status) {
			return t.escalate(ctx, ticket, view.Timer)
		}
	}
	return nil, nil
}

func (t *Trigger) escalate(ctx context.Context, ticket *domain.Ticket, timer domain.Timer) (*domain.EscalationEvent, error) {
	var event *domain.EscalationEvent
	err := t.registry.Guard(ctx, ticket.ID, timer.ID, func(view TimerView) error {
		if !view.State.IsEscalationNeeded || !escalatable(view.Timer.Status) {
			return nil
		}
		timerID := view.Timer.ID
		candidate := &domain.EscalationEvent{
			TicketID:        ticket.ID,
			TimerID:         &timerID,
			EscalationLevel: levelOrDefault(view.Timer.EscalationLevel),
			Reason:          EscalationReason(view.State),
			PreviousStatus:  ticket.Status,
			Timestamp:       t.registry.Now(),
		}
		if err := t.tickets.Escalate(ctx, candidate); err != nil {
			return err
		}
		event = candidate
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// the ticket moved on since it was read; the next tick sees the new status
			return nil, nil
		}
		return nil, err
	}
	if event == nil {
		return nil, nil
	}

	t.metrics.Escalation(string(event.EscalationLevel), string(event.Reason))
	t.logger.Warn("ticket escalated",
		zap.String("ticket_id", event.TicketID),
		zap.String("timer_id", timer.ID),
		zap.String("escalation_level", string(event.EscalationLevel)),
		zap.String("reason", string(event.Reason)))
	t.notify(ctx, event)
	return event, nil
}

// notify publishes after the escalation is durable. Failures are logged only.
func (t *Trigger) notify(ctx context.Context, event *domain.EscalationEvent) {
	if t.dispatcher == nil {
		return
	}
	err := t.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventTicketEscalated,
		TicketID:  event.TicketID,
		Actor:     events.SystemActor,
		Timestamp: event.Timestamp,
		Payload: events.TicketEscalatedPayload{
			EscalationID:    event.ID,
			TimerID:         event.TimerID,
			EscalationLevel: event.EscalationLevel,
			Reason:          event.Reason,
			PreviousStatus:  event.PreviousStatus,
		},
	})
	if err != nil {
		t.logger.Error("escalation notification failed",
			zap.String("ticket_id", event.TicketID),
			zap.String("escalation_id", event.ID),
			zap.Error(err))
	}
}

func escalatable(status domain.TimerStatus) bool {
	return status == domain.TimerStatusActive || status == domain.TimerStatusBreached
}

func levelOrDefault(level domain.EscalationLevel) domain.EscalationLevel {
	if level == "" {
		return domain.EscalationLevelManager
	}
	return level
}
