package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/itsm-sla/internal/domain"
	"github.com/spec-kit/itsm-sla/internal/events"
	"github.com/spec-kit/itsm-sla/internal/repository"
	"github.com/spec-kit/itsm-sla/internal/sla"
	apperrors "github.com/spec-kit/itsm-sla/pkg/util/errorutil"
)

// TicketService coordinates the ticket workflow steps that drive SLA timers.
type TicketService struct {
	tickets    repository.TicketRepository
	history    repository.TicketHistoryRepository
	registry   *sla.Registry
	trigger    *sla.Trigger
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// TicketDependencies bundles collaborators for ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	HistoryRepo repository.TicketHistoryRepository
	Registry    *sla.Registry
	Trigger     *sla.Trigger
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
}

// TicketCreateInput describes a ticket snapshot handed to the engine.
type TicketCreateInput struct {
	ID         string
	ProductID  string
	ModuleID   string
	IssueType  string
	Title      string
	AssignedTo *string
}

// TicketDetail is a ticket with its live SLA picture.
type TicketDetail struct {
	Ticket *domain.Ticket
	SLA    *sla.TicketSLA
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		history:    deps.HistoryRepo,
		registry:   deps.Registry,
		trigger:    deps.Trigger,
		dispatcher: deps.Dispatcher,
		logger:     logger,
	}
}

// CreateTicket stores a new ticket anchored at the current instant and attaches its timers.
// A failed attachment leaves the ticket pending so the sweeper retries it.
func (s *TicketService) CreateTicket(ctx context.Context, actorID string, input TicketCreateInput) (*TicketDetail, error) {
	ticket := &domain.Ticket{
		ID:         strings.TrimSpace(input.ID),
		ProductID:  strings.TrimSpace(input.ProductID),
		ModuleID:   strings.TrimSpace(input.ModuleID),
		IssueType:  strings.TrimSpace(input.IssueType),
		Title:      strings.TrimSpace(input.Title),
		Status:     domain.TicketStatusNew,
		AssignedTo: input.AssignedTo,
		CreatedAt:  s.registry.Now(),
	}
	if ticket.ProductID == "" || ticket.ModuleID == "" || ticket.IssueType == "" {
		return nil, apperrors.NewValidationError("product_id, module_id and issue_type are required", nil)
	}

	if err := s.tickets.Create(ctx, ticket); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.NewConflict("ticket already exists", map[string]any{"ticket_id": ticket.ID})
		}
		return nil, err
	}

	timers, err := s.registry.CreateTimersForTicket(ctx, ticket)
	if err != nil {
		s.logger.Warn("attach sla timers", zap.String("ticket_id", ticket.ID), zap.Error(err))
	} else if err := s.tickets.MarkSLAAttached(ctx, ticket.ID, s.registry.Now()); err != nil {
		s.logger.Warn("mark sla attached", zap.String("ticket_id", ticket.ID), zap.Error(err))
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    agentActor(actorID),
		Payload: events.TicketCreatedPayload{
			ProductID: ticket.ProductID,
			ModuleID:  ticket.ModuleID,
			IssueType: ticket.IssueType,
			HasSLA:    len(timers) > 0,
		},
	})
	return s.GetTicket(ctx, ticket.ID)
}

// GetTicket returns the ticket and the live state of its timers.
func (s *TicketService) GetTicket(ctx context.Context, ticketID string) (*TicketDetail, error) {
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	state, err := s.registry.GetRemaining(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	return &TicketDetail{Ticket: ticket, SLA: state}, nil
}

// GetSLA evaluates escalation for the ticket on demand, then returns its live timers.
func (s *TicketService) GetSLA(ctx context.Context, ticketID string) (*sla.TicketSLA, error) {
	if s.trigger != nil {
		if _, err := s.trigger.EvaluateTicket(ctx, ticketID); err != nil {
			if apperrors.IsCode(err, apperrors.CodeNotFound) {
				return nil, err
			}
			s.logger.Warn("on-demand escalation check", zap.String("ticket_id", ticketID), zap.Error(err))
		}
	}
	return s.registry.GetRemaining(ctx, ticketID)
}

// RecordFirstResponse stamps the first agent response, completes the response timer and
// moves a new ticket to in_progress. Later calls change nothing.
func (s *TicketService) RecordFirstResponse(ctx context.Context, actorID, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.FirstResponseAt != nil {
		return ticket, nil
	}
	if ticket.Status == domain.TicketStatusClosed {
		return nil, apperrors.NewInvalidStateTransition("ticket", string(ticket.Status), string(domain.TicketStatusInProgress))
	}

	now := s.registry.Now()
	if err := s.tickets.MarkFirstResponse(ctx, ticketID, now); err != nil {
		return nil, err
	}
	if _, err := s.registry.CompleteTimersForTicket(ctx, ticketID, domain.TimerTypeResponse); err != nil {
		return nil, err
	}
	if err := s.recordHistory(ctx, actorID, ticketID, domain.ChangeTypeFirstResponse, nil, map[string]any{"first_response_at": now}); err != nil {
		return nil, err
	}

	if ticket.Status == domain.TicketStatusNew {
		if _, err := s.changeStatus(ctx, actorID, ticket, domain.TicketStatusInProgress, "first response"); err != nil && !apperrors.IsCode(err, apperrors.CodeConflict) {
			return nil, err
		}
	}
	return s.loadTicket(ctx, ticketID)
}

// UpdateStatus applies an agent status change. Closing completes both timers; moving to
// escalated records a manual escalation.
func (s *TicketService) UpdateStatus(ctx context.Context, actorID, ticketID string, newStatus domain.TicketStatus, comment string) (*domain.Ticket, error) {
	if !newStatus.Valid() {
		return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": newStatus})
	}
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(ticket.Status, newStatus) {
		return nil, apperrors.NewInvalidStateTransition("ticket", string(ticket.Status), string(newStatus))
	}
	if newStatus == domain.TicketStatusEscalated {
		if err := s.escalateManually(ctx, actorID, ticket, comment); err != nil {
			return nil, err
		}
		return s.loadTicket(ctx, ticketID)
	}
	return s.changeStatus(ctx, actorID, ticket, newStatus, comment)
}

// ListEscalations returns the escalation history of a ticket.
func (s *TicketService) ListEscalations(ctx context.Context, ticketID string) ([]domain.EscalationEvent, error) {
	if _, err := s.loadTicket(ctx, ticketID); err != nil {
		return nil, err
	}
	return s.tickets.ListEscalations(ctx, ticketID)
}

// ListHistory returns the audit trail of a ticket.
func (s *TicketService) ListHistory(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	if s.history == nil {
		return []domain.TicketHistory{}, nil
	}
	if _, err := s.loadTicket(ctx, ticketID); err != nil {
		return nil, err
	}
	return s.history.ListByTicket(ctx, ticketID)
}

func (s *TicketService) changeStatus(ctx context.Context, actorID string, ticket *domain.Ticket, newStatus domain.TicketStatus, comment string) (*domain.Ticket, error) {
	oldStatus := ticket.Status
	updated, err := s.tickets.UpdateStatus(ctx, ticket.ID, oldStatus, newStatus, s.registry.Now())
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.NewConflict("ticket status changed concurrently", map[string]any{"ticket_id": ticket.ID})
		}
		return nil, err
	}

	if newStatus == domain.TicketStatusClosed {
		// the sweeper's closed-ticket pass completes whatever is left on failure
		if _, err := s.registry.CompleteTimersForTicket(ctx, ticket.ID); err != nil {
			s.logger.Error("complete timers of closed ticket", zap.String("ticket_id", ticket.ID), zap.Error(err))
		}
	}

	if err := s.recordHistory(ctx, actorID, ticket.ID, domain.ChangeTypeStatus,
		map[string]any{"status": oldStatus},
		map[string]any{"status": newStatus, "comment": comment}); err != nil {
		return nil, err
	}
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: ticket.ID,
		Actor:    agentActor(actorID),
		Payload: events.TicketStatusChangedPayload{
			OldStatus: oldStatus,
			NewStatus: newStatus,
			Comment:   comment,
		},
	})
	return updated, nil
}

func (s *TicketService) escalateManually(ctx context.Context, actorID string, ticket *domain.Ticket, comment string) error {
	level := domain.EscalationLevelManager
	if state, err := s.registry.GetRemaining(ctx, ticket.ID); err == nil {
		if view, ok := state.Timer(domain.TimerTypeResolution); ok && view.Timer.EscalationLevel != "" {
			level = view.Timer.EscalationLevel
		}
	}

	triggeredBy := actorID
	event := &domain.EscalationEvent{
		TicketID:        ticket.ID,
		EscalationLevel: level,
		Reason:          domain.EscalationReasonManual,
		PreviousStatus:  ticket.Status,
		TriggeredBy:     &triggeredBy,
		Timestamp:       s.registry.Now(),
	}
	if err := s.tickets.Escalate(ctx, event); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return apperrors.NewConflict("ticket status changed concurrently", map[string]any{"ticket_id": ticket.ID})
		}
		return err
	}
	s.logger.Info("ticket escalated manually",
		zap.String("ticket_id", ticket.ID),
		zap.String("escalation_level", string(level)),
		zap.String("actor_id", actorID))

	if err := s.recordHistory(ctx, actorID, ticket.ID, domain.ChangeTypeStatus,
		map[string]any{"status": ticket.Status},
		map[string]any{"status": domain.TicketStatusEscalated, "comment": comment}); err != nil {
		return err
	}
	s.publishEvent(ctx, events.Event{
		Type:      events.EventTicketEscalated,
		TicketID:  ticket.ID,
		Actor:     agentActor(actorID),
		Timestamp: event.Timestamp,
		Payload: events.TicketEscalatedPayload{
			EscalationID:    event.ID,
			EscalationLevel: event.EscalationLevel,
			Reason:          event.Reason,
			PreviousStatus:  event.PreviousStatus,
		},
	})
	return nil
}

func (s *TicketService) loadTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, err
	}
	return ticket, nil
}

func (s *TicketService) recordHistory(ctx context.Context, actorID, ticketID string, change domain.TicketChangeType, oldValue, newValue map[string]any) error {
	if s.history == nil {
		return nil
	}
	entry := &domain.TicketHistory{
		TicketID:      ticketID,
		ChangedByType: domain.ActorTypeAgent,
		ChangeType:    change,
		OldValue:      oldValue,
		NewValue:      newValue,
		CreatedAt:     s.registry.Now(),
	}
	if actorID != "" {
		entry.ChangedByID = &actorID
	}
	return s.history.Create(ctx, entry)
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish ticket event",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}

func agentActor(actorID string) events.Actor {
	if actorID == "" {
		return events.Actor{Type: domain.ActorTypeAgent}
	}
	return events.Actor{Type: domain.ActorTypeAgent, ID: &actorID}
}
