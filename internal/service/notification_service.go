package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/itsm-sla/internal/events"
	"github.com/spec-kit/itsm-sla/internal/notify"
)

// EscalationQueue accepts escalations for asynchronous delivery.
type EscalationQueue interface {
	Enqueue(escalation notify.Escalation) error
}

// NotificationService turns domain events into notifications. It never changes ticket state.
type NotificationService struct {
	dispatcher events.Dispatcher
	queue      EscalationQueue
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, queue EscalationQueue, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		queue:      queue,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketEscalated, n.handleTicketEscalated)
	n.dispatcher.Subscribe(events.EventTimerBreached, n.handleTimerBreached)
	n.dispatcher.Subscribe(events.EventTicketStatusChanged, n.handleTicketStatusChanged)
}

func (n *NotificationService) handleTicketEscalated(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketEscalatedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	if n.queue == nil {
		return nil
	}
	return n.queue.Enqueue(notify.Escalation{
		EscalationID:    payload.EscalationID,
		TicketID:        event.TicketID,
		EscalationLevel: payload.EscalationLevel,
		Reason:          payload.Reason,
		Timestamp:       event.Timestamp,
	})
}

func (n *NotificationService) handleTimerBreached(_ context.Context, event events.Event) error {
	n.logger.Info("TimerBreached", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return nil
}

func (n *NotificationService) handleTicketStatusChanged(_ context.Context, event events.Event) error {
	n.logger.Info("TicketStatusChanged", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return nil
}
