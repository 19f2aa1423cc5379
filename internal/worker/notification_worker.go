package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/itsm-sla/internal/notify"
	"github.com/spec-kit/itsm-sla/internal/observability"
	"github.com/spec-kit/itsm-sla/internal/service"
)

// ErrQueueFull is returned when the notification backlog is at capacity.
var ErrQueueFull = errors.New("notification queue full")

// NotificationWorker delivers queued escalations to a sink, one at a time.
type NotificationWorker struct {
	queue   chan notify.Escalation
	sink    notify.Sink
	metrics *observability.Metrics
	logger  *zap.Logger
	sinkID  string
	wg      sync.WaitGroup
}

// NewNotificationWorker builds a worker with a bounded queue.
func NewNotificationWorker(sink notify.Sink, size int, metrics *observability.Metrics, logger *zap.Logger) *NotificationWorker {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sinkID := "log"
	if _, ok := sink.(*notify.WebhookSink); ok {
		sinkID = "webhook"
	}
	return &NotificationWorker{
		queue:   make(chan notify.Escalation, size),
		sink:    sink,
		metrics: metrics,
		logger:  logger,
		sinkID:  sinkID,
	}
}

// Enqueue hands escalation to the worker without blocking.
func (w *NotificationWorker) Enqueue(escalation notify.Escalation) error {
	select {
	case w.queue <- escalation:
		return nil
	default:
		w.metrics.NotificationFailed(w.sinkID)
		w.logger.Error("escalation notification dropped",
			zap.String("ticket_id", escalation.TicketID),
			zap.Error(ErrQueueFull))
		return ErrQueueFull
	}
}

// Start runs the delivery loop until ctx is cancelled.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case escalation := <-w.queue:
				w.deliver(ctx, escalation)
			}
		}
	}()
}

// Wait blocks until the delivery loop has exited.
func (w *NotificationWorker) Wait() {
	w.wg.Wait()
}

func (w *NotificationWorker) deliver(ctx context.Context, escalation notify.Escalation) {
	if err := w.sink.Deliver(ctx, escalation); err != nil {
		w.metrics.NotificationFailed(w.sinkID)
		w.logger.Error("escalation notification failed",
			zap.String("ticket_id", escalation.TicketID),
			zap.String("escalation_id", escalation.EscalationID),
			zap.String("escalation_level", string(escalation.EscalationLevel)),
			zap.String("reason", string(escalation.Reason)),
			zap.Error(err))
		return
	}
	w.logger.Info("escalation notification delivered",
		zap.String("ticket_id", escalation.TicketID),
		zap.String("escalation_level", string(escalation.EscalationLevel)))
}

// StartNotificationWorker registers notification handlers and starts delivery.
func StartNotificationWorker(ctx context.Context, notificationService *service.NotificationService, worker *NotificationWorker) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
	if worker != nil {
		worker.Start(ctx)
	}
}
