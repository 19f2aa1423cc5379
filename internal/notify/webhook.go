package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/spec-kit/itsm-sla/internal/config"
	"github.com/spec-kit/itsm-sla/internal/domain"
)

// Escalation is what the sink delivers for an escalated ticket.
type Escalation struct {
	EscalationID    string                  `json:"escalation_id,omitempty"`
	TicketID        string                  `json:"ticket_id"`
	EscalationLevel domain.EscalationLevel  `json:"escalation_level"`
	Reason          domain.EscalationReason `json:"reason"`
	Timestamp       time.Time               `json:"timestamp"`
}

// Sink delivers escalation notifications.
type Sink interface {
	Deliver(ctx context.Context, escalation Escalation) error
}

// LogSink only logs. It stands in when no webhook is configured.
type LogSink struct {
	Logger *zap.Logger
}

// Deliver logs the escalation.
func (s LogSink) Deliver(_ context.Context, escalation Escalation) error {
	if s.Logger != nil {
		s.Logger.Info("escalation notification",
			zap.String("ticket_id", escalation.TicketID),
			zap.String("escalation_level", string(escalation.EscalationLevel)),
			zap.String("reason", string(escalation.Reason)))
	}
	return nil
}

// WebhookSink POSTs escalations as JSON, retrying with exponential backoff behind a
// circuit breaker.
type WebhookSink struct {
	url        string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
	maxRetries uint64
	interval   time.Duration
	logger     *zap.Logger
}

// NewWebhookSink builds the sink from configuration.
func NewWebhookSink(cfg config.NotificationConfig, logger *zap.Logger) *WebhookSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &WebhookSink{
		url:        cfg.WebhookURL,
		client:     &http.Client{Timeout: timeout},
		maxRetries: uint64(retries),
		interval:   500 * time.Millisecond,
		logger:     logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "escalation-webhook",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state change",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
	}
}

// Deliver sends escalation, retrying transient failures. Client errors and an open
// breaker stop the retries.
func (s *WebhookSink) Deliver(ctx context.Context, escalation Escalation) error {
	body, err := json.Marshal(escalation)
	if err != nil {
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.interval
	policy.MaxElapsedTime = 0

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, s.post(ctx, body)
		})
		if err == nil {
			return nil
		}
		s.logger.Debug("webhook attempt failed",
			zap.String("ticket_id", escalation.TicketID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		var status *statusError
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) ||
			(errors.As(err, &status) && status.code < http.StatusInternalServerError && status.code != http.StatusTooManyRequests) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, s.maxRetries), ctx))
}

func (s *WebhookSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("webhook responded %d", e.code)
}
