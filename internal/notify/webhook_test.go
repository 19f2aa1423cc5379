package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/itsm-sla/internal/config"
	"github.com/spec-kit/itsm-sla/internal/domain"
)

func testSink(url string, retries int) *WebhookSink {
	sink := NewWebhookSink(config.NotificationConfig{WebhookURL: url, TimeoutSeconds: 1, MaxRetries: retries}, nil)
	sink.interval = time.Millisecond
	return sink
}

var sample = Escalation{
	EscalationID:    "esc-1",
	TicketID:        "ticket-1",
	EscalationLevel: domain.EscalationLevelCEO,
	Reason:          domain.EscalationReasonBreach,
	Timestamp:       time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
}

func TestWebhookDeliversJSON(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	require.NoError(t, testSink(server.URL, 3).Deliver(context.Background(), sample))
	assert.Equal(t, "ticket-1", got["ticket_id"])
	assert.Equal(t, "ceo", got["escalation_level"])
	assert.Equal(t, "sla_breach", got["reason"])
	assert.Equal(t, "2026-03-02T08:00:00Z", got["timestamp"])
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	require.NoError(t, testSink(server.URL, 5).Deliver(context.Background(), sample))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookGivesUpOnClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	err := testSink(server.URL, 5).Deliver(context.Background(), sample)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhookStopsAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := testSink(server.URL, 2).Deliver(context.Background(), sample)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sink := testSink(server.URL, 10)
	require.Error(t, sink.Deliver(context.Background(), sample))
	assert.Equal(t, int32(5), calls.Load(), "the breaker trips after five consecutive failures")

	require.Error(t, sink.Deliver(context.Background(), sample))
	assert.Equal(t, int32(5), calls.Load(), "an open breaker short-circuits delivery")
}
