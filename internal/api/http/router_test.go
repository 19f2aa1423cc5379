package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/itsm-sla/internal/api/http/handlers"
	"github.com/spec-kit/itsm-sla/internal/auth"
	"github.com/spec-kit/itsm-sla/internal/cache"
	"github.com/spec-kit/itsm-sla/internal/domain"
	"github.com/spec-kit/itsm-sla/internal/events"
	"github.com/spec-kit/itsm-sla/internal/observability"
	"github.com/spec-kit/itsm-sla/internal/repository"
	"github.com/spec-kit/itsm-sla/internal/service"
	"github.com/spec-kit/itsm-sla/internal/sla"
)

type testServer struct {
	app    *fiber.App
	tokens *auth.TokenManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	tickets := repository.NewMemoryTicketRepository()
	timers := repository.NewMemoryTimerRepository()
	configRepo := repository.NewMemorySlaConfigRepository()
	configCache := cache.NewConfigCache(configRepo, nil, time.Minute, logger)
	dispatcher := events.NewInMemoryDispatcher()

	registry := sla.NewRegistry(sla.RegistryDependencies{
		Tickets:    tickets,
		Timers:     timers,
		Configs:    configCache,
		Dispatcher: dispatcher,
		Metrics:    metrics,
	})
	trigger := sla.NewTrigger(sla.TriggerDependencies{Tickets: tickets, Registry: registry, Dispatcher: dispatcher, Metrics: metrics})
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  tickets,
		HistoryRepo: tickets.History(),
		Registry:    registry,
		Trigger:     trigger,
		Dispatcher:  dispatcher,
	})
	tokens := auth.NewTokenManager("test-secret", "itsm-sla")

	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("itsm-sla", "test", nil),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Timers:         handlers.NewSLATimersHandler(registry),
		Configs:        handlers.NewSLAConfigsHandler(service.NewSlaConfigService(configRepo, configCache, logger)),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	return &testServer{app: app, tokens: tokens}
}

func (s *testServer) do(t *testing.T, method, path string, role domain.Role, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		token, err := s.tokens.GenerateToken("user-"+string(role), role, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	out, ok := body["data"].(map[string]any)
	require.True(t, ok, "missing data in %v", body)
	return out
}

func errorCode(body map[string]any) string {
	errBody, _ := body["error"].(map[string]any)
	code, _ := errBody["code"].(string)
	return code
}

func billingRule() map[string]any {
	return map[string]any{
		"product_id":              "crm",
		"module_id":               "billing",
		"issue_name":              "invoice-missing",
		"priority_level":          "P1",
		"response_time_minutes":   60,
		"resolution_time_minutes": 480,
		"escalation_time_minutes": 60,
		"escalation_level":        "manager",
	}
}

func newTicket() map[string]any {
	return map[string]any{"product_id": "crm", "module_id": "billing", "issue_type": "invoice-missing", "title": "Invoice missing"}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alive", body["status"])

	status, body = s.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", body["status"])

	status, _ = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestRoutesRequireAuthentication(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPost, "/tickets", "", newTicket())
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))

	status, body = s.do(t, http.MethodPost, "/tickets", domain.RoleViewer, newTicket())
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", errorCode(body))

	status, _ = s.do(t, http.MethodPost, "/sla/configs", domain.RoleAgent, billingRule())
	assert.Equal(t, http.StatusForbidden, status)
}

func TestTicketWithoutRuleReportsNoSLA(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPost, "/tickets", domain.RoleAgent, newTicket())
	require.Equal(t, http.StatusCreated, status)
	id := data(t, body)["id"].(string)

	status, body = s.do(t, http.MethodGet, "/tickets/"+id+"/sla", domain.RoleViewer, nil)
	require.Equal(t, http.StatusOK, status)
	state := data(t, body)
	assert.Equal(t, id, state["ticket_id"])
	assert.Equal(t, false, state["has_sla"])
	assert.Equal(t, "No SLA", state["label"])
	assert.Empty(t, state["timers"])
}

func TestTicketLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, http.MethodPost, "/sla/configs", domain.RoleBusiness, billingRule())
	require.Equal(t, http.StatusCreated, status)

	status, body := s.do(t, http.MethodPost, "/tickets", domain.RoleAgent, newTicket())
	require.Equal(t, http.StatusCreated, status)
	ticket := data(t, body)
	id := ticket["id"].(string)
	state := ticket["sla"].(map[string]any)
	assert.Equal(t, true, state["has_sla"])
	timers := state["timers"].([]any)
	require.Len(t, timers, 2)

	var resolutionID string
	for _, raw := range timers {
		timer := raw.(map[string]any)
		for _, field := range []string{"timer_id", "timer_type", "status", "remaining_minutes", "is_breached", "is_warning",
			"is_escalation_needed", "is_escalation_warning", "priority_level", "deadline", "time_limit_minutes",
			"paused_accumulated_minutes", "breached_at"} {
			assert.Contains(t, timer, field)
		}
		assert.Equal(t, "P1", timer["priority_level"])
		if timer["timer_type"] == string(domain.TimerTypeResolution) {
			resolutionID = timer["timer_id"].(string)
		}
	}
	require.NotEmpty(t, resolutionID)

	status, body = s.do(t, http.MethodPost, "/sla/timers/"+resolutionID+"/pause", domain.RoleAgent, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "paused", data(t, body)["status"])

	status, body = s.do(t, http.MethodPost, "/sla/timers/"+resolutionID+"/pause", domain.RoleAgent, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_STATE_TRANSITION", errorCode(body))

	status, body = s.do(t, http.MethodPost, "/sla/timers/"+resolutionID+"/resume", domain.RoleAgent, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "active", data(t, body)["status"])

	status, body = s.do(t, http.MethodPost, "/tickets/"+id+"/first-response", domain.RoleAgent, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "in_progress", data(t, body)["status"])

	status, body = s.do(t, http.MethodGet, "/sla/summary", domain.RoleViewer, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, data(t, body)["total"])

	status, body = s.do(t, http.MethodPatch, "/tickets/"+id+"/status", domain.RoleAgent, map[string]any{"status": "escalated", "comment": "vip"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "escalated", data(t, body)["status"])

	status, body = s.do(t, http.MethodGet, "/tickets/"+id+"/escalations", domain.RoleViewer, nil)
	require.Equal(t, http.StatusOK, status)
	escalations := body["data"].([]any)
	require.Len(t, escalations, 1)
	assert.Equal(t, "manual", escalations[0].(map[string]any)["reason"])

	status, _ = s.do(t, http.MethodPatch, "/tickets/"+id+"/status", domain.RoleAgent, map[string]any{"status": "closed"})
	require.Equal(t, http.StatusOK, status)

	status, body = s.do(t, http.MethodGet, "/sla/timers", domain.RoleViewer, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["data"])
}

func TestListTimersValidatesFilters(t *testing.T) {
	s := newTestServer(t)

	for _, query := range []string{"status=done", "type=first", "priority=P9", "breached=maybe"} {
		status, body := s.do(t, http.MethodGet, "/sla/timers?"+query, domain.RoleViewer, nil)
		assert.Equal(t, http.StatusBadRequest, status, query)
		assert.Equal(t, "VALIDATION_FAILED", errorCode(body), query)
	}

	status, _ := s.do(t, http.MethodGet, "/sla/timers?status=paused&breached=false&priority=P0", domain.RoleViewer, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestSLAConfigEndpoints(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPost, "/sla/configs", domain.RoleBusiness, billingRule())
	require.Equal(t, http.StatusCreated, status)
	id := data(t, body)["id"].(string)
	assert.Equal(t, true, data(t, body)["is_active"])

	status, body = s.do(t, http.MethodPost, "/sla/configs", domain.RoleAdmin, billingRule())
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "CONFLICT", errorCode(body))

	invalid := billingRule()
	invalid["escalation_time_minutes"] = 480
	invalid["issue_name"] = "other"
	status, _ = s.do(t, http.MethodPost, "/sla/configs", domain.RoleBusiness, invalid)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = s.do(t, http.MethodPatch, "/sla/configs/"+id+"/active", domain.RoleBusiness, map[string]any{"is_active": false})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, data(t, body)["is_active"])

	status, body = s.do(t, http.MethodGet, "/sla/configs?active=false", domain.RoleAgent, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 1)

	updated := billingRule()
	updated["resolution_time_minutes"] = 720
	status, body = s.do(t, http.MethodPut, "/sla/configs/"+id, domain.RoleBusiness, updated)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 720, data(t, body)["resolution_time_minutes"])

	status, body = s.do(t, http.MethodGet, "/sla/configs/missing", domain.RoleViewer, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}

func TestUnknownTicketIsNotFound(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(t, http.MethodGet, "/tickets/nope", domain.RoleViewer, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}
