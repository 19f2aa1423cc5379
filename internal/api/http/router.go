package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/itsm-sla/internal/api/http/handlers"
	"github.com/spec-kit/itsm-sla/internal/auth"
	"github.com/spec-kit/itsm-sla/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Timers         *handlers.SLATimersHandler
	Configs        *handlers.SLAConfigsHandler
	AuthMiddleware *auth.AuthMiddleware
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.MetricsHandler != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.MetricsHandler))
	}

	readers := auth.RequireRole(domain.RoleAgent, domain.RoleBusiness, domain.RoleViewer)
	agents := auth.RequireRole(domain.RoleAgent)
	configWriters := auth.RequireRole(domain.RoleBusiness)

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle)
	tickets.Post("/", agents, cfg.Tickets.CreateTicket)
	tickets.Get("/:id", readers, cfg.Tickets.GetTicket)
	tickets.Get("/:id/sla", readers, cfg.Tickets.GetSLA)
	tickets.Get("/:id/escalations", readers, cfg.Tickets.ListEscalations)
	tickets.Get("/:id/history", readers, cfg.Tickets.ListHistory)
	tickets.Post("/:id/first-response", agents, cfg.Tickets.RecordFirstResponse)
	tickets.Patch("/:id/status", agents, cfg.Tickets.UpdateStatus)

	slaGroup := app.Group("/sla", cfg.AuthMiddleware.Handle)
	slaGroup.Get("/timers", readers, cfg.Timers.ListTimers)
	slaGroup.Get("/summary", readers, cfg.Timers.Summary)
	slaGroup.Post("/timers/:id/pause", agents, cfg.Timers.Pause)
	slaGroup.Post("/timers/:id/resume", agents, cfg.Timers.Resume)
	slaGroup.Post("/timers/:id/complete", agents, cfg.Timers.Complete)

	slaGroup.Get("/configs", readers, cfg.Configs.List)
	slaGroup.Get("/configs/:id", readers, cfg.Configs.Get)
	slaGroup.Post("/configs", configWriters, cfg.Configs.Create)
	slaGroup.Put("/configs/:id", configWriters, cfg.Configs.Update)
	slaGroup.Patch("/configs/:id/active", configWriters, cfg.Configs.SetActive)
}
