package handlers

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/itsm-sla/internal/domain"
	"github.com/spec-kit/itsm-sla/internal/sla"
	apperrors "github.com/spec-kit/itsm-sla/pkg/util/errorutil"
)

// SLATimersHandler serves the SLA dashboard and the timer lifecycle endpoints.
type SLATimersHandler struct {
	registry *sla.Registry
}

// NewSLATimersHandler constructs handler.
func NewSLATimersHandler(registry *sla.Registry) *SLATimersHandler {
	return &SLATimersHandler{registry: registry}
}

// ListTimers GET /sla/timers.
func (h *SLATimersHandler) ListTimers(c *fiber.Ctx) error {
	filter, err := parseActiveFilter(c)
	if err != nil {
		return err
	}
	views, err := h.registry.ListActive(c.UserContext(), filter)
	if err != nil {
		return err
	}
	items := make([]any, 0, len(views))
	for _, view := range views {
		items = append(items, timerResponse(view))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Summary GET /sla/summary.
func (h *SLATimersHandler) Summary(c *fiber.Ctx) error {
	filter, err := parseActiveFilter(c)
	if err != nil {
		return err
	}
	summary, err := h.registry.Summary(c.UserContext(), filter)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": summary})
}

// Pause POST /sla/timers/:id/pause.
func (h *SLATimersHandler) Pause(c *fiber.Ctx) error {
	return h.respond(c, h.registry.Pause)
}

// Resume POST /sla/timers/:id/resume.
func (h *SLATimersHandler) Resume(c *fiber.Ctx) error {
	return h.respond(c, h.registry.Resume)
}

// Complete POST /sla/timers/:id/complete.
func (h *SLATimersHandler) Complete(c *fiber.Ctx) error {
	return h.respond(c, h.registry.Complete)
}

func (h *SLATimersHandler) respond(c *fiber.Ctx, op func(ctx context.Context, timerID string) (*sla.TimerView, error)) error {
	view, err := op(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": timerResponse(*view)})
}

func parseActiveFilter(c *fiber.Ctx) (sla.ActiveFilter, error) {
	filter := sla.ActiveFilter{
		Status:   domain.TimerStatus(c.Query("status")),
		Type:     domain.TimerType(c.Query("type")),
		Priority: domain.PriorityLevel(c.Query("priority")),
		Limit:    parseInt(c.Query("limit"), 0),
	}
	if filter.Status != "" && (!filter.Status.Valid() || filter.Status == domain.TimerStatusCompleted) {
		return filter, apperrors.NewValidationError("invalid status filter", map[string]any{"status": filter.Status})
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return filter, apperrors.NewValidationError("invalid type filter", map[string]any{"type": filter.Type})
	}
	if filter.Priority != "" && !filter.Priority.Valid() {
		return filter, apperrors.NewValidationError("invalid priority filter", map[string]any{"priority": filter.Priority})
	}
	var err error
	if filter.Breached, err = parseBoolQuery(c, "breached"); err != nil {
		return filter, err
	}
	if filter.Warning, err = parseBoolQuery(c, "warning"); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseBoolQuery(c *fiber.Ctx, name string) (*bool, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, apperrors.NewValidationError("invalid "+name+" filter", map[string]any{name: raw})
	}
	return &val, nil
}
