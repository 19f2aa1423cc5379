package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/itsm-sla/internal/api/dto"
	"github.com/spec-kit/itsm-sla/internal/auth"
	"github.com/spec-kit/itsm-sla/internal/domain"
	"github.com/spec-kit/itsm-sla/internal/service"
	"github.com/spec-kit/itsm-sla/internal/sla"
	apperrors "github.com/spec-kit/itsm-sla/pkg/util/errorutil"
)

// TicketsHandler exposes the ticket workflow steps that drive SLA timers.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	detail, err := h.service.CreateTicket(c.UserContext(), actorID(c), service.TicketCreateInput{
		ID:         req.ID,
		ProductID:  req.ProductID,
		ModuleID:   req.ModuleID,
		IssueType:  req.IssueType,
		Title:      req.Title,
		AssignedTo: req.AssignedTo,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": ticketDetail(detail)})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	detail, err := h.service.GetTicket(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(detail)})
}

// GetSLA GET /tickets/:id/sla.
func (h *TicketsHandler) GetSLA(c *fiber.Ctx) error {
	state, err := h.service.GetSLA(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSLAResponse(state)})
}

// RecordFirstResponse POST /tickets/:id/first-response.
func (h *TicketsHandler) RecordFirstResponse(c *fiber.Ctx) error {
	ticket, err := h.service.RecordFirstResponse(c.UserContext(), actorID(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// UpdateStatus PATCH /tickets/:id/status.
func (h *TicketsHandler) UpdateStatus(c *fiber.Ctx) error {
	var req dto.UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Status == "" {
		return apperrors.NewValidationError("status required", nil)
	}
	ticket, err := h.service.UpdateStatus(c.UserContext(), actorID(c), c.Params("id"), req.Status, req.Comment)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// ListEscalations GET /tickets/:id/escalations.
func (h *TicketsHandler) ListEscalations(c *fiber.Ctx) error {
	escalations, err := h.service.ListEscalations(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.EscalationResponse, 0, len(escalations))
	for _, e := range escalations {
		items = append(items, dto.EscalationResponse{
			ID:              e.ID,
			TicketID:        e.TicketID,
			TimerID:         e.TimerID,
			EscalationLevel: e.EscalationLevel,
			Reason:          e.Reason,
			PreviousStatus:  e.PreviousStatus,
			TriggeredBy:     e.TriggeredBy,
			Timestamp:       e.Timestamp,
		})
	}
	return c.JSON(fiber.Map{"data": items})
}

// ListHistory GET /tickets/:id/history.
func (h *TicketsHandler) ListHistory(c *fiber.Ctx) error {
	history, err := h.service.ListHistory(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.HistoryResponse, 0, len(history))
	for _, entry := range history {
		items = append(items, dto.HistoryResponse{
			ID:            entry.ID,
			ChangedByType: entry.ChangedByType,
			ChangedByID:   entry.ChangedByID,
			ChangeType:    entry.ChangeType,
			OldValue:      entry.OldValue,
			NewValue:      entry.NewValue,
			CreatedAt:     entry.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"data": items})
}

func actorID(c *fiber.Ctx) string {
	if principal, ok := auth.PrincipalFromContext(c); ok {
		return principal.SubjectID
	}
	return ""
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func ticketResponse(ticket *domain.Ticket) dto.TicketResponse {
	return dto.TicketResponse{
		ID:              ticket.ID,
		ProductID:       ticket.ProductID,
		ModuleID:        ticket.ModuleID,
		IssueType:       ticket.IssueType,
		Title:           ticket.Title,
		Status:          ticket.Status,
		AssignedTo:      ticket.AssignedTo,
		CreatedAt:       ticket.CreatedAt,
		UpdatedAt:       ticket.UpdatedAt,
		FirstResponseAt: ticket.FirstResponseAt,
		ClosedAt:        ticket.ClosedAt,
	}
}

func ticketDetail(detail *service.TicketDetail) dto.TicketDetailResponse {
	return dto.TicketDetailResponse{
		TicketResponse: ticketResponse(detail.Ticket),
		SLA:            ticketSLAResponse(detail.SLA),
	}
}

func ticketSLAResponse(state *sla.TicketSLA) dto.TicketSLAResponse {
	resp := dto.TicketSLAResponse{
		TicketID:    state.TicketID,
		HasSLA:      state.HasSLA(),
		EvaluatedAt: formatTime(state.EvaluatedAt),
		Timers:      make([]dto.TimerResponse, 0, len(state.Timers)),
	}
	if !resp.HasSLA {
		resp.Label = dto.NoSLALabel
	}
	for _, view := range state.Timers {
		resp.Timers = append(resp.Timers, timerResponse(view))
	}
	return resp
}

func timerResponse(view sla.TimerView) dto.TimerResponse {
	timer := view.Timer
	return dto.TimerResponse{
		TimerID:                  timer.ID,
		TicketID:                 timer.TicketID,
		TimerType:                timer.Type,
		Status:                   timer.Status,
		RemainingMinutes:         view.State.RemainingMinutes,
		IsBreached:               view.State.IsBreached,
		IsWarning:                view.State.IsWarning,
		IsEscalationNeeded:       view.State.IsEscalationNeeded,
		IsEscalationWarning:      view.State.IsEscalationWarning,
		PriorityLevel:            view.State.Priority,
		Deadline:                 formatTime(timer.Deadline),
		EscalationAt:             formatTimePtr(timer.EscalationAt),
		TimeLimitMinutes:         timer.LimitMinutes,
		PausedAccumulatedMinutes: int64(timer.PausedTotal / time.Minute),
		BreachedAt:               formatTimePtr(timer.BreachedAt),
		BusinessHoursOnly:        timer.BusinessHoursOnly,
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
