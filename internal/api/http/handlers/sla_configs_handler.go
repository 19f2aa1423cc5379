package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/itsm-sla/internal/api/dto"
	"github.com/spec-kit/itsm-sla/internal/domain"
	"github.com/spec-kit/itsm-sla/internal/repository"
	"github.com/spec-kit/itsm-sla/internal/service"
	apperrors "github.com/spec-kit/itsm-sla/pkg/util/errorutil"
)

// SLAConfigsHandler manages SLA rules.
type SLAConfigsHandler struct {
	service *service.SlaConfigService
}

// NewSLAConfigsHandler constructs handler.
func NewSLAConfigsHandler(configService *service.SlaConfigService) *SLAConfigsHandler {
	return &SLAConfigsHandler{service: configService}
}

// List GET /sla/configs.
func (h *SLAConfigsHandler) List(c *fiber.Ctx) error {
	filter := repository.SlaConfigFilter{
		ProductID: c.Query("product_id"),
		ModuleID:  c.Query("module_id"),
	}
	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return apperrors.NewValidationError("invalid active filter", map[string]any{"active": raw})
		}
		filter.Active = &active
	}
	configs, err := h.service.List(c.UserContext(), filter)
	if err != nil {
		return err
	}
	items := make([]dto.SlaConfigResponse, 0, len(configs))
	for i := range configs {
		items = append(items, configResponse(&configs[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Get GET /sla/configs/:id.
func (h *SLAConfigsHandler) Get(c *fiber.Ctx) error {
	config, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": configResponse(config)})
}

// Create POST /sla/configs.
func (h *SLAConfigsHandler) Create(c *fiber.Ctx) error {
	var req dto.SlaConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	config, err := h.service.Create(c.UserContext(), configInput(req))
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": configResponse(config)})
}

// Update PUT /sla/configs/:id.
func (h *SLAConfigsHandler) Update(c *fiber.Ctx) error {
	var req dto.SlaConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	config, err := h.service.Update(c.UserContext(), c.Params("id"), configInput(req))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": configResponse(config)})
}

// SetActive PATCH /sla/configs/:id/active.
func (h *SLAConfigsHandler) SetActive(c *fiber.Ctx) error {
	var req dto.SetActiveRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.IsActive == nil {
		return apperrors.NewValidationError("is_active required", nil)
	}
	config, err := h.service.SetActive(c.UserContext(), c.Params("id"), *req.IsActive)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": configResponse(config)})
}

func configInput(req dto.SlaConfigRequest) service.SlaConfigInput {
	return service.SlaConfigInput{
		ProductID:             req.ProductID,
		ModuleID:              req.ModuleID,
		IssueName:             req.IssueName,
		PriorityLevel:         req.PriorityLevel,
		ResponseTimeMinutes:   req.ResponseTimeMinutes,
		ResolutionTimeMinutes: req.ResolutionTimeMinutes,
		EscalationTimeMinutes: req.EscalationTimeMinutes,
		EscalationLevel:       req.EscalationLevel,
		BusinessHoursOnly:     req.BusinessHoursOnly,
		IsActive:              req.IsActive,
	}
}

func configResponse(config *domain.SlaConfiguration) dto.SlaConfigResponse {
	return dto.SlaConfigResponse{
		ID:                    config.ID,
		ProductID:             config.ProductID,
		ModuleID:              config.ModuleID,
		IssueName:             config.IssueName,
		PriorityLevel:         config.PriorityLevel,
		ResponseTimeMinutes:   config.ResponseTimeMinutes,
		ResolutionTimeMinutes: config.ResolutionTimeMinutes,
		EscalationTimeMinutes: config.EscalationTimeMinutes,
		EscalationLevel:       config.EscalationLevel,
		BusinessHoursOnly:     config.BusinessHoursOnly,
		IsActive:              config.IsActive,
		CreatedAt:             config.CreatedAt,
		UpdatedAt:             config.UpdatedAt,
	}
}
