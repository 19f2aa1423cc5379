package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/itsm-sla/internal/domain"
	"github.com/spec-kit/itsm-sla/internal/repository"
	apperrors "github.com/spec-kit/itsm-sla/pkg/util/errorutil"
)

// ConfigInvalidator drops cached lookups after a configuration write.
type ConfigInvalidator interface {
	Invalidate(ctx context.Context, key domain.ConfigKey)
}

// SlaConfigService manages SLA rules. Rules are never hard-deleted; they are soft-disabled.
type SlaConfigService struct {
	configs repository.SlaConfigRepository
	cache   ConfigInvalidator
	logger  *zap.Logger
}

// SlaConfigInput is the writable part of an SLA rule.
type SlaConfigInput struct {
	ProductID             string
	ModuleID              string
	IssueName             string
	PriorityLevel         domain.PriorityLevel
	ResponseTimeMinutes   int
	ResolutionTimeMinutes int
	EscalationTimeMinutes *int
	EscalationLevel       domain.EscalationLevel
	BusinessHoursOnly     bool
	IsActive              *bool
}

// NewSlaConfigService constructs the service. cache may be nil.
func NewSlaConfigService(configs repository.SlaConfigRepository, cache ConfigInvalidator, logger *zap.Logger) *SlaConfigService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlaConfigService{configs: configs, cache: cache, logger: logger}
}

// List returns rules matching filter.
func (s *SlaConfigService) List(ctx context.Context, filter repository.SlaConfigFilter) ([]domain.SlaConfiguration, error) {
	return s.configs.List(ctx, filter)
}

// Get returns one rule.
func (s *SlaConfigService) Get(ctx context.Context, id string) (*domain.SlaConfiguration, error) {
	config, err := s.configs.GetByID(ctx, id)
	if err != nil {
		return nil, mapConfigError(err, id)
	}
	return config, nil
}

// Create validates and stores a new rule. Rules are active unless stated otherwise.
func (s *SlaConfigService) Create(ctx context.Context, input SlaConfigInput) (*domain.SlaConfiguration, error) {
	config := &domain.SlaConfiguration{IsActive: true}
	input.applyTo(config)
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if err := s.configs.Create(ctx, config); err != nil {
		return nil, mapConfigError(err, "")
	}
	s.invalidate(ctx, config.Key())
	s.logger.Info("sla configuration created", zap.String("config_id", config.ID), zap.String("key", config.Key().String()))
	return config, nil
}

// Update replaces a rule. Timers already running keep the values they were created with.
func (s *SlaConfigService) Update(ctx context.Context, id string, input SlaConfigInput) (*domain.SlaConfiguration, error) {
	config, err := s.configs.GetByID(ctx, id)
	if err != nil {
		return nil, mapConfigError(err, id)
	}
	previousKey := config.Key()
	input.applyTo(config)
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if err := s.configs.Update(ctx, config); err != nil {
		return nil, mapConfigError(err, id)
	}
	s.invalidate(ctx, previousKey)
	s.invalidate(ctx, config.Key())
	s.logger.Info("sla configuration updated", zap.String("config_id", config.ID), zap.String("key", config.Key().String()))
	return config, nil
}

// SetActive enables or soft-disables a rule.
func (s *SlaConfigService) SetActive(ctx context.Context, id string, active bool) (*domain.SlaConfiguration, error) {
	config, err := s.configs.GetByID(ctx, id)
	if err != nil {
		return nil, mapConfigError(err, id)
	}
	if config.IsActive == active {
		return config, nil
	}
	config.IsActive = active
	if err := s.configs.Update(ctx, config); err != nil {
		return nil, mapConfigError(err, id)
	}
	s.invalidate(ctx, config.Key())
	s.logger.Info("sla configuration toggled", zap.String("config_id", config.ID), zap.Bool("is_active", active))
	return config, nil
}

// Upsert stores config under its key, creating or overwriting. Used by the legacy import.
func (s *SlaConfigService) Upsert(ctx context.Context, config *domain.SlaConfiguration) (bool, error) {
	config.Normalize()
	if err := validateConfig(config); err != nil {
		return false, err
	}
	created, err := s.configs.Upsert(ctx, config)
	if err != nil {
		return false, mapConfigError(err, "")
	}
	s.invalidate(ctx, config.Key())
	return created, nil
}

func (s *SlaConfigService) invalidate(ctx context.Context, key domain.ConfigKey) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, key)
	}
}

func (in SlaConfigInput) applyTo(config *domain.SlaConfiguration) {
	config.ProductID = in.ProductID
	config.ModuleID = in.ModuleID
	config.IssueName = in.IssueName
	config.PriorityLevel = in.PriorityLevel
	config.ResponseTimeMinutes = in.ResponseTimeMinutes
	config.ResolutionTimeMinutes = in.ResolutionTimeMinutes
	config.EscalationTimeMinutes = in.EscalationTimeMinutes
	config.EscalationLevel = in.EscalationLevel
	config.BusinessHoursOnly = in.BusinessHoursOnly
	if in.IsActive != nil {
		config.IsActive = *in.IsActive
	}
	config.Normalize()
}

func validateConfig(config *domain.SlaConfiguration) error {
	if err := config.Validate(); err != nil {
		return apperrors.NewValidationError("invalid sla configuration", map[string]any{"reason": err.Error()})
	}
	return nil
}

func mapConfigError(err error, id string) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return apperrors.NewNotFound("sla configuration", map[string]any{"config_id": id})
	case errors.Is(err, repository.ErrDuplicate):
		return apperrors.NewConflict("an sla configuration already exists for this product, module and issue", nil)
	default:
		return err
	}
}
