package legacy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/itsm-sla/internal/domain"
	apperrors "github.com/spec-kit/itsm-sla/pkg/util/errorutil"
)

// Source yields legacy rules.
type Source interface {
	ReadConfigs(ctx context.Context) ([]domain.SlaConfiguration, error)
}

// Target stores rules; it reports whether the rule was new.
type Target interface {
	Upsert(ctx context.Context, config *domain.SlaConfiguration) (bool, error)
}

// KeyLookup finds the current rule for a key. Used for dry runs.
type KeyLookup interface {
	FindByKey(ctx context.Context, key domain.ConfigKey) (*domain.SlaConfiguration, error)
}

// Action is what the import did, or would do, with one row.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionSkip   Action = "skip"
)

// Outcome describes one imported row.
type Outcome struct {
	Key    domain.ConfigKey
	Action Action
	Reason string
}

// Report summarises an import run.
type Report struct {
	DryRun   bool
	Outcomes []Outcome
}

// Count returns how many rows ended with action.
func (r Report) Count(action Action) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Action == action {
			n++
		}
	}
	return n
}

// Importer copies legacy rules into the SLA configuration store.
type Importer struct {
	source Source
	target Target
	lookup KeyLookup
	logger *zap.Logger
}

// NewImporter constructs an importer. lookup is only needed for dry runs.
func NewImporter(source Source, target Target, lookup KeyLookup, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{source: source, target: target, lookup: lookup, logger: logger}
}

// Run imports every legacy row. Invalid rows are reported and skipped; other errors abort.
func (i *Importer) Run(ctx context.Context, dryRun bool) (Report, error) {
	report := Report{DryRun: dryRun}
	configs, err := i.source.ReadConfigs(ctx)
	if err != nil {
		return report, err
	}

	for idx := range configs {
		config := &configs[idx]
		config.Normalize()
		outcome := Outcome{Key: config.Key()}

		if err := config.Validate(); err != nil {
			outcome.Action = ActionSkip
			outcome.Reason = err.Error()
			i.logger.Warn("skipping invalid legacy sla configuration", zap.String("key", outcome.Key.String()), zap.Error(err))
			report.Outcomes = append(report.Outcomes, outcome)
			continue
		}

		if dryRun {
			action, err := i.plan(ctx, config.Key())
			if err != nil {
				return report, err
			}
			outcome.Action = action
			report.Outcomes = append(report.Outcomes, outcome)
			continue
		}

		created, err := i.target.Upsert(ctx, config)
		switch {
		case apperrors.IsCode(err, apperrors.CodeValidation):
			outcome.Action = ActionSkip
			outcome.Reason = err.Error()
		case err != nil:
			return report, fmt.Errorf("import %s: %w", outcome.Key, err)
		case created:
			outcome.Action = ActionCreate
		default:
			outcome.Action = ActionUpdate
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	i.logger.Info("legacy sla import finished",
		zap.Bool("dry_run", dryRun),
		zap.Int("created", report.Count(ActionCreate)),
		zap.Int("updated", report.Count(ActionUpdate)),
		zap.Int("skipped", report.Count(ActionSkip)))
	return report, nil
}

func (i *Importer) plan(ctx context.Context, key domain.ConfigKey) (Action, error) {
	if i.lookup == nil {
		return ActionCreate, nil
	}
	_, err := i.lookup.FindByKey(ctx, key)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ActionCreate, nil
	case err != nil:
		return "", fmt.Errorf("look up %s: %w", key, err)
	default:
		return ActionUpdate, nil
	}
}
