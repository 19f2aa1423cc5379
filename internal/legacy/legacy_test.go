package legacy

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/itsm-sla/internal/domain"
	"github.com/spec-kit/itsm-sla/internal/repository"
	"github.com/spec-kit/itsm-sla/internal/service"
)

var legacyColumns = []string{
	"product_id", "module_id", "issue_name", "priority_level",
	"response_time_minutes", "resolution_time_minutes", "escalation_time_minutes",
	"escalation_level", "business_hours_only", "is_active",
}

func mockLegacyRows(t *testing.T) *Reader {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})

	rows := sqlmock.NewRows(legacyColumns).
		AddRow("crm", "billing", "invoice-missing", "p0", 30, 240, 60, "CEO", true, true).
		AddRow("crm", "billing", "refund", "P2", 120, 960, nil, nil, false, true).
		AddRow("crm", "reports", "slow", "P3", 600, 300, nil, nil, false, false)
	mock.ExpectQuery(regexp.QuoteMeta("FROM sla_configurations")).WillReturnRows(rows)
	return NewReader(db)
}

func TestReaderMapsLegacyColumns(t *testing.T) {
	configs, err := mockLegacyRows(t).ReadConfigs(context.Background())
	require.NoError(t, err)
	require.Len(t, configs, 3)

	first := configs[0]
	assert.Equal(t, domain.PriorityLevel("p0"), first.PriorityLevel)
	require.NotNil(t, first.EscalationTimeMinutes)
	assert.Equal(t, 60, *first.EscalationTimeMinutes)
	assert.Equal(t, domain.EscalationLevel("CEO"), first.EscalationLevel)
	assert.True(t, first.BusinessHoursOnly)

	assert.Nil(t, configs[1].EscalationTimeMinutes)
	assert.Empty(t, configs[1].EscalationLevel)
	assert.False(t, configs[2].IsActive)
}

func TestReaderWrapsQueryErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery("SELECT").WillReturnError(assert.AnError)

	_, err = NewReader(db).ReadConfigs(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestImportUpsertsValidRowsAndSkipsInvalid(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemorySlaConfigRepository()
	existing := &domain.SlaConfiguration{
		ProductID: "crm", ModuleID: "billing", IssueName: "refund", PriorityLevel: domain.PriorityP3,
		ResponseTimeMinutes: 240, ResolutionTimeMinutes: 1440, IsActive: true,
	}
	require.NoError(t, repo.Create(ctx, existing))

	importer := NewImporter(mockLegacyRows(t), service.NewSlaConfigService(repo, nil, nil), repo, nil)
	report, err := importer.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(ActionCreate))
	assert.Equal(t, 1, report.Count(ActionUpdate))
	assert.Equal(t, 1, report.Count(ActionSkip))
	assert.Contains(t, report.Outcomes[2].Reason, "must not exceed")

	created, err := repo.FindByKey(ctx, domain.ConfigKey{ProductID: "crm", ModuleID: "billing", IssueName: "invoice-missing"})
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityP0, created.PriorityLevel)
	assert.Equal(t, domain.EscalationLevelCEO, created.EscalationLevel)

	updated, err := repo.FindByKey(ctx, existing.Key())
	require.NoError(t, err)
	assert.Equal(t, existing.ID, updated.ID)
	assert.Equal(t, 960, updated.ResolutionTimeMinutes)
}

func TestDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemorySlaConfigRepository()

	importer := NewImporter(mockLegacyRows(t), service.NewSlaConfigService(repo, nil, nil), repo, nil)
	report, err := importer.Run(ctx, true)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.Count(ActionCreate))
	assert.Equal(t, 1, report.Count(ActionSkip))

	all, err := repo.List(ctx, repository.SlaConfigFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}
