package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/itsm-sla/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTicket(t *testing.T, repo *MemoryTicketRepository, created time.Time) *domain.Ticket {
	t.Helper()
	ticket := &domain.Ticket{ProductID: "crm", ModuleID: "billing", IssueType: "outage", Status: domain.TicketStatusNew, CreatedAt: created}
	require.NoError(t, repo.Create(context.Background(), ticket))
	return ticket
}

func TestMemoryTicketUpdateStatusIsConditional(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTicketRepository()
	ticket := newTicket(t, repo, t0)

	updated, err := repo.UpdateStatus(ctx, ticket.ID, domain.TicketStatusNew, domain.TicketStatusClosed, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, updated.Status)
	require.NotNil(t, updated.ClosedAt)

	_, err = repo.UpdateStatus(ctx, ticket.ID, domain.TicketStatusNew, domain.TicketStatusInProgress, t0)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = repo.UpdateStatus(ctx, "missing", domain.TicketStatusNew, domain.TicketStatusClosed, t0)
	assert.ErrorIs(t, err, pgx.ErrNoRows)

	reopened, err := repo.UpdateStatus(ctx, ticket.ID, domain.TicketStatusClosed, domain.TicketStatusInProgress, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, reopened.ClosedAt)
}

func TestMemoryTicketEscalateGuardsPreviousStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTicketRepository()
	ticket := newTicket(t, repo, t0)

	event := &domain.EscalationEvent{
		TicketID:        ticket.ID,
		EscalationLevel: domain.EscalationLevelManager,
		Reason:          domain.EscalationReasonBreach,
		PreviousStatus:  domain.TicketStatusNew,
		Timestamp:       t0.Add(time.Hour),
	}
	require.NoError(t, repo.Escalate(ctx, event))
	assert.NotEmpty(t, event.ID)

	again := *event
	again.ID = ""
	assert.ErrorIs(t, repo.Escalate(ctx, &again), ErrConflict)

	events, err := repo.ListEscalations(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	stored, err := repo.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusEscalated, stored.Status)
}

func TestMemoryTicketSweepQueries(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTicketRepository()
	older := newTicket(t, repo, t0)
	newer := newTicket(t, repo, t0.Add(time.Minute))
	attached := newTicket(t, repo, t0.Add(2*time.Minute))
	require.NoError(t, repo.MarkSLAAttached(ctx, attached.ID, t0))

	pending, err := repo.ListPendingSLA(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, older.ID, pending[0].ID)
	assert.Equal(t, newer.ID, pending[1].ID)

	_, err = repo.UpdateStatus(ctx, newer.ID, domain.TicketStatusNew, domain.TicketStatusClosed, t0.Add(time.Hour))
	require.NoError(t, err)

	closed, err := repo.ListClosedSince(ctx, t0.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, newer.ID, closed[0].ID)

	closed, err = repo.ListClosedSince(ctx, t0.Add(time.Hour+time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, closed)
}

func TestMemorySlaConfigKeyUniqueness(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySlaConfigRepository()
	cfg := &domain.SlaConfiguration{ProductID: "crm", ModuleID: "billing", IssueName: "outage", PriorityLevel: domain.PriorityP1, ResponseTimeMinutes: 60, ResolutionTimeMinutes: 240, IsActive: true}
	require.NoError(t, repo.Create(ctx, cfg))

	dup := *cfg
	dup.ID = ""
	assert.ErrorIs(t, repo.Create(ctx, &dup), ErrDuplicate)

	found, err := repo.FindByKey(ctx, cfg.Key())
	require.NoError(t, err)
	assert.Equal(t, cfg.ID, found.ID)

	_, err = repo.FindByKey(ctx, domain.ConfigKey{ProductID: "crm", ModuleID: "billing", IssueName: "other"})
	assert.ErrorIs(t, err, pgx.ErrNoRows)

	replacement := *cfg
	replacement.ID = ""
	replacement.ResolutionTimeMinutes = 480
	created, err := repo.Upsert(ctx, &replacement)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, cfg.ID, replacement.ID)

	inactive := false
	listed, err := repo.List(ctx, SlaConfigFilter{Active: &inactive})
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestMemoryTimerOptimisticUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTimerRepository()
	timer := &domain.Timer{TicketID: "t-1", Type: domain.TimerTypeResponse, Status: domain.TimerStatusActive, Deadline: t0.Add(time.Hour)}
	require.NoError(t, repo.CreateBatch(ctx, []*domain.Timer{timer}))
	assert.Equal(t, 1, timer.Version)

	dup := &domain.Timer{TicketID: "t-1", Type: domain.TimerTypeResponse}
	assert.ErrorIs(t, repo.CreateBatch(ctx, []*domain.Timer{dup}), ErrDuplicate)

	first, err := repo.GetByID(ctx, timer.ID)
	require.NoError(t, err)
	second, err := repo.GetByID(ctx, timer.ID)
	require.NoError(t, err)

	first.Status = domain.TimerStatusPaused
	require.NoError(t, repo.Update(ctx, first))
	assert.Equal(t, 2, first.Version)

	second.Status = domain.TimerStatusCompleted
	assert.ErrorIs(t, repo.Update(ctx, second), ErrConflict)

	open, err := repo.ListOpen(ctx, TimerFilter{Status: domain.TimerStatusPaused})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, timer.ID, open[0].ID)
}
