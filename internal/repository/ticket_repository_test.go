package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/itsm-sla/internal/domain"
)

// fakeTickets answers the ticket INSERT the way Postgres would: the bound id
// is kept, an empty one is generated, and a taken one violates the primary key.
type fakeTickets struct {
	taken map[string]bool
	sql   string
	args  []any
}

func (f *fakeTickets) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("not supported")
}

func (f *fakeTickets) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("not supported")
}

func (f *fakeTickets) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func (f *fakeTickets) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.sql, f.args = sql, args
	id, _ := args[0].(string)
	if id == "" {
		id = "generated-id"
	}
	if f.taken[id] {
		return errRow{&pgconn.PgError{Code: uniqueViolation, ConstraintName: "tickets_pkey"}}
	}
	f.taken[id] = true
	created := time.Now().UTC()
	if at, ok := args[7].(*time.Time); ok && at != nil {
		created = *at
	}
	return valuesRow{id, created, created}
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

type valuesRow struct {
	id      string
	created time.Time
	updated time.Time
}

func (r valuesRow) Scan(dest ...any) error {
	*dest[0].(*string) = r.id
	*dest[1].(*time.Time) = r.created
	*dest[2].(*time.Time) = r.updated
	return nil
}

func TestTicketCreateKeepsCallerID(t *testing.T) {
	db := &fakeTickets{taken: map[string]bool{}}
	repo := &ticketRepository{pool: db}

	ticket := &domain.Ticket{ID: "TCK-1", ProductID: "crm", ModuleID: "billing", Status: domain.TicketStatusNew, CreatedAt: t0}
	require.NoError(t, repo.Create(context.Background(), ticket))

	assert.Equal(t, "TCK-1", ticket.ID)
	assert.Equal(t, "TCK-1", db.args[0])
	assert.Contains(t, db.sql, "NULLIF($1, '')")
	assert.True(t, ticket.CreatedAt.Equal(t0))
}

func TestTicketCreateGeneratesMissingID(t *testing.T) {
	db := &fakeTickets{taken: map[string]bool{}}
	repo := &ticketRepository{pool: db}

	ticket := &domain.Ticket{ProductID: "crm", ModuleID: "billing", Status: domain.TicketStatusNew}
	require.NoError(t, repo.Create(context.Background(), ticket))

	assert.Equal(t, "generated-id", ticket.ID)
	assert.Nil(t, db.args[7])
}

func TestTicketCreateDuplicateID(t *testing.T) {
	db := &fakeTickets{taken: map[string]bool{"TCK-1": true}}
	repo := &ticketRepository{pool: db}

	err := repo.Create(context.Background(), &domain.Ticket{ID: "TCK-1", ProductID: "crm", ModuleID: "billing"})
	assert.ErrorIs(t, err, ErrDuplicate)
}
