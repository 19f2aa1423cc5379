package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/itsm-sla/internal/domain"
)

// MemoryTicketRepository is an in-memory implementation of TicketRepository and
// TicketHistoryRepository, used when no database is configured and in tests.
type MemoryTicketRepository struct {
	mu          sync.RWMutex
	tickets     map[string]*domain.Ticket
	escalations map[string][]domain.EscalationEvent
	history     map[string][]domain.TicketHistory
}

// NewMemoryTicketRepository creates an empty store.
func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{
		tickets:     make(map[string]*domain.Ticket),
		escalations: make(map[string][]domain.EscalationEvent),
		history:     make(map[string][]domain.TicketHistory),
	}
}

// Create stores ticket, assigning an id when it has none.
func (r *MemoryTicketRepository) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	if _, exists := r.tickets[ticket.ID]; exists {
		return ErrDuplicate
	}
	now := time.Now().UTC()
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = now
	}
	ticket.UpdatedAt = ticket.CreatedAt
	stored := *ticket
	r.tickets[ticket.ID] = &stored
	return nil
}

// GetByID returns a copy of the ticket or pgx.ErrNoRows.
func (r *MemoryTicketRepository) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ticket, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := *ticket
	return &out, nil
}

// UpdateStatus performs a compare-and-set on the ticket status.
func (r *MemoryTicketRepository) UpdateStatus(_ context.Context, id string, from, to domain.TicketStatus, at time.Time) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if ticket.Status != from {
		return nil, ErrConflict
	}
	ticket.Status = to
	ticket.UpdatedAt = at
	if to == domain.TicketStatusClosed {
		closedAt := at
		ticket.ClosedAt = &closedAt
	} else {
		ticket.ClosedAt = nil
	}
	out := *ticket
	return &out, nil
}

// MarkFirstResponse stamps the first response time once.
func (r *MemoryTicketRepository) MarkFirstResponse(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket, ok := r.tickets[id]
	if !ok {
		return pgx.ErrNoRows
	}
	if ticket.FirstResponseAt == nil {
		stamp := at
		ticket.FirstResponseAt = &stamp
	}
	ticket.UpdatedAt = at
	return nil
}

// MarkSLAAttached records that timers were considered for the ticket.
func (r *MemoryTicketRepository) MarkSLAAttached(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket, ok := r.tickets[id]
	if !ok {
		return pgx.ErrNoRows
	}
	if ticket.SLAAttachedAt == nil {
		stamp := at
		ticket.SLAAttachedAt = &stamp
	}
	return nil
}

// Escalate flips the status and appends the event under one lock.
func (r *MemoryTicketRepository) Escalate(_ context.Context, event *domain.EscalationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket, ok := r.tickets[event.TicketID]
	if !ok {
		return pgx.ErrNoRows
	}
	if ticket.Status != event.PreviousStatus {
		return ErrConflict
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	ticket.Status = domain.TicketStatusEscalated
	ticket.UpdatedAt = event.Timestamp
	r.escalations[event.TicketID] = append(r.escalations[event.TicketID], *event)
	return nil
}

// ListEscalations returns the ticket's escalation events oldest first.
func (r *MemoryTicketRepository) ListEscalations(_ context.Context, ticketID string) ([]domain.EscalationEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.escalations[ticketID]
	out := make([]domain.EscalationEvent, len(events))
	copy(out, events)
	return out, nil
}

// ListPendingSLA returns open tickets without attached timers, oldest first.
func (r *MemoryTicketRepository) ListPendingSLA(_ context.Context, limit int) ([]domain.Ticket, error) {
	return r.collect(func(t *domain.Ticket) bool {
		return t.SLAAttachedAt == nil && t.IsOpen()
	}, func(t domain.Ticket) time.Time { return t.CreatedAt }, limit), nil
}

// ListClosedSince returns tickets closed at or after since, oldest closure first.
func (r *MemoryTicketRepository) ListClosedSince(_ context.Context, since time.Time, limit int) ([]domain.Ticket, error) {
	return r.collect(func(t *domain.Ticket) bool {
		return t.Status == domain.TicketStatusClosed && t.ClosedAt != nil && !t.ClosedAt.Before(since)
	}, func(t domain.Ticket) time.Time { return *t.ClosedAt }, limit), nil
}

func (r *MemoryTicketRepository) collect(match func(*domain.Ticket) bool, orderBy func(domain.Ticket) time.Time, limit int) []domain.Ticket {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []domain.Ticket
	for _, ticket := range r.tickets {
		if match(ticket) {
			result = append(result, *ticket)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return orderBy(result[i]).Before(orderBy(result[j]))
	})
	if limit = normalizeLimit(limit); len(result) > limit {
		result = result[:limit]
	}
	return result
}

// MemoryTicketHistoryRepository exposes the history half of MemoryTicketRepository.
type MemoryTicketHistoryRepository struct {
	store *MemoryTicketRepository
}

// History returns a TicketHistoryRepository sharing this store.
func (r *MemoryTicketRepository) History() *MemoryTicketHistoryRepository {
	return &MemoryTicketHistoryRepository{store: r}
}

// Create appends an audit entry.
func (h *MemoryTicketHistoryRepository) Create(_ context.Context, entry *domain.TicketHistory) error {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()

	if _, ok := h.store.tickets[entry.TicketID]; !ok {
		return pgx.ErrNoRows
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	h.store.history[entry.TicketID] = append(h.store.history[entry.TicketID], *entry)
	return nil
}

// ListByTicket returns the ticket's audit entries in insertion order.
func (h *MemoryTicketHistoryRepository) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketHistory, error) {
	h.store.mu.RLock()
	defer h.store.mu.RUnlock()

	entries := h.store.history[ticketID]
	out := make([]domain.TicketHistory, len(entries))
	copy(out, entries)
	return out, nil
}
