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

// MemorySlaConfigRepository is an in-memory implementation of SlaConfigRepository.
type MemorySlaConfigRepository struct {
	mu      sync.RWMutex
	configs map[string]*domain.SlaConfiguration
	byKey   map[domain.ConfigKey]string
}

// NewMemorySlaConfigRepository creates an empty store.
func NewMemorySlaConfigRepository() *MemorySlaConfigRepository {
	return &MemorySlaConfigRepository{
		configs: make(map[string]*domain.SlaConfiguration),
		byKey:   make(map[domain.ConfigKey]string),
	}
}

// Create stores config; ErrDuplicate when the key is taken.
func (r *MemorySlaConfigRepository) Create(_ context.Context, config *domain.SlaConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byKey[config.Key()]; taken {
		return ErrDuplicate
	}
	r.insertLocked(config)
	return nil
}

// Update replaces the stored config; moving it onto another rule's key is ErrDuplicate.
func (r *MemorySlaConfigRepository) Update(_ context.Context, config *domain.SlaConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.configs[config.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	if owner, taken := r.byKey[config.Key()]; taken && owner != config.ID {
		return ErrDuplicate
	}
	delete(r.byKey, current.Key())
	config.CreatedAt = current.CreatedAt
	config.UpdatedAt = time.Now().UTC()
	stored := *config
	r.configs[config.ID] = &stored
	r.byKey[config.Key()] = config.ID
	return nil
}

// Upsert creates or overwrites the rule with the same key.
func (r *MemorySlaConfigRepository) Upsert(_ context.Context, config *domain.SlaConfiguration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, exists := r.byKey[config.Key()]
	if !exists {
		r.insertLocked(config)
		return true, nil
	}
	current := r.configs[id]
	config.ID = id
	config.CreatedAt = current.CreatedAt
	config.UpdatedAt = time.Now().UTC()
	stored := *config
	r.configs[id] = &stored
	return false, nil
}

// GetByID returns a copy of the config or pgx.ErrNoRows.
func (r *MemorySlaConfigRepository) GetByID(_ context.Context, id string) (*domain.SlaConfiguration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	config, ok := r.configs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := *config
	return &out, nil
}

// FindByKey returns the rule for the triple or pgx.ErrNoRows.
func (r *MemorySlaConfigRepository) FindByKey(_ context.Context, key domain.ConfigKey) (*domain.SlaConfiguration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[key]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := *r.configs[id]
	return &out, nil
}

// List returns configs matching filter ordered by key.
func (r *MemorySlaConfigRepository) List(_ context.Context, filter SlaConfigFilter) ([]domain.SlaConfiguration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []domain.SlaConfiguration
	for _, config := range r.configs {
		if filter.ProductID != "" && config.ProductID != filter.ProductID {
			continue
		}
		if filter.ModuleID != "" && config.ModuleID != filter.ModuleID {
			continue
		}
		if filter.Active != nil && config.IsActive != *filter.Active {
			continue
		}
		result = append(result, *config)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key().String() < result[j].Key().String()
	})
	return result, nil
}

func (r *MemorySlaConfigRepository) insertLocked(config *domain.SlaConfiguration) {
	if config.ID == "" {
		config.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	config.CreatedAt = now
	config.UpdatedAt = now
	stored := *config
	r.configs[config.ID] = &stored
	r.byKey[config.Key()] = config.ID
}

// MemoryTimerRepository is an in-memory implementation of TimerRepository.
type MemoryTimerRepository struct {
	mu     sync.RWMutex
	timers map[string]*domain.Timer
}

// NewMemoryTimerRepository creates an empty store.
func NewMemoryTimerRepository() *MemoryTimerRepository {
	return &MemoryTimerRepository{timers: make(map[string]*domain.Timer)}
}

// CreateBatch stores all timers or none; a second timer of the same type for a ticket is ErrDuplicate.
func (r *MemoryTimerRepository) CreateBatch(_ context.Context, timers []*domain.Timer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool)
	for _, existing := range r.timers {
		seen[existing.TicketID+"|"+string(existing.Type)] = true
	}
	for _, timer := range timers {
		key := timer.TicketID + "|" + string(timer.Type)
		if seen[key] {
			return ErrDuplicate
		}
		seen[key] = true
	}

	now := time.Now().UTC()
	for _, timer := range timers {
		if timer.ID == "" {
			timer.ID = uuid.NewString()
		}
		timer.Version = 1
		timer.CreatedAt = now
		timer.UpdatedAt = now
		stored := *timer
		r.timers[timer.ID] = &stored
	}
	return nil
}

// GetByID returns a copy of the timer or pgx.ErrNoRows.
func (r *MemoryTimerRepository) GetByID(_ context.Context, id string) (*domain.Timer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	timer, ok := r.timers[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := *timer
	return &out, nil
}

// ListByTicket returns the ticket's timers, response first.
func (r *MemoryTimerRepository) ListByTicket(_ context.Context, ticketID string) ([]domain.Timer, error) {
	timers := r.list(func(t *domain.Timer) bool { return t.TicketID == ticketID }, 0)
	sort.SliceStable(timers, func(i, j int) bool {
		return timers[i].Type == domain.TimerTypeResponse && timers[j].Type != domain.TimerTypeResponse
	})
	return timers, nil
}

// Update writes timer when the stored version matches.
func (r *MemoryTimerRepository) Update(_ context.Context, timer *domain.Timer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.timers[timer.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	if current.Version != timer.Version {
		return ErrConflict
	}
	timer.Version++
	timer.UpdatedAt = time.Now().UTC()
	stored := *timer
	r.timers[timer.ID] = &stored
	return nil
}

// ListOpen returns non-completed timers matching filter ordered by deadline.
func (r *MemoryTimerRepository) ListOpen(_ context.Context, filter TimerFilter) ([]domain.Timer, error) {
	return r.list(func(t *domain.Timer) bool {
		if !t.IsOpen() {
			return false
		}
		if filter.TicketID != "" && t.TicketID != filter.TicketID {
			return false
		}
		if filter.Status != "" && t.Status != filter.Status {
			return false
		}
		if filter.Type != "" && t.Type != filter.Type {
			return false
		}
		if filter.Priority != "" && t.Priority != filter.Priority {
			return false
		}
		return true
	}, filter.Limit), nil
}

func (r *MemoryTimerRepository) list(match func(*domain.Timer) bool, limit int) []domain.Timer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []domain.Timer
	for _, timer := range r.timers {
		if match(timer) {
			result = append(result, *timer)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Deadline.Equal(result[j].Deadline) {
			return result[i].Deadline.Before(result[j].Deadline)
		}
		if result[i].TicketID != result[j].TicketID {
			return result[i].TicketID < result[j].TicketID
		}
		return result[i].Type < result[j].Type
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}
