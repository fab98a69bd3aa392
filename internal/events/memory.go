package events

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// MemoryRepository keeps events in process memory. It does not know the
// catalog; the registry checks event types before inserting.
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[int64]Event
	bySlug map[string]int64
	nextID int64
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[int64]Event),
		bySlug: make(map[string]int64),
	}
}

// Insert implements RepositoryPort.
func (r *MemoryRepository) Insert(_ context.Context, e Event) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.bySlug[e.Slug]; taken {
		return Event{}, ErrSlugConflict
	}
	r.nextID++
	e.ID = r.nextID
	e.IsActive = true
	e.UpdatedAt = e.CreatedAt
	e.DeletedAt = nil
	stored := e.clone()
	r.byID[e.ID] = stored
	r.bySlug[e.Slug] = e.ID
	return stored.clone(), nil
}

// Get implements RepositoryPort.
func (r *MemoryRepository) Get(_ context.Context, id int64) (Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return Event{}, ErrNotFound
	}
	return e.clone(), nil
}

// GetBySlug implements RepositoryPort.
func (r *MemoryRepository) GetBySlug(_ context.Context, slug string) (Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.bySlug[slug]
	if !ok {
		return Event{}, ErrNotFound
	}
	return r.byID[id].clone(), nil
}

// List implements RepositoryPort.
func (r *MemoryRepository) List(_ context.Context, filter ListFilter) ([]Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Event
	for _, id := range slices.Sorted(maps.Keys(r.byID)) {
		e := r.byID[id]
		if filter.matches(e) {
			out = append(out, e.clone())
		}
	}
	return out, nil
}

// Update implements RepositoryPort.
func (r *MemoryRepository) Update(_ context.Context, id int64, in UpdateEventInput, at time.Time) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok || e.Deleted() {
		return Event{}, ErrNotFound
	}
	if in.Name != nil {
		e.Name = *in.Name
	}
	if in.Description != nil {
		d := *in.Description
		e.Description = &d
	}
	if in.Settings != nil {
		e.Settings = maps.Clone(in.Settings)
	}
	e.UpdatedAt = at
	r.byID[id] = e
	return e.clone(), nil
}

// Deactivate implements RepositoryPort.
func (r *MemoryRepository) Deactivate(_ context.Context, id int64, at time.Time) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok || e.Deleted() {
		return Event{}, ErrNotFound
	}
	deletedAt := at
	e.DeletedAt = &deletedAt
	e.IsActive = false
	e.UpdatedAt = at
	r.byID[id] = e
	return e.clone(), nil
}
