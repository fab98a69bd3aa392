// Package events owns the concrete, tenant-scoped resources guarded by the
// engine. Events are never destroyed: deactivation stamps DeletedAt and keeps
// the row for audit.
package events

import (
	"errors"
	"maps"
	"time"
)

var (
	// ErrNotFound indicates the event is absent, or soft-deleted and the
	// lookup did not ask for deleted rows.
	ErrNotFound = errors.New("events: not found")
	// ErrSlugConflict indicates another event, deleted or not, already uses the slug.
	ErrSlugConflict = errors.New("events: slug conflict")
	// ErrUnknownEventType indicates the type slug is not in the catalog.
	ErrUnknownEventType = errors.New("events: unknown event type")
	// ErrInvalidInput wraps validation failures of create and update inputs.
	ErrInvalidInput = errors.New("events: invalid input")
)

// Event is a tenant resource subject to access control.
type Event struct {
	ID          int64
	TypeSlug    string
	Name        string
	Slug        string
	Description *string
	OwnerID     string
	Settings    map[string]any
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// Deleted reports whether the event was deactivated.
func (e Event) Deleted() bool {
	return e.DeletedAt != nil
}

func (e Event) clone() Event {
	out := e
	if e.Description != nil {
		d := *e.Description
		out.Description = &d
	}
	if e.Settings != nil {
		out.Settings = maps.Clone(e.Settings)
	}
	if e.DeletedAt != nil {
		t := *e.DeletedAt
		out.DeletedAt = &t
	}
	return out
}

// CreateEventInput carries the fields of a new event.
type CreateEventInput struct {
	TypeSlug    string         `validate:"required,max=64"`
	Name        string         `validate:"required,max=255"`
	Slug        string         `validate:"required,max=255,slug"`
	Description *string        `validate:"omitempty,max=2000"`
	OwnerID     string         `validate:"required,max=255"`
	Settings    map[string]any `validate:"-"`
}

// UpdateEventInput changes mutable fields; nil fields are left untouched.
type UpdateEventInput struct {
	Name        *string        `validate:"omitempty,min=1,max=255"`
	Description *string        `validate:"omitempty,max=2000"`
	Settings    map[string]any `validate:"-"`
}

// GetOptions tunes single-event lookups.
type GetOptions struct {
	IncludeDeleted bool
}

// ListFilter narrows ListEvents. Zero values match everything active.
type ListFilter struct {
	TypeSlug       string
	OwnerID        string
	IncludeDeleted bool
}

func (f ListFilter) matches(e Event) bool {
	if !f.IncludeDeleted && e.Deleted() {
		return false
	}
	if f.TypeSlug != "" && e.TypeSlug != f.TypeSlug {
		return false
	}
	if f.OwnerID != "" && e.OwnerID != f.OwnerID {
		return false
	}
	return true
}
