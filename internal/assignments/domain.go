// Package assignments holds the (subject, event, role) links and the direct
// (subject, event, permission) grants. It is the only writer of either.
package assignments

import (
	"context"
	"errors"

	"github.com/eventguard/eventguard/internal/events"
)

var (
	// ErrInvalidRole indicates the role is defined neither by the event's type nor globally.
	ErrInvalidRole = errors.New("assignments: invalid role")
	// ErrInvalidPermission indicates the permission is defined neither by the event's type nor globally.
	ErrInvalidPermission = errors.New("assignments: invalid permission")
	// ErrInvalidSubject indicates an empty subject id.
	ErrInvalidSubject = errors.New("assignments: invalid subject")
)

// EventLookup resolves events. *events.Registry satisfies it.
type EventLookup interface {
	GetEvent(ctx context.Context, id int64, opts events.GetOptions) (events.Event, error)
}

// Vocabulary answers whether a name exists in an event type's scope or the
// global scope. *catalog.Store satisfies it.
type Vocabulary interface {
	HasRole(typeSlug, role string) bool
	HasPermission(typeSlug, perm string) bool
}

// Invalidator drops the cached permission set of a subject on an event.
// *permcache.Manager satisfies it.
type Invalidator interface {
	Invalidate(ctx context.Context, subject string, eventID int64) error
}

// RepositoryPort persists assignments. Adds are idempotent; removes report
// whether a row was deleted. Listings are sorted.
type RepositoryPort interface {
	AddRole(ctx context.Context, subject string, eventID int64, role string) error
	RemoveRole(ctx context.Context, subject string, eventID int64, role string) (bool, error)
	Roles(ctx context.Context, subject string, eventID int64) ([]string, error)
	AddPermission(ctx context.Context, subject string, eventID int64, perm string) error
	RemovePermission(ctx context.Context, subject string, eventID int64, perm string) (bool, error)
	Permissions(ctx context.Context, subject string, eventID int64) ([]string, error)
	// Subjects lists every subject holding a role or a grant on the event.
	Subjects(ctx context.Context, eventID int64) ([]string, error)
}
