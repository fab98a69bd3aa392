// Package rbac resolves the effective permissions of a subject on an event
// and exposes them to HTTP handlers.
package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/eventguard/eventguard/internal/events"
	"github.com/eventguard/eventguard/internal/permcache"
)

// ErrStoreFailure marks failures of the underlying stores. Missing subjects,
// roles and events are not failures; they resolve to an empty set.
var ErrStoreFailure = errors.New("rbac: store failure")

// AssignmentSource lists what a subject holds on an event. *assignments.Table satisfies it.
type AssignmentSource interface {
	RolesOf(ctx context.Context, subject string, eventID int64) ([]string, error)
	DirectPermissionsOf(ctx context.Context, subject string, eventID int64) ([]string, error)
}

// EventSource resolves events. *events.Registry satisfies it.
type EventSource interface {
	GetEvent(ctx context.Context, id int64, opts events.GetOptions) (events.Event, error)
}

// Catalog maps roles to permissions. *catalog.Store satisfies it.
type Catalog interface {
	RolePermissions(typeSlug, role string) ([]string, bool)
	HasPermission(typeSlug, perm string) bool
}

// Resolver computes effective permission sets, consulting the permission
// cache first.
type Resolver struct {
	assignments AssignmentSource
	events      EventSource
	catalog     Catalog
	cache       *permcache.Manager
	logger      *slog.Logger
	group       singleflight.Group
}

// NewResolver builds a Resolver. A nil cache disables caching.
func NewResolver(assignments AssignmentSource, lookup EventSource, catalog Catalog, cache *permcache.Manager, logger *slog.Logger) *Resolver {
	if cache == nil {
		cache = permcache.NewManager(permcache.Noop{}, permcache.Options{})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		assignments: assignments,
		events:      lookup,
		catalog:     catalog,
		cache:       cache,
		logger:      logger,
	}
}

// EffectivePermissions returns the union of the permissions granted by every
// role subject holds on the event plus its direct grants.
//
// Cache failures degrade to the uncached path. Concurrent misses for the same
// (subject, event) against the same cache stamp share a single computation.
func (r *Resolver) EffectivePermissions(ctx context.Context, subject string, eventID int64) (PermissionSet, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return PermissionSet{}, nil
	}

	perms, ok, err := r.cache.Get(ctx, subject, eventID)
	if err != nil {
		r.logger.Warn("permission cache get",
			slog.String("subject", subject), slog.Int64("event_id", eventID), slog.Any("error", err))
	} else if ok {
		return NewPermissionSet(perms...), nil
	}

	stamp, stampErr := r.cache.Stamp(ctx, subject, eventID)
	if stampErr != nil {
		r.logger.Warn("permission cache stamp",
			slog.String("subject", subject), slog.Int64("event_id", eventID), slog.Any("error", stampErr))
	}
	key := stamp.String() + "|" + strconv.FormatInt(eventID, 10) + "|" + subject
	v, err, _ := r.group.Do(key, func() (any, error) {
		// The computation is shared; one caller's cancellation must not fail the others.
		ctx := context.WithoutCancel(ctx)
		set, err := r.Uncached(ctx, subject, eventID)
		if err != nil {
			return nil, err
		}
		if stampErr != nil {
			return set, nil
		}
		if _, err := r.cache.Put(ctx, subject, eventID, set.Names(), stamp); err != nil {
			r.logger.Warn("permission cache put",
				slog.String("subject", subject), slog.Int64("event_id", eventID), slog.Any("error", err))
		}
		return set, nil
	})
	if err != nil {
		return PermissionSet{}, err
	}
	return v.(PermissionSet), nil
}

// Uncached computes the permission set straight from the stores.
func (r *Resolver) Uncached(ctx context.Context, subject string, eventID int64) (PermissionSet, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return PermissionSet{}, nil
	}
	e, err := r.events.GetEvent(ctx, eventID, events.GetOptions{})
	if errors.Is(err, events.ErrNotFound) {
		return PermissionSet{}, nil
	}
	if err != nil {
		return PermissionSet{}, fmt.Errorf("%w: load event %d: %w", ErrStoreFailure, eventID, err)
	}

	roles, err := r.assignments.RolesOf(ctx, subject, eventID)
	if err != nil {
		return PermissionSet{}, fmt.Errorf("%w: roles of %s: %w", ErrStoreFailure, subject, err)
	}
	direct, err := r.assignments.DirectPermissionsOf(ctx, subject, eventID)
	if err != nil {
		return PermissionSet{}, fmt.Errorf("%w: permissions of %s: %w", ErrStoreFailure, subject, err)
	}

	var names []string
	for _, role := range roles {
		// Roles dropped from the catalog grant nothing.
		perms, ok := r.catalog.RolePermissions(e.TypeSlug, role)
		if ok {
			names = append(names, perms...)
		}
	}
	for _, perm := range direct {
		if r.catalog.HasPermission(e.TypeSlug, perm) {
			names = append(names, perm)
		}
	}
	return NewPermissionSet(names...), nil
}

// HasPermission reports whether perm is in the subject's effective set.
func (r *Resolver) HasPermission(ctx context.Context, subject string, eventID int64, perm string) (bool, error) {
	set, err := r.EffectivePermissions(ctx, subject, eventID)
	if err != nil {
		return false, err
	}
	return set.Has(perm), nil
}

// HasAnyPermission reports whether the subject holds at least one of perms.
func (r *Resolver) HasAnyPermission(ctx context.Context, subject string, eventID int64, perms ...string) (bool, error) {
	set, err := r.EffectivePermissions(ctx, subject, eventID)
	if err != nil {
		return false, err
	}
	return set.HasAny(perms...), nil
}

// HasAllPermissions reports whether the subject holds every one of perms.
func (r *Resolver) HasAllPermissions(ctx context.Context, subject string, eventID int64, perms ...string) (bool, error) {
	set, err := r.EffectivePermissions(ctx, subject, eventID)
	if err != nil {
		return false, err
	}
	return set.HasAll(perms...), nil
}

// Cache exposes the permission cache manager.
func (r *Resolver) Cache() *permcache.Manager {
	return r.cache
}
