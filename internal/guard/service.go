// Package guard composes the catalog, event registry, assignment table and
// resolver into the API consumed by application layers.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/eventguard/eventguard/internal/assignments"
	"github.com/eventguard/eventguard/internal/catalog"
	"github.com/eventguard/eventguard/internal/events"
	"github.com/eventguard/eventguard/internal/permcache"
	"github.com/eventguard/eventguard/internal/rbac"
)

// DefaultOwnerRole is given to an event's owner when its type defines it.
const DefaultOwnerRole = "owner"

// CatalogSyncer mirrors a reloaded catalog into durable storage. *catalog.Syncer satisfies it.
type CatalogSyncer interface {
	Sync(ctx context.Context, store *catalog.Store) (catalog.SyncResult, error)
}

// Deps lists the collaborators of a Service.
type Deps struct {
	Catalog     *catalog.Store
	Registry    *events.Registry
	Assignments *assignments.Table
	Resolver    *rbac.Resolver
	Cache       *permcache.Manager
	// Syncer is optional; it runs on ReloadCatalog when set.
	Syncer    CatalogSyncer
	OwnerRole string
	Logger    *slog.Logger
}

// Service is the EventGuard facade.
type Service struct {
	catalog     *catalog.Store
	registry    *events.Registry
	assignments *assignments.Table
	resolver    *rbac.Resolver
	cache       *permcache.Manager
	syncer      CatalogSyncer
	ownerRole   string
	logger      *slog.Logger
}

// NewService builds a Service.
func NewService(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	ownerRole := catalog.NormalizeName(deps.OwnerRole)
	if ownerRole == "" {
		ownerRole = DefaultOwnerRole
	}
	cache := deps.Cache
	if cache == nil {
		cache = deps.Resolver.Cache()
	}
	return &Service{
		catalog:     deps.Catalog,
		registry:    deps.Registry,
		assignments: deps.Assignments,
		resolver:    deps.Resolver,
		cache:       cache,
		syncer:      deps.Syncer,
		ownerRole:   ownerRole,
		logger:      deps.Logger,
	}
}

// CreateEvent registers an event and gives its owner the owner role when the
// event type, or the global scope, defines one. If that assignment fails the
// event is still returned alongside the error.
func (s *Service) CreateEvent(ctx context.Context, in events.CreateEventInput) (events.Event, error) {
	e, err := s.registry.CreateEvent(ctx, in)
	if err != nil {
		return events.Event{}, err
	}
	if !s.catalog.HasRole(e.TypeSlug, s.ownerRole) {
		return e, nil
	}
	if err := s.assignments.AssignRole(ctx, e.OwnerID, e.ID, s.ownerRole); err != nil {
		return e, fmt.Errorf("guard: assign owner role: %w", err)
	}
	return e, nil
}

// GetEvent returns an event.
func (s *Service) GetEvent(ctx context.Context, id int64, opts events.GetOptions) (events.Event, error) {
	return s.registry.GetEvent(ctx, id, opts)
}

// GetEventBySlug returns an event by slug.
func (s *Service) GetEventBySlug(ctx context.Context, slug string, opts events.GetOptions) (events.Event, error) {
	return s.registry.GetEventBySlug(ctx, slug, opts)
}

// ListEvents lists events.
func (s *Service) ListEvents(ctx context.Context, filter events.ListFilter) ([]events.Event, error) {
	return s.registry.ListEvents(ctx, filter)
}

// UpdateEvent changes mutable fields of an active event.
func (s *Service) UpdateEvent(ctx context.Context, id int64, in events.UpdateEventInput) (events.Event, error) {
	return s.registry.UpdateEvent(ctx, id, in)
}

// Deactivate soft-deletes an event; cached permissions on it are dropped.
func (s *Service) Deactivate(ctx context.Context, id int64) (events.Event, error) {
	return s.registry.Deactivate(ctx, id)
}

// AssignRole gives subject role on the event.
func (s *Service) AssignRole(ctx context.Context, subject string, eventID int64, role string) error {
	return s.assignments.AssignRole(ctx, subject, eventID, role)
}

// RevokeRole removes role from subject on the event.
func (s *Service) RevokeRole(ctx context.Context, subject string, eventID int64, role string) error {
	return s.assignments.RevokeRole(ctx, subject, eventID, role)
}

// GrantPermission grants perm to subject directly, outside any role.
func (s *Service) GrantPermission(ctx context.Context, subject string, eventID int64, perm string) error {
	return s.assignments.GrantPermission(ctx, subject, eventID, perm)
}

// RevokePermission removes a direct grant.
func (s *Service) RevokePermission(ctx context.Context, subject string, eventID int64, perm string) error {
	return s.assignments.RevokePermission(ctx, subject, eventID, perm)
}

// RolesOf lists the roles subject holds on the event.
func (s *Service) RolesOf(ctx context.Context, subject string, eventID int64) ([]string, error) {
	return s.assignments.RolesOf(ctx, subject, eventID)
}

// DirectPermissionsOf lists the direct grants of subject on the event.
func (s *Service) DirectPermissionsOf(ctx context.Context, subject string, eventID int64) ([]string, error) {
	return s.assignments.DirectPermissionsOf(ctx, subject, eventID)
}

// SubjectsOf lists every subject holding a role or grant on the event.
func (s *Service) SubjectsOf(ctx context.Context, eventID int64) ([]string, error) {
	return s.assignments.SubjectsOf(ctx, eventID)
}

// EffectivePermissions resolves the subject's permission set, cache first.
func (s *Service) EffectivePermissions(ctx context.Context, subject string, eventID int64) (rbac.PermissionSet, error) {
	return s.resolver.EffectivePermissions(ctx, subject, eventID)
}

// HasPermission reports whether perm is in the subject's effective set.
func (s *Service) HasPermission(ctx context.Context, subject string, eventID int64, perm string) (bool, error) {
	return s.resolver.HasPermission(ctx, subject, eventID, perm)
}

// ReloadCatalog swaps in a new catalog, mirrors it to storage when a syncer
// is configured, and clears every cached permission set.
func (s *Service) ReloadCatalog(ctx context.Context, cat catalog.Catalog) error {
	if err := s.catalog.Replace(cat); err != nil {
		return err
	}
	var errs []error
	if s.syncer != nil {
		if _, err := s.syncer.Sync(ctx, s.catalog); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.cache.InvalidateAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("guard: invalidate cache: %w", err))
	}
	s.logger.Info("catalog reloaded", slog.Int("event_types", s.catalog.Len()))
	return errors.Join(errs...)
}

// Catalog exposes the catalog store.
func (s *Service) Catalog() *catalog.Store {
	return s.catalog
}

// Resolver exposes the permission resolver.
func (s *Service) Resolver() *rbac.Resolver {
	return s.resolver
}

// Cache exposes the permission cache manager.
func (s *Service) Cache() *permcache.Manager {
	return s.cache
}

// OwnerRole returns the role given to event owners.
func (s *Service) OwnerRole() string {
	return s.ownerRole
}
