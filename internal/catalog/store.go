package catalog

import (
	"fmt"
	"iter"
	"slices"
	"sort"
	"sync"
)

// Store is the process-wide registry of event types, global roles and
// global permissions. It is read-mostly and safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	order       []string
	types       map[string]EventType
	roleOrder   []string
	globalRoles map[string]Role
	globalPerms []string
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		types:       make(map[string]EventType),
		globalRoles: make(map[string]Role),
	}
}

// New builds a Store holding every definition of the catalog.
func New(cat Catalog) (*Store, error) {
	s := NewStore()
	if err := s.load(cat); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(cat Catalog) error {
	for _, def := range cat.EventTypes {
		if err := s.RegisterEventType(def); err != nil {
			return err
		}
	}
	for _, perm := range cat.GlobalPermissions {
		if err := s.RegisterGlobalPermission(perm); err != nil {
			return err
		}
	}
	for _, role := range cat.GlobalRoles {
		if err := s.RegisterGlobalRole(role); err != nil {
			return err
		}
	}
	return nil
}

// RegisterEventType validates and registers an event type.
func (s *Store) RegisterEventType(def Definition) error {
	et, err := buildEventType(def)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.types[et.Slug]; exists {
		return fmt.Errorf("catalog: register %q: %w", et.Slug, ErrDuplicateSlug)
	}
	s.types[et.Slug] = et
	s.order = append(s.order, et.Slug)
	return nil
}

// RegisterGlobalPermission adds a permission usable on every event type.
func (s *Store) RegisterGlobalPermission(name string) error {
	name = NormalizeName(name)
	if name == "" {
		return fmt.Errorf("catalog: global permission name required: %w", ErrInvalidDefinition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.globalPerms, name) {
		return fmt.Errorf("catalog: global permission %q already registered: %w", name, ErrInvalidDefinition)
	}
	s.globalPerms = append(s.globalPerms, name)
	return nil
}

// RegisterGlobalRole adds a role assignable on every event type. Permissions
// it references that are not yet global are registered as global.
func (s *Store) RegisterGlobalRole(def RoleDefinition) error {
	name := NormalizeName(def.Name)
	if name == "" {
		return fmt.Errorf("catalog: global role name required: %w", ErrInvalidDefinition)
	}
	perms, err := normalizeUnique(def.Permissions, "permission")
	if err != nil {
		return fmt.Errorf("catalog: global role %q: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.globalRoles[name]; exists {
		return fmt.Errorf("catalog: global role %q already registered: %w", name, ErrInvalidDefinition)
	}
	for _, p := range perms {
		if !slices.Contains(s.globalPerms, p) {
			s.globalPerms = append(s.globalPerms, p)
		}
	}
	sort.Strings(perms)
	s.globalRoles[name] = Role{Scope: GlobalScope, Name: name, Permissions: perms}
	s.roleOrder = append(s.roleOrder, name)
	return nil
}

// GetEventType returns the event type registered under slug.
func (s *Store) GetEventType(slug string) (EventType, error) {
	slug = NormalizeSlug(slug)
	s.mu.RLock()
	defer s.mu.RUnlock()
	et, ok := s.types[slug]
	if !ok {
		return EventType{}, fmt.Errorf("catalog: event type %q: %w", slug, ErrNotFound)
	}
	return cloneEventType(et), nil
}

// ListEventTypes yields the registered event types in registration order.
// The sequence can be ranged over any number of times.
func (s *Store) ListEventTypes() iter.Seq[EventType] {
	return func(yield func(EventType) bool) {
		s.mu.RLock()
		order := slices.Clone(s.order)
		s.mu.RUnlock()
		for _, slug := range order {
			s.mu.RLock()
			et, ok := s.types[slug]
			s.mu.RUnlock()
			if !ok {
				continue
			}
			if !yield(cloneEventType(et)) {
				return
			}
		}
	}
}

// Len returns the number of registered event types.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// RolePermissions resolves a role in the scope of typeSlug, falling back to
// the global roles. The boolean is false when neither scope defines it.
func (s *Store) RolePermissions(typeSlug, role string) ([]string, bool) {
	role = NormalizeName(role)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if et, ok := s.types[NormalizeSlug(typeSlug)]; ok {
		if perms, ok := et.grants[role]; ok {
			return slices.Clone(perms), true
		}
	}
	if r, ok := s.globalRoles[role]; ok {
		return slices.Clone(r.Permissions), true
	}
	return nil, false
}

// HasRole reports whether role is defined for typeSlug or globally.
func (s *Store) HasRole(typeSlug, role string) bool {
	_, ok := s.RolePermissions(typeSlug, role)
	return ok
}

// HasPermission reports whether perm is defined for typeSlug or globally.
func (s *Store) HasPermission(typeSlug, perm string) bool {
	perm = NormalizeName(perm)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if et, ok := s.types[NormalizeSlug(typeSlug)]; ok && slices.Contains(et.Permissions, perm) {
		return true
	}
	return slices.Contains(s.globalPerms, perm)
}

// GlobalRoles returns the global roles in registration order.
func (s *Store) GlobalRoles() []Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Role, 0, len(s.roleOrder))
	for _, name := range s.roleOrder {
		r := s.globalRoles[name]
		out = append(out, Role{Scope: r.Scope, Name: r.Name, Permissions: slices.Clone(r.Permissions)})
	}
	return out
}

// GlobalPermissions returns the global permission names in registration order.
func (s *Store) GlobalPermissions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.globalPerms)
}

// Replace swaps the whole catalog. The new catalog is validated first; on
// error the store is left untouched.
func (s *Store) Replace(cat Catalog) error {
	next, err := New(cat)
	if err != nil {
		return err
	}
	next.mu.RLock()
	defer next.mu.RUnlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = next.order
	s.types = next.types
	s.roleOrder = next.roleOrder
	s.globalRoles = next.globalRoles
	s.globalPerms = next.globalPerms
	return nil
}

func buildEventType(def Definition) (EventType, error) {
	slug := NormalizeSlug(def.Slug)
	if slug == "" {
		return EventType{}, fmt.Errorf("catalog: event type slug required: %w", ErrInvalidDefinition)
	}
	roles, err := normalizeUnique(def.Roles, "role")
	if err != nil {
		return EventType{}, fmt.Errorf("catalog: event type %q: %w", slug, err)
	}
	perms, err := normalizeUnique(def.Permissions, "permission")
	if err != nil {
		return EventType{}, fmt.Errorf("catalog: event type %q: %w", slug, err)
	}

	grants := make(map[string][]string, len(roles))
	for _, r := range roles {
		grants[r] = []string{}
	}
	for rawRole, rawPerms := range def.Grants {
		role := NormalizeName(rawRole)
		if _, ok := grants[role]; !ok {
			return EventType{}, fmt.Errorf("catalog: event type %q grants undefined role %q: %w", slug, role, ErrInvalidDefinition)
		}
		set := make(map[string]struct{}, len(rawPerms))
		for _, rawPerm := range rawPerms {
			if rawPerm == WildcardGrant {
				for _, p := range perms {
					set[p] = struct{}{}
				}
				continue
			}
			perm := NormalizeName(rawPerm)
			if !slices.Contains(perms, perm) {
				return EventType{}, fmt.Errorf("catalog: event type %q role %q grants undefined permission %q: %w", slug, role, perm, ErrInvalidDefinition)
			}
			set[perm] = struct{}{}
		}
		for p := range set {
			grants[role] = append(grants[role], p)
		}
		sort.Strings(grants[role])
	}

	name := def.Name
	if name == "" {
		name = DisplayName(slug)
	}
	return EventType{
		Slug:        slug,
		Name:        name,
		Description: def.Description,
		Roles:       roles,
		Permissions: perms,
		grants:      grants,
	}, nil
}

func normalizeUnique(names []string, kind string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, raw := range names {
		n := NormalizeName(raw)
		if n == "" {
			return nil, fmt.Errorf("empty %s name: %w", kind, ErrInvalidDefinition)
		}
		if slices.Contains(out, n) {
			return nil, fmt.Errorf("duplicate %s %q: %w", kind, n, ErrInvalidDefinition)
		}
		out = append(out, n)
	}
	return out, nil
}

func cloneEventType(et EventType) EventType {
	et.Roles = slices.Clone(et.Roles)
	et.Permissions = slices.Clone(et.Permissions)
	return et
}
