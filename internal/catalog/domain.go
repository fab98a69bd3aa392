// Package catalog holds the registry of event types together with the
// roles and permissions each type defines.
package catalog

import (
	"errors"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	// ErrNotFound indicates the event type is not registered.
	ErrNotFound = errors.New("catalog: not found")
	// ErrDuplicateSlug indicates the event type slug is already registered.
	ErrDuplicateSlug = errors.New("catalog: duplicate slug")
	// ErrInvalidDefinition indicates a malformed event type or role definition.
	ErrInvalidDefinition = errors.New("catalog: invalid definition")
)

// GlobalScope is the scope of roles and permissions not tied to an event type.
const GlobalScope = ""

// WildcardGrant grants every permission of the event type.
const WildcardGrant = "*"

// Definition describes an event type before registration.
type Definition struct {
	Slug        string
	Name        string
	Description string
	Roles       []string
	Permissions []string
	// Grants maps a role name to the permissions it carries.
	Grants map[string][]string
}

// RoleDefinition describes a global role.
type RoleDefinition struct {
	Name        string
	Permissions []string
}

// Catalog is a full set of definitions loaded at startup.
type Catalog struct {
	EventTypes        []Definition
	GlobalPermissions []string
	GlobalRoles       []RoleDefinition
}

// EventType is a registered, immutable event type.
type EventType struct {
	Slug        string
	Name        string
	Description string
	Roles       []string
	Permissions []string

	grants map[string][]string
}

// RolePermissions returns the permissions granted by a role of this type.
func (t EventType) RolePermissions(role string) ([]string, bool) {
	perms, ok := t.grants[NormalizeName(role)]
	if !ok {
		return nil, false
	}
	return slices.Clone(perms), true
}

// HasRole reports whether the type defines the role.
func (t EventType) HasRole(role string) bool {
	_, ok := t.grants[NormalizeName(role)]
	return ok
}

// HasPermission reports whether the type defines the permission.
func (t EventType) HasPermission(perm string) bool {
	return slices.Contains(t.Permissions, NormalizeName(perm))
}

// Role is a named permission bundle in a scope.
type Role struct {
	Scope       string
	Name        string
	Permissions []string
}

// Permission is an atomic capability in a scope.
type Permission struct {
	Scope string
	Name  string
}

// NormalizeName folds role and permission names so lookups are case and
// whitespace insensitive.
func NormalizeName(name string) string {
	return cases.Lower(language.Und).String(strings.Join(strings.Fields(name), " "))
}

// NormalizeSlug folds an event type slug.
func NormalizeSlug(slug string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(slug))
}

// DisplayName derives a title from a slug, used when a definition omits its name.
func DisplayName(slug string) string {
	words := strings.FieldsFunc(slug, func(r rune) bool { return r == '-' || r == '_' || r == ' ' })
	return cases.Title(language.English).String(strings.Join(words, " "))
}
