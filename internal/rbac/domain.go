package rbac

import (
	"context"
	"slices"
	"strings"

	"github.com/eventguard/eventguard/internal/catalog"
)

// PermissionSet is an immutable, sorted set of permission names.
type PermissionSet struct {
	names []string
}

// NewPermissionSet normalizes and deduplicates names.
func NewPermissionSet(names ...string) PermissionSet {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = catalog.NormalizeName(n); n != "" {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return PermissionSet{names: slices.Compact(out)}
}

// Has reports whether perm is in the set.
func (s PermissionSet) Has(perm string) bool {
	_, found := slices.BinarySearch(s.names, catalog.NormalizeName(perm))
	return found
}

// HasAny reports whether at least one of perms is in the set. An empty
// request is satisfied.
func (s PermissionSet) HasAny(perms ...string) bool {
	if len(perms) == 0 {
		return true
	}
	for _, p := range perms {
		if s.Has(p) {
			return true
		}
	}
	return false
}

// HasAll reports whether every one of perms is in the set.
func (s PermissionSet) HasAll(perms ...string) bool {
	for _, p := range perms {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

// Names returns a sorted copy of the set.
func (s PermissionSet) Names() []string {
	if len(s.names) == 0 {
		return []string{}
	}
	return slices.Clone(s.names)
}

// Len returns the number of permissions.
func (s PermissionSet) Len() int {
	return len(s.names)
}

// Equal reports whether both sets hold the same names.
func (s PermissionSet) Equal(other PermissionSet) bool {
	return slices.Equal(s.names, other.names)
}

func (s PermissionSet) String() string {
	return "{" + strings.Join(s.names, ", ") + "}"
}

type subjectContextKey struct{}

// ContextWithSubject stores the authenticated subject id in ctx.
func ContextWithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectContextKey{}, subject)
}

// SubjectFromContext extracts the subject id stored by ContextWithSubject.
func SubjectFromContext(ctx context.Context) (string, bool) {
	subject, _ := ctx.Value(subjectContextKey{}).(string)
	subject = strings.TrimSpace(subject)
	return subject, subject != ""
}
