package assignments

import (
	"context"
	"maps"
	"slices"
	"sync"
)

type assignmentKey struct {
	subject string
	eventID int64
}

// MemoryRepository keeps assignments in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	roles map[assignmentKey]map[string]struct{}
	perms map[assignmentKey]map[string]struct{}
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		roles: make(map[assignmentKey]map[string]struct{}),
		perms: make(map[assignmentKey]map[string]struct{}),
	}
}

func add(m map[assignmentKey]map[string]struct{}, k assignmentKey, name string) {
	set, ok := m[k]
	if !ok {
		set = make(map[string]struct{})
		m[k] = set
	}
	set[name] = struct{}{}
}

func remove(m map[assignmentKey]map[string]struct{}, k assignmentKey, name string) bool {
	set, ok := m[k]
	if !ok {
		return false
	}
	if _, held := set[name]; !held {
		return false
	}
	delete(set, name)
	if len(set) == 0 {
		delete(m, k)
	}
	return true
}

func sortedNames(set map[string]struct{}) []string {
	if len(set) == 0 {
		return []string{}
	}
	return slices.Sorted(maps.Keys(set))
}

// AddRole implements RepositoryPort.
func (r *MemoryRepository) AddRole(_ context.Context, subject string, eventID int64, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	add(r.roles, assignmentKey{subject, eventID}, role)
	return nil
}

// RemoveRole implements RepositoryPort.
func (r *MemoryRepository) RemoveRole(_ context.Context, subject string, eventID int64, role string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return remove(r.roles, assignmentKey{subject, eventID}, role), nil
}

// Roles implements RepositoryPort.
func (r *MemoryRepository) Roles(_ context.Context, subject string, eventID int64) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedNames(r.roles[assignmentKey{subject, eventID}]), nil
}

// AddPermission implements RepositoryPort.
func (r *MemoryRepository) AddPermission(_ context.Context, subject string, eventID int64, perm string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	add(r.perms, assignmentKey{subject, eventID}, perm)
	return nil
}

// RemovePermission implements RepositoryPort.
func (r *MemoryRepository) RemovePermission(_ context.Context, subject string, eventID int64, perm string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return remove(r.perms, assignmentKey{subject, eventID}, perm), nil
}

// Permissions implements RepositoryPort.
func (r *MemoryRepository) Permissions(_ context.Context, subject string, eventID int64) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedNames(r.perms[assignmentKey{subject, eventID}]), nil
}

// Subjects implements RepositoryPort.
func (r *MemoryRepository) Subjects(_ context.Context, eventID int64) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, m := range []map[assignmentKey]map[string]struct{}{r.roles, r.perms} {
		for k := range m {
			if k.eventID == eventID {
				seen[k.subject] = struct{}{}
			}
		}
	}
	return sortedNames(seen), nil
}
