package permcache

import (
	"context"
	"slices"
	"sync"
	"time"
)

type memoryEntry struct {
	perms     []string
	expiresAt time.Time
}

// Memory is a process-local Cache. Expired entries are dropped lazily on
// read; Sweep bounds memory for keys that are never read again.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemory returns an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) ([]string, bool, error) {
	now := m.now()
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !now.Before(entry.expiresAt) {
		m.mu.Lock()
		if current, ok := m.entries[key]; ok && !now.Before(current.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return slices.Clone(entry.perms), true, nil
}

// Put implements Cache. A non-positive ttl stores nothing.
func (m *Memory) Put(_ context.Context, key string, perms []string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if perms == nil {
		perms = []string{}
	}
	m.mu.Lock()
	m.entries[key] = memoryEntry{perms: slices.Clone(perms), expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

// Invalidate implements Cache.
func (m *Memory) Invalidate(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// InvalidateAll implements Cache.
func (m *Memory) InvalidateAll(context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Sweep removes expired entries and returns how many were dropped.
func (m *Memory) Sweep(context.Context) (int, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, entry := range m.entries {
		if !now.Before(entry.expiresAt) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}
