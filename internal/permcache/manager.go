package permcache

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"
)

const (
	// DefaultNamespace prefixes every cache key.
	DefaultNamespace = "eventguard.permission.cache"
	// DefaultTTL bounds how long a resolved set is served without recomputation.
	DefaultTTL = 24 * time.Hour
)

// Options configures a Manager.
type Options struct {
	Namespace string
	TTL       time.Duration
	Metrics   *Metrics
	Logger    *slog.Logger
}

// Manager is the permission cache as seen by the engine: it owns key layout,
// TTL and the invalidation epoch.
//
// Every invalidation bumps the epoch before touching the backend. A resolver
// takes a Stamp before loading from the stores and hands it back to Put; the
// entry is only kept if no invalidation happened in between, so a computation
// that raced with a mutation cannot leave a stale set behind. The epoch only
// sees this process; Versioned backends also carry a version from the shared
// store, which catches invalidations made by other processes.
type Manager struct {
	cache     Cache
	namespace string
	ttl       time.Duration
	epoch     atomic.Uint64
	metrics   *Metrics
	logger    *slog.Logger
}

// NewManager wraps a backend.
func NewManager(cache Cache, opts Options) *Manager {
	if cache == nil {
		cache = Noop{}
	}
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		cache:     cache,
		namespace: opts.Namespace,
		ttl:       opts.TTL,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
}

// Key builds the backend key for (subject, event).
func (m *Manager) Key(subject string, eventID int64) string {
	return m.namespace + ":" + strconv.FormatInt(eventID, 10) + ":" + subject
}

// TTL returns the configured entry lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Epoch returns the current invalidation epoch.
func (m *Manager) Epoch() uint64 {
	return m.epoch.Load()
}

// Stamp identifies the cache state a computation started from.
type Stamp struct {
	epoch   uint64
	version string
}

// String renders the stamp; equal stamps render equally.
func (s Stamp) String() string {
	return strconv.FormatUint(s.epoch, 10) + "/" + s.version
}

// Stamp captures the state of (subject, event). Take it before reading the
// stores the cached set is computed from.
func (m *Manager) Stamp(ctx context.Context, subject string, eventID int64) (Stamp, error) {
	stamp := Stamp{epoch: m.epoch.Load()}
	versioned, ok := m.cache.(Versioned)
	if !ok {
		return stamp, nil
	}
	version, err := versioned.Version(ctx, m.Key(subject, eventID))
	if err != nil {
		m.metrics.failed("version")
		return stamp, err
	}
	stamp.version = version
	return stamp, nil
}

// Get returns the cached set for (subject, event).
func (m *Manager) Get(ctx context.Context, subject string, eventID int64) ([]string, bool, error) {
	perms, ok, err := m.cache.Get(ctx, m.Key(subject, eventID))
	if err != nil {
		m.metrics.failed("get")
		return nil, false, err
	}
	if ok {
		m.metrics.hit()
	} else {
		m.metrics.miss()
	}
	return perms, ok, nil
}

// Put stores perms computed from the state stamp describes. It reports
// whether the entry was kept.
func (m *Manager) Put(ctx context.Context, subject string, eventID int64, perms []string, stamp Stamp) (bool, error) {
	if m.epoch.Load() != stamp.epoch {
		return false, nil
	}
	key := m.Key(subject, eventID)
	if versioned, ok := m.cache.(Versioned); ok {
		written, err := versioned.PutIfVersion(ctx, key, perms, m.ttl, stamp.version)
		if err != nil {
			m.metrics.failed("put")
			return false, err
		}
		if !written {
			return false, nil
		}
	} else if err := m.cache.Put(ctx, key, perms, m.ttl); err != nil {
		m.metrics.failed("put")
		return false, err
	}
	if m.epoch.Load() != stamp.epoch {
		// An invalidation slipped in between the check and the write.
		if err := m.cache.Invalidate(ctx, key); err != nil {
			m.metrics.failed("invalidate")
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// Invalidate drops the entry for (subject, event).
func (m *Manager) Invalidate(ctx context.Context, subject string, eventID int64) error {
	m.epoch.Add(1)
	m.metrics.invalidated("key")
	if err := m.cache.Invalidate(ctx, m.Key(subject, eventID)); err != nil {
		m.metrics.failed("invalidate")
		m.logger.Warn("permission cache invalidate",
			slog.String("subject", subject), slog.Int64("event_id", eventID), slog.Any("error", err))
		return err
	}
	return nil
}

// InvalidateAll drops every entry.
func (m *Manager) InvalidateAll(ctx context.Context) error {
	m.epoch.Add(1)
	m.metrics.invalidated("all")
	if err := m.cache.InvalidateAll(ctx); err != nil {
		m.metrics.failed("invalidate_all")
		m.logger.Warn("permission cache invalidate all", slog.Any("error", err))
		return err
	}
	return nil
}

// Backend exposes the underlying cache, for maintenance jobs.
func (m *Manager) Backend() Cache {
	return m.cache
}

// Sweeper returns the backend when it needs periodic sweeping.
func (m *Manager) Sweeper() (Sweeper, bool) {
	s, ok := m.cache.(Sweeper)
	return s, ok
}
