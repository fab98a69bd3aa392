// Package permcache memoises resolved permission sets per (subject, event).
// Entries are derived state: they can always be rebuilt from the catalog and
// the assignment table, so every backend may drop them at any time.
package permcache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a TTL key/value store for permission sets.
type Cache interface {
	// Get returns the cached set; the boolean is false on a miss or an
	// expired entry.
	Get(ctx context.Context, key string) ([]string, bool, error)
	// Put stores the set with an absolute expiry of now+ttl.
	Put(ctx context.Context, key string, perms []string, ttl time.Duration) error
	// Invalidate removes one entry regardless of its TTL.
	Invalidate(ctx context.Context, key string) error
	// InvalidateAll removes every entry written through this cache.
	InvalidateAll(ctx context.Context) error
}

// Versioned is implemented by backends shared between processes. They keep
// invalidation versions next to the entries, so a set computed before an
// invalidation in any process is refused.
type Versioned interface {
	// Version returns an opaque token for the current state of key.
	Version(ctx context.Context, key string) (string, error)
	// PutIfVersion stores perms only while key is still at version.
	PutIfVersion(ctx context.Context, key string, perms []string, ttl time.Duration, version string) (bool, error)
}

// Sweeper drops bookkeeping for expired entries. Memory and Redis implement it.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Store selectors accepted by NewStore.
const (
	StoreDefault = "default"
	StoreMemory  = "memory"
	StoreRedis   = "redis"
	StoreNone    = "none"
)

// NewStore picks a backend. The default store is Redis when a client is
// available and process memory otherwise.
func NewStore(kind string, client redis.UniversalClient, namespace string) (Cache, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case StoreDefault, "":
		if client != nil {
			return NewRedis(client, namespace), nil
		}
		return NewMemory(), nil
	case StoreMemory:
		return NewMemory(), nil
	case StoreRedis:
		if client == nil {
			return nil, fmt.Errorf("permcache: store %q requires a redis client", kind)
		}
		return NewRedis(client, namespace), nil
	case StoreNone:
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("permcache: unsupported store %q", kind)
	}
}

// Noop never stores anything; every Get is a miss.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]string, bool, error) {
	return nil, false, nil
}

func (Noop) Put(context.Context, string, []string, time.Duration) error {
	return nil
}

func (Noop) Invalidate(context.Context, string) error {
	return nil
}

func (Noop) InvalidateAll(context.Context) error {
	return nil
}
