package permcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stampOf(t *testing.T, m *Manager, subject string, eventID int64) Stamp {
	t.Helper()
	stamp, err := m.Stamp(context.Background(), subject, eventID)
	require.NoError(t, err)
	return stamp
}

func TestManagerKeyLayout(t *testing.T) {
	m := NewManager(NewMemory(), Options{})
	assert.Equal(t, "eventguard.permission.cache:42:user:7", m.Key("user:7", 42))
	assert.Equal(t, DefaultTTL, m.TTL())
}

func TestManagerPutGet(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemory(), Options{Namespace: "ns", TTL: time.Hour})

	kept, err := m.Put(ctx, "u1", 1, []string{"view shop"}, stampOf(t, m, "u1", 1))
	require.NoError(t, err)
	assert.True(t, kept)

	perms, ok, err := m.Get(ctx, "u1", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"view shop"}, perms)
}

func TestManagerDropsPutAfterInvalidation(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemory(), Options{})

	stamp := stampOf(t, m, "u1", 1)
	require.NoError(t, m.Invalidate(ctx, "u1", 1))

	kept, err := m.Put(ctx, "u1", 1, []string{"stale"}, stamp)
	require.NoError(t, err)
	assert.False(t, kept)
	_, ok, _ := m.Get(ctx, "u1", 1)
	assert.False(t, ok)
}

func TestManagerInvalidateAll(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	m := NewManager(mem, Options{})
	_, _ = m.Put(ctx, "u1", 1, []string{"a"}, stampOf(t, m, "u1", 1))
	_, _ = m.Put(ctx, "u2", 2, []string{"b"}, stampOf(t, m, "u2", 2))

	before := m.Epoch()
	require.NoError(t, m.InvalidateAll(ctx))
	assert.Greater(t, m.Epoch(), before)
	assert.Equal(t, 0, mem.Len())
}

type racingCache struct {
	*Memory
	onPut func()
}

func (r *racingCache) Put(ctx context.Context, key string, perms []string, ttl time.Duration) error {
	err := r.Memory.Put(ctx, key, perms, ttl)
	if r.onPut != nil {
		r.onPut()
	}
	return err
}

func TestManagerUndoesPutRacingWithInvalidation(t *testing.T) {
	ctx := context.Background()
	backend := &racingCache{Memory: NewMemory()}
	m := NewManager(backend, Options{})
	backend.onPut = func() { m.epoch.Add(1) }

	kept, err := m.Put(ctx, "u1", 1, []string{"stale"}, stampOf(t, m, "u1", 1))
	require.NoError(t, err)
	assert.False(t, kept)
	assert.Equal(t, 0, backend.Len())
}

type failingCache struct{ Noop }

func (failingCache) Get(context.Context, string) ([]string, bool, error) {
	return nil, false, errors.New("down")
}

func (failingCache) Invalidate(context.Context, string) error {
	return errors.New("down")
}

func TestManagerMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	m := NewManager(NewMemory(), Options{Metrics: metrics})
	_, _, _ = m.Get(ctx, "u1", 1)
	_, _ = m.Put(ctx, "u1", 1, []string{"a"}, stampOf(t, m, "u1", 1))
	_, _, _ = m.Get(ctx, "u1", 1)
	_ = m.Invalidate(ctx, "u1", 1)
	_ = m.InvalidateAll(ctx)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.misses))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.invalidations.WithLabelValues("key")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.invalidations.WithLabelValues("all")))

	failing := NewManager(failingCache{}, Options{Metrics: metrics})
	_, _, err = failing.Get(ctx, "u1", 1)
	require.Error(t, err)
	require.Error(t, failing.Invalidate(ctx, "u1", 1))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.errors.WithLabelValues("get")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.errors.WithLabelValues("invalidate")))
}

func TestNewMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewMetrics(reg)
	require.NoError(t, err)
	second, err := NewMetrics(reg)
	require.NoError(t, err)

	first.hit()
	assert.Equal(t, 1.0, testutil.ToFloat64(second.hits))
}

func newSharedManagers(t *testing.T) (worker, cli *Manager, mr *miniredis.Miniredis) {
	t.Helper()
	mr = miniredis.RunT(t)
	open := func() *Manager {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewManager(NewRedis(client, "shared"), Options{Namespace: "shared"})
	}
	return open(), open(), mr
}

func TestManagerSharedRedisRefusesPutAfterRemoteInvalidation(t *testing.T) {
	ctx := context.Background()
	worker, cli, mr := newSharedManagers(t)

	stamp := stampOf(t, worker, "U2", 1)
	require.NoError(t, cli.Invalidate(ctx, "U2", 1))

	kept, err := worker.Put(ctx, "U2", 1, []string{"manage products", "view shop"}, stamp)
	require.NoError(t, err)
	assert.False(t, kept)
	assert.False(t, mr.Exists(worker.Key("U2", 1)))
	_, ok, err := cli.Get(ctx, "U2", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	kept, err = worker.Put(ctx, "U2", 1, []string{"view shop"}, stampOf(t, worker, "U2", 1))
	require.NoError(t, err)
	assert.True(t, kept)
	perms, ok, err := cli.Get(ctx, "U2", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"view shop"}, perms)
}

func TestManagerSharedRedisRefusesPutAfterRemoteInvalidateAll(t *testing.T) {
	ctx := context.Background()
	worker, cli, _ := newSharedManagers(t)

	stamp := stampOf(t, worker, "U1", 1)
	require.NoError(t, cli.InvalidateAll(ctx))

	kept, err := worker.Put(ctx, "U1", 1, []string{"stale"}, stamp)
	require.NoError(t, err)
	assert.False(t, kept)
	_, ok, err := worker.Get(ctx, "U1", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManagerSharedRedisOtherKeysUnaffected(t *testing.T) {
	ctx := context.Background()
	worker, cli, _ := newSharedManagers(t)

	stamp := stampOf(t, worker, "U1", 1)
	require.NoError(t, cli.Invalidate(ctx, "U2", 1))

	kept, err := worker.Put(ctx, "U1", 1, []string{"view shop"}, stamp)
	require.NoError(t, err)
	assert.True(t, kept)
}

func TestManagerStampFailureIsReported(t *testing.T) {
	worker, _, mr := newSharedManagers(t)
	mr.Close()
	_, err := worker.Stamp(context.Background(), "U1", 1)
	require.Error(t, err)
}
