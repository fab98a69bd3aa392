package permcache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, "test.perm"), mr
}

func TestRedisGetPut(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)

	_, ok, err := r.Get(ctx, "test.perm:1:u1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Put(ctx, "test.perm:1:u1", []string{"view shop"}, time.Hour))
	perms, ok, err := r.Get(ctx, "test.perm:1:u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"view shop"}, perms)

	assert.True(t, mr.Exists("test.perm:index"))
	assert.Equal(t, time.Hour, mr.TTL("test.perm:1:u1"))
}

func TestRedisExpiry(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)
	require.NoError(t, r.Put(ctx, "k", []string{"a"}, time.Minute))

	mr.FastForward(2 * time.Minute)
	_, ok, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisEmptySetRoundTrips(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t)
	require.NoError(t, r.Put(ctx, "k", nil, time.Minute))
	perms, ok, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, perms)
}

func TestRedisInvalidate(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)
	require.NoError(t, r.Put(ctx, "a", []string{"x"}, time.Hour))
	require.NoError(t, r.Put(ctx, "b", []string{"y"}, time.Hour))

	require.NoError(t, r.Invalidate(ctx, "a"))
	assert.False(t, mr.Exists("a"))
	assert.True(t, mr.Exists("b"))
	members, err := mr.ZMembers("test.perm:index")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, members)

	require.NoError(t, mr.Set("unrelated", "keep"))
	require.NoError(t, r.InvalidateAll(ctx))
	assert.False(t, mr.Exists("b"))
	assert.False(t, mr.Exists("test.perm:index"))
	assert.True(t, mr.Exists("unrelated"))
}

func TestRedisCorruptPayloadIsAMiss(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)
	require.NoError(t, mr.Set("k", "{not json"))
	_, ok, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists("k"))
}

func TestRedisBackendFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)
	mr.Close()
	_, _, err := r.Get(ctx, "k")
	require.Error(t, err)
}

func TestNewStoreDefaultPrefersRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	c, err := NewStore(StoreDefault, client, "")
	require.NoError(t, err)
	assert.IsType(t, &Redis{}, c)
}

func TestRedisIndexDropsExpiredMembers(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	r.now = clock.Now

	for i := 0; i < 100; i++ {
		require.NoError(t, r.Put(ctx, fmt.Sprintf("test.perm:%d:u", i), []string{"a"}, time.Minute))
		clock.Advance(30 * time.Second)
		mr.FastForward(30 * time.Second)
	}

	members, err := mr.ZMembers("test.perm:index")
	require.NoError(t, err)
	assert.Equal(t, []string{"test.perm:97:u", "test.perm:98:u", "test.perm:99:u"}, members)

	clock.Advance(time.Minute)
	removed, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	members, err = mr.ZMembers("test.perm:index")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestRedisPutIfVersion(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)

	version, err := r.Version(ctx, "test.perm:1:u1")
	require.NoError(t, err)
	assert.Equal(t, "0.0", version)

	require.NoError(t, r.Invalidate(ctx, "test.perm:1:u1"))
	written, err := r.PutIfVersion(ctx, "test.perm:1:u1", []string{"stale"}, time.Hour, version)
	require.NoError(t, err)
	assert.False(t, written)
	assert.False(t, mr.Exists("test.perm:1:u1"))

	version, err = r.Version(ctx, "test.perm:1:u1")
	require.NoError(t, err)
	assert.Equal(t, "0.1", version)
	written, err = r.PutIfVersion(ctx, "test.perm:1:u1", []string{"fresh"}, time.Hour, version)
	require.NoError(t, err)
	assert.True(t, written)

	require.NoError(t, r.InvalidateAll(ctx))
	assert.False(t, mr.Exists("test.perm:1:u1"))
	written, err = r.PutIfVersion(ctx, "test.perm:1:u1", []string{"stale"}, time.Hour, version)
	require.NoError(t, err)
	assert.False(t, written)

	_, err = r.PutIfVersion(ctx, "test.perm:1:u1", nil, time.Hour, "")
	require.Error(t, err)
}

type refuseDel struct{}

func (refuseDel) DialHook(next redis.DialHook) redis.DialHook { return next }

func (refuseDel) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == "del" {
			err := errors.New("del refused")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (refuseDel) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisCorruptPayloadCleanupFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	client.AddHook(refuseDel{})
	r := NewRedis(client, "test.perm")

	require.NoError(t, mr.Set("k", "{not json"))
	_, ok, err := r.Get(ctx, "k")
	require.ErrorContains(t, err, "del refused")
	assert.False(t, ok)
}

func TestManagerSweeper(t *testing.T) {
	r, _ := newTestRedis(t)
	_, ok := NewManager(r, Options{}).Sweeper()
	assert.True(t, ok)
	_, ok = NewManager(NewMemory(), Options{}).Sweeper()
	assert.True(t, ok)
	_, ok = NewManager(Noop{}, Options{}).Sweeper()
	assert.False(t, ok)
}
