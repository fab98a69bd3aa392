package rbac

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventguard/eventguard/internal/assignments"
	"github.com/eventguard/eventguard/internal/catalog"
	"github.com/eventguard/eventguard/internal/events"
	"github.com/eventguard/eventguard/internal/permcache"
)

type fixture struct {
	store    *catalog.Store
	registry *events.Registry
	table    *assignments.Table
	cache    *permcache.Manager
	resolver *Resolver
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store, err := catalog.New(catalog.Defaults())
	require.NoError(t, err)
	require.NoError(t, store.RegisterGlobalRole(catalog.RoleDefinition{Name: "support", Permissions: []string{"view tickets"}}))

	cache := permcache.NewManager(permcache.NewMemory(), permcache.Options{TTL: time.Hour})
	registry := events.NewRegistry(events.NewMemoryRepository(), store, nil)
	table := assignments.NewTable(assignments.NewMemoryRepository(), registry, store, cache, nil)
	registry.OnDeactivate(table)
	return fixture{
		store:    store,
		registry: registry,
		table:    table,
		cache:    cache,
		resolver: NewResolver(table, registry, store, cache, nil),
	}
}

func (f fixture) createEvent(t *testing.T, typeSlug, slug, owner string) events.Event {
	t.Helper()
	e, err := f.registry.CreateEvent(context.Background(), events.CreateEventInput{
		TypeSlug: typeSlug, Name: slug, Slug: slug, OwnerID: owner,
	})
	require.NoError(t, err)
	return e
}

func (f fixture) assertCoherent(t *testing.T, subject string, eventID int64) PermissionSet {
	t.Helper()
	ctx := context.Background()
	cached, err := f.resolver.EffectivePermissions(ctx, subject, eventID)
	require.NoError(t, err)
	fresh, err := f.resolver.Uncached(ctx, subject, eventID)
	require.NoError(t, err)
	require.True(t, cached.Equal(fresh), "cached %s != uncached %s", cached, fresh)
	return cached
}

func TestShopScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acme := f.createEvent(t, "shop", "acme", "U1")

	require.NoError(t, f.table.AssignRole(ctx, "U2", acme.ID, "staff"))
	ok, err := f.resolver.HasPermission(ctx, "U2", acme.ID, "manage products")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.table.AssignRole(ctx, "U2", acme.ID, "manager"))
	ok, err = f.resolver.HasPermission(ctx, "U2", acme.ID, "manage products")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, f.table.RevokeRole(ctx, "U2", acme.ID, "manager"))
	ok, err = f.resolver.HasPermission(ctx, "U2", acme.ID, "manage products")
	require.NoError(t, err)
	assert.False(t, ok)

	set := f.assertCoherent(t, "U2", acme.ID)
	assert.Equal(t, []string{"manage orders", "view shop"}, set.Names())
}

func TestEmptySetWithoutRoles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acme := f.createEvent(t, "shop", "acme", "U1")

	for _, subject := range []string{"U1", "ghost", ""} {
		set, err := f.resolver.EffectivePermissions(ctx, subject, acme.ID)
		require.NoError(t, err)
		assert.Zero(t, set.Len(), subject)
		assert.Equal(t, []string{}, set.Names())
	}

	set, err := f.resolver.EffectivePermissions(ctx, "U1", 9999)
	require.NoError(t, err)
	assert.Zero(t, set.Len())
}

func TestUnionAndDifference(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acme := f.createEvent(t, "shop", "acme", "U1")

	require.NoError(t, f.table.AssignRole(ctx, "U2", acme.ID, "customer"))
	before := f.assertCoherent(t, "U2", acme.ID)

	require.NoError(t, f.table.AssignRole(ctx, "U2", acme.ID, "staff"))
	after := f.assertCoherent(t, "U2", acme.ID)
	staff, _ := f.store.RolePermissions("shop", "staff")
	assert.True(t, after.Equal(NewPermissionSet(append(before.Names(), staff...)...)))

	require.NoError(t, f.table.RevokeRole(ctx, "U2", acme.ID, "staff"))
	reverted := f.assertCoherent(t, "U2", acme.ID)
	assert.True(t, reverted.Equal(before))
	assert.True(t, reverted.Has("view shop"), "still granted by customer")
}

func TestOwnerWildcardAndGlobalRoles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acme := f.createEvent(t, "shop", "acme", "U1")

	require.NoError(t, f.table.AssignRole(ctx, "U1", acme.ID, "owner"))
	set := f.assertCoherent(t, "U1", acme.ID)
	et, err := f.store.GetEventType("shop")
	require.NoError(t, err)
	assert.ElementsMatch(t, et.Permissions, set.Names())

	require.NoError(t, f.table.AssignRole(ctx, "U5", acme.ID, "support"))
	ok, err := f.resolver.HasPermission(ctx, "U5", acme.ID, "View Tickets")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDirectGrants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acme := f.createEvent(t, "shop", "acme", "U1")

	require.NoError(t, f.table.GrantPermission(ctx, "U3", acme.ID, "view reports"))
	ok, err := f.resolver.HasAllPermissions(ctx, "U3", acme.ID, "view reports")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.resolver.HasAnyPermission(ctx, "U3", acme.ID, "edit shop", "manage staff")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.table.RevokePermission(ctx, "U3", acme.ID, "view reports"))
	set := f.assertCoherent(t, "U3", acme.ID)
	assert.Zero(t, set.Len())
}

func TestDeactivationFailsClosed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acme := f.createEvent(t, "shop", "acme", "U1")
	require.NoError(t, f.table.AssignRole(ctx, "U2", acme.ID, "manager"))

	ok, err := f.resolver.HasPermission(ctx, "U2", acme.ID, "edit shop")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.registry.Deactivate(ctx, acme.ID)
	require.NoError(t, err)

	set := f.assertCoherent(t, "U2", acme.ID)
	assert.Zero(t, set.Len())
}

func TestRolesRemovedFromCatalogGrantNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acme := f.createEvent(t, "shop", "acme", "U1")
	require.NoError(t, f.table.AssignRole(ctx, "U2", acme.ID, "support"))

	cat := catalog.Defaults()
	require.NoError(t, f.store.Replace(cat))
	require.NoError(t, f.cache.InvalidateAll(ctx))

	set, err := f.resolver.EffectivePermissions(ctx, "U2", acme.ID)
	require.NoError(t, err)
	assert.Zero(t, set.Len())
}

type countingAssignments struct {
	AssignmentSource
	calls  atomic.Int32
	during func()
	err    error
}

func (c *countingAssignments) RolesOf(ctx context.Context, subject string, eventID int64) ([]string, error) {
	c.calls.Add(1)
	if c.during != nil {
		c.during()
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.AssignmentSource.RolesOf(ctx, subject, eventID)
}

func TestCacheHitSkipsStores(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acme := f.createEvent(t, "shop", "acme", "U1")
	require.NoError(t, f.table.AssignRole(ctx, "U2", acme.ID, "staff"))

	counting := &countingAssignments{AssignmentSource: f.table}
	resolver := NewResolver(counting, f.registry, f.store, f.cache, nil)

	first, err := resolver.EffectivePermissions(ctx, "U2", acme.ID)
	require.NoError(t, err)
	second, err := resolver.EffectivePermissions(ctx, "U2", acme.ID)
	require.NoError(t, err)
	assert.True(t, first.Equal(second))
	assert.Equal(t, int32(1), counting.calls.Load())
}

func TestComputationRacingInvalidationIsNotCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acme := f.createEvent(t, "shop", "acme", "U1")

	counting := &countingAssignments{AssignmentSource: f.table}
	counting.during = func() {
		counting.during = nil
		require.NoError(t, f.table.AssignRole(ctx, "U2", acme.ID, "manager"))
	}
	resolver := NewResolver(counting, f.registry, f.store, f.cache, nil)

	_, err := resolver.EffectivePermissions(ctx, "U2", acme.ID)
	require.NoError(t, err)

	_, cached, err := f.cache.Get(ctx, "U2", acme.ID)
	require.NoError(t, err)
	assert.False(t, cached)

	set, err := resolver.EffectivePermissions(ctx, "U2", acme.ID)
	require.NoError(t, err)
	assert.True(t, set.Has("manage products"))
}

func TestStoreFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acme := f.createEvent(t, "shop", "acme", "U1")

	failing := &countingAssignments{AssignmentSource: f.table, err: errors.New("connection reset")}
	resolver := NewResolver(failing, f.registry, f.store, f.cache, nil)

	_, err := resolver.EffectivePermissions(ctx, "U2", acme.ID)
	require.ErrorIs(t, err, ErrStoreFailure)

	ok, err := resolver.HasPermission(ctx, "U2", acme.ID, "view shop")
	require.Error(t, err)
	assert.False(t, ok)
}

type brokenCache struct{ permcache.Noop }

func (brokenCache) Get(context.Context, string) ([]string, bool, error) {
	return nil, false, errors.New("cache unavailable")
}

func TestCacheFailureDegradesToStores(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acme := f.createEvent(t, "shop", "acme", "U1")
	require.NoError(t, f.table.AssignRole(ctx, "U2", acme.ID, "customer"))

	resolver := NewResolver(f.table, f.registry, f.store, permcache.NewManager(brokenCache{}, permcache.Options{}), nil)
	ok, err := resolver.HasPermission(ctx, "U2", acme.ID, "view shop")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConcurrentResolutionIsConsistent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acme := f.createEvent(t, "shop", "acme", "U1")
	require.NoError(t, f.table.AssignRole(ctx, "U2", acme.ID, "manager"))

	var wg sync.WaitGroup
	results := make([]PermissionSet, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			set, err := f.resolver.EffectivePermissions(ctx, "U2", acme.ID)
			assert.NoError(t, err)
			results[i] = set
		}(i)
	}
	wg.Wait()
	for _, set := range results[1:] {
		assert.True(t, set.Equal(results[0]))
	}
}

func TestPermissionSet(t *testing.T) {
	set := NewPermissionSet("View Shop", "edit  shop", "view shop", "")
	assert.Equal(t, []string{"edit shop", "view shop"}, set.Names())
	assert.True(t, set.Has("VIEW SHOP"))
	assert.True(t, set.HasAny())
	assert.True(t, set.HasAll())
	assert.True(t, set.HasAny("nope", "edit shop"))
	assert.False(t, set.HasAll("nope", "edit shop"))
	assert.Equal(t, "{edit shop, view shop}", set.String())
}
