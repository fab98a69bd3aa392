package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventguard/eventguard/internal/app"
	"github.com/eventguard/eventguard/internal/guard"
	"github.com/eventguard/eventguard/jobs"
)

type harness struct {
	cli    *CLI
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	cfg := &app.Config{
		OwnerRole: "owner",
		Cache: app.CacheConfig{
			ExpirationTime: time.Hour,
			Key:            "cli.test",
			Store:          "memory",
		},
	}
	rt, err := guard.Open(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	h := &harness{stdout: new(bytes.Buffer), stderr: new(bytes.Buffer)}
	h.cli = New(rt, append([]Option{WithOutput(h.stdout, h.stderr)}, opts...)...)
	return h
}

func (h *harness) run(args ...string) int {
	h.stdout.Reset()
	h.stderr.Reset()
	return h.cli.Run(context.Background(), args)
}

func (h *harness) createShop(t *testing.T, slug, owner string) int64 {
	t.Helper()
	code := h.run("create-event", "--type", "shop", "--name", "Acme", "--slug", slug, "--owner", owner, "--json")
	require.Equal(t, ExitOK, code, h.stderr.String())
	var view eventView
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &view))
	require.NotZero(t, view.ID)
	return view.ID
}

func TestRunUsage(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, ExitUsage, h.run())
	assert.Contains(t, h.stderr.String(), "usage: eventguard")

	assert.Equal(t, ExitOK, h.run("help"))
	assert.Contains(t, h.stderr.String(), "create-event")

	assert.Equal(t, ExitUsage, h.run("frobnicate"))
	assert.Contains(t, h.stderr.String(), `unknown command "frobnicate"`)

	assert.Equal(t, ExitUsage, h.run("check", "--bogus"))
}

func TestShopScenario(t *testing.T) {
	h := newHarness(t)
	id := h.createShop(t, "acme", "U1")

	assert.Equal(t, ExitOK, h.run("check", "--subject", "U1", "--event", "acme", "--permission", "manage products"))
	assert.Contains(t, h.stdout.String(), "granted")

	assert.Equal(t, ExitDenied, h.run("check", "--subject", "U2", "--event", "acme", "--permission", "view shop"))
	assert.Contains(t, h.stdout.String(), "U2 on #"+strconv.FormatInt(id, 10)+": (none)")

	require.Equal(t, ExitOK, h.run("assign", "--subject", "U2", "--event", "acme", "--role", "staff"), h.stderr.String())
	assert.Contains(t, h.stdout.String(), `role "staff" assigned to U2`)

	assert.Equal(t, ExitOK, h.run("check", "--subject", "U2", "--event", "acme", "--permission", "manage orders", "--json"))
	var summary checkSummary
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &summary))
	assert.Equal(t, []string{"manage orders", "view shop"}, summary.Permissions)
	require.NotNil(t, summary.Granted)
	assert.True(t, *summary.Granted)
	assert.Equal(t, "all", summary.Mode)

	assert.Equal(t, ExitDenied, h.run("check", "--subject", "U2", "--event", "acme", "--permission", "manage orders", "--permission", "edit shop"))
	assert.Equal(t, ExitOK, h.run("check", "--subject", "U2", "--event", "acme", "--any", "--permission", "manage orders", "--permission", "edit shop"))

	require.Equal(t, ExitOK, h.run("roles", "--subject", "U2", "--event", strconv.FormatInt(id, 10), "--json"))
	var roles rolesSummary
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &roles))
	assert.Equal(t, []string{"staff"}, roles.Roles)
	assert.Equal(t, []string{}, roles.Permissions)

	require.Equal(t, ExitOK, h.run("revoke", "--subject", "U2", "--event", "acme", "--role", "staff"))
	assert.Equal(t, ExitDenied, h.run("check", "--subject", "U2", "--event", "acme", "--permission", "view shop"))
}

func TestDirectPermissionGrant(t *testing.T) {
	h := newHarness(t)
	h.createShop(t, "acme", "U1")

	require.Equal(t, ExitOK, h.run("assign", "--subject", "U3", "--event", "acme", "--permission", "view reports", "--json"))
	var change changeSummary
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &change))
	assert.Equal(t, []string{}, change.Roles)
	assert.Equal(t, []string{"view reports"}, change.Permissions)

	assert.Equal(t, ExitOK, h.run("check", "--subject", "U3", "--event", "acme", "--permission", "view reports"))
	require.Equal(t, ExitOK, h.run("revoke", "--subject", "U3", "--event", "acme", "--permission", "view reports"))
	assert.Equal(t, ExitDenied, h.run("check", "--subject", "U3", "--event", "acme", "--permission", "view reports"))
}

func TestAssignValidation(t *testing.T) {
	h := newHarness(t)
	h.createShop(t, "acme", "U1")

	assert.Equal(t, ExitUsage, h.run("assign", "--event", "acme", "--role", "staff"))
	assert.Equal(t, ExitUsage, h.run("assign", "--subject", "U2", "--event", "acme"))
	assert.Equal(t, ExitError, h.run("assign", "--subject", "U2", "--event", "acme", "--role", "moderator"))
	assert.Equal(t, ExitError, h.run("assign", "--subject", "U2", "--event", "missing", "--role", "staff"))
	assert.Equal(t, ExitError, h.run("assign", "--subject", "U2", "--role", "staff"))
	assert.Contains(t, h.stderr.String(), "--event is required")
}

func TestCreateEventErrors(t *testing.T) {
	h := newHarness(t)
	h.createShop(t, "acme", "U1")

	assert.Equal(t, ExitError, h.run("create-event", "--type", "shop", "--name", "Again", "--slug", "acme", "--owner", "U2"))
	assert.Contains(t, h.stderr.String(), "slug conflict")

	assert.Equal(t, ExitError, h.run("create-event", "--type", "bakery", "--name", "Bread", "--slug", "bread", "--owner", "U2"))
	assert.Contains(t, h.stderr.String(), "unknown event type")

	assert.Equal(t, ExitUsage, h.run("create-event", "--type", "shop", "--name", "Bad", "--slug", "bad", "--owner", "U2", "--settings", "[1"))
}

func TestCreateEventHumanOutputAndSettings(t *testing.T) {
	h := newHarness(t)
	code := h.run("create-event", "--type", "forum", "--name", "Talk", "--slug", "talk", "--owner", "U9",
		"--description", "general chat", "--settings", `{"locale":"en"}`)
	require.Equal(t, ExitOK, code, h.stderr.String())
	assert.Contains(t, h.stdout.String(), `talk "Talk" type=forum owner=U9 active`)

	require.Equal(t, ExitOK, h.run("events", "--json"))
	var list []eventView
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "en", list[0].Settings["locale"])
	require.NotNil(t, list[0].Description)
	assert.Equal(t, "general chat", *list[0].Description)
}

func TestDeactivate(t *testing.T) {
	h := newHarness(t)
	id := h.createShop(t, "acme", "U1")
	h.createShop(t, "beta", "U1")

	require.Equal(t, ExitOK, h.run("deactivate", "--event", "acme"))
	assert.Contains(t, h.stdout.String(), "deactivated")

	assert.Equal(t, ExitError, h.run("deactivate", "--event", "acme"))
	assert.Equal(t, ExitUsage, h.run("deactivate"))

	// Deactivated events grant nothing.
	require.Equal(t, ExitOK, h.run("check", "--subject", "U1", "--event", strconv.FormatInt(id, 10), "--json"))
	var summary checkSummary
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &summary))
	assert.Empty(t, summary.Permissions)

	require.Equal(t, ExitOK, h.run("events"))
	assert.NotContains(t, h.stdout.String(), "acme")
	assert.Contains(t, h.stdout.String(), "beta")

	require.Equal(t, ExitOK, h.run("events", "--all"))
	assert.Contains(t, h.stdout.String(), "acme")
}

func TestUnknownEventIDResolvesEmpty(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, ExitOK, h.run("check", "--subject", "U1", "--event", "999"))
	assert.Contains(t, h.stdout.String(), "(none)")
	assert.Equal(t, ExitDenied, h.run("check", "--subject", "U1", "--event", "999", "--permission", "view shop"))
}

func TestCatalogCommand(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, ExitOK, h.run("catalog", "--json"))
	var view catalogView
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &view))
	require.Len(t, view.EventTypes, 4)
	assert.Equal(t, "shop", view.EventTypes[0].Slug)
	assert.Equal(t, []string{"view shop"}, view.EventTypes[0].Roles["customer"])

	require.Equal(t, ExitOK, h.run("catalog"))
	assert.Contains(t, h.stdout.String(), "shop (Shop)")
	assert.Contains(t, h.stdout.String(), "customer")
}

func TestPostgresCommandsNeedDSN(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, ExitError, h.run("migrate"))
	assert.Contains(t, h.stderr.String(), "PG_DSN")
	assert.Equal(t, ExitError, h.run("sync-catalog"))
}

type fakeEnqueuer struct {
	warmed []int64
	swept  int
}

func (f *fakeEnqueuer) EnqueuePermissionsWarmup(_ context.Context, eventID int64) (*asynq.TaskInfo, error) {
	f.warmed = append(f.warmed, eventID)
	return &asynq.TaskInfo{ID: "task-1", Queue: jobs.QueueDefault}, nil
}

func (f *fakeEnqueuer) EnqueueCacheSweep(context.Context) (*asynq.TaskInfo, error) {
	f.swept++
	return &asynq.TaskInfo{ID: "task-2", Queue: jobs.QueueDefault}, nil
}

func TestEnqueue(t *testing.T) {
	assert.Equal(t, ExitError, newHarness(t).run("enqueue", jobs.TaskPermissionsWarmup))

	fake := &fakeEnqueuer{}
	h := newHarness(t, WithEnqueuer(fake))
	id := h.createShop(t, "acme", "U1")

	require.Equal(t, ExitOK, h.run("enqueue", jobs.TaskPermissionsWarmup))
	require.Equal(t, ExitOK, h.run("enqueue", "--event", "acme", "--json", jobs.TaskPermissionsWarmup))
	var summary enqueueSummary
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &summary))
	assert.Equal(t, "task-1", summary.ID)
	assert.Equal(t, []int64{0, id}, fake.warmed)

	require.Equal(t, ExitOK, h.run("enqueue", jobs.TaskPermissionsCacheSweep))
	assert.Equal(t, 1, fake.swept)

	assert.Equal(t, ExitUsage, h.run("enqueue"))
	assert.Equal(t, ExitUsage, h.run("enqueue", "reports:rebuild"))
}
