// Package pgtest opens the Postgres database used by integration tests.
// Tests skip unless EGD_TEST_PG_DSN is set.
package pgtest

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventguard/eventguard/internal/platform/db"
)

// EnvDSN names the variable holding the integration database DSN.
const EnvDSN = "EGD_TEST_PG_DSN"

var seq atomic.Int64

// Open connects to the integration database and migrates a fresh set of
// tables for the calling test. The tables are dropped on cleanup.
func Open(t testing.TB) (*pgxpool.Pool, db.Tables) {
	t.Helper()
	dsn := os.Getenv(EnvDSN)
	if dsn == "" {
		t.Skipf("%s not set", EnvDSN)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.New(ctx, dsn, db.Options{MaxConns: 4})
	if err != nil {
		t.Fatalf("pgtest: connect: %v", err)
	}
	tables := Tables(fmt.Sprintf("egd_t%d_%d_", time.Now().UnixNano()%1_000_000, seq.Add(1)))
	if _, err := db.Migrate(ctx, pool, tables, nil); err != nil {
		pool.Close()
		t.Fatalf("pgtest: migrate: %v", err)
	}
	t.Cleanup(func() {
		drop := []string{
			tables.ModelHasPermissions, tables.ModelHasRoles, tables.RolePermission,
			tables.Roles, tables.Permissions, tables.Events, tables.EventTypes, tables.SchemaMigrations,
		}
		for _, name := range drop {
			_, _ = pool.Exec(context.Background(), `DROP TABLE IF EXISTS `+db.Ident(name)+` CASCADE`)
		}
		pool.Close()
	})
	return pool, tables
}

// Tables returns the relation names for prefix.
func Tables(prefix string) db.Tables {
	return db.Tables{
		EventTypes:          prefix + "event_types",
		Events:              prefix + "events",
		Roles:               prefix + "roles",
		Permissions:         prefix + "permissions",
		RolePermission:      prefix + "role_permission",
		ModelHasPermissions: prefix + "model_has_permissions",
		ModelHasRoles:       prefix + "model_has_roles",
		SchemaMigrations:    prefix + "schema_migrations",
		ModelMorphKey:       "model_id",
		RolePivotKey:        "role_id",
		PermissionPivotKey:  "permission_id",
	}
}
