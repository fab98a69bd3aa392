package db

import (
	"strings"

	"github.com/jackc/pgx/v5"
)

// Tables holds the configurable relation names used by the stores.
// Overrides only rename relations; they carry no behaviour.
type Tables struct {
	EventTypes          string
	Events              string
	Roles               string
	Permissions         string
	RolePermission      string
	ModelHasPermissions string
	ModelHasRoles       string
	SchemaMigrations    string
	// ModelMorphKey names the subject column of the assignment tables.
	ModelMorphKey string
	// RolePivotKey and PermissionPivotKey name the id columns of RolePermission.
	RolePivotKey       string
	PermissionPivotKey string
}

// DefaultTables returns the stock egd_* names.
func DefaultTables() Tables {
	return Tables{
		EventTypes:          "egd_event_types",
		Events:              "egd_events",
		Roles:               "egd_roles",
		Permissions:         "egd_permissions",
		RolePermission:      "egd_role_permission",
		ModelHasPermissions: "egd_model_has_permissions",
		ModelHasRoles:       "egd_model_has_roles",
		SchemaMigrations:    "egd_schema_migrations",
		ModelMorphKey:       "model_id",
		RolePivotKey:        "role_id",
		PermissionPivotKey:  "permission_id",
	}
}

// WithDefaults fills empty names from DefaultTables.
func (t Tables) WithDefaults() Tables {
	d := DefaultTables()
	pick := func(v, fallback string) string {
		if strings.TrimSpace(v) == "" {
			return fallback
		}
		return v
	}
	return Tables{
		EventTypes:          pick(t.EventTypes, d.EventTypes),
		Events:              pick(t.Events, d.Events),
		Roles:               pick(t.Roles, d.Roles),
		Permissions:         pick(t.Permissions, d.Permissions),
		RolePermission:      pick(t.RolePermission, d.RolePermission),
		ModelHasPermissions: pick(t.ModelHasPermissions, d.ModelHasPermissions),
		ModelHasRoles:       pick(t.ModelHasRoles, d.ModelHasRoles),
		SchemaMigrations:    pick(t.SchemaMigrations, d.SchemaMigrations),
		ModelMorphKey:       pick(t.ModelMorphKey, d.ModelMorphKey),
		RolePivotKey:        pick(t.RolePivotKey, d.RolePivotKey),
		PermissionPivotKey:  pick(t.PermissionPivotKey, d.PermissionPivotKey),
	}
}

// Ident quotes a relation or column name for interpolation into SQL.
func Ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// Quoted returns a copy with every name quoted, for use in SQL templates.
func (t Tables) Quoted() Tables {
	t = t.WithDefaults()
	return Tables{
		EventTypes:          Ident(t.EventTypes),
		Events:              Ident(t.Events),
		Roles:               Ident(t.Roles),
		Permissions:         Ident(t.Permissions),
		RolePermission:      Ident(t.RolePermission),
		ModelHasPermissions: Ident(t.ModelHasPermissions),
		ModelHasRoles:       Ident(t.ModelHasRoles),
		SchemaMigrations:    Ident(t.SchemaMigrations),
		ModelMorphKey:       Ident(t.ModelMorphKey),
		RolePivotKey:        Ident(t.RolePivotKey),
		PermissionPivotKey:  Ident(t.PermissionPivotKey),
	}
}
