package cli

import (
	"context"
	"fmt"
	"strings"
)

type migrateSummary struct {
	Applied []int `json:"applied"`
}

func (c *CLI) migrate(ctx context.Context, args []string) int {
	fs, jsonOut := c.flagSet("migrate")
	if code, ok := c.parse(fs, args); !ok {
		return code
	}
	applied, err := c.rt.Migrate(ctx)
	if err != nil {
		return c.fail("migrate", err)
	}
	if *jsonOut {
		if applied == nil {
			applied = []int{}
		}
		return c.writeJSON("migrate", migrateSummary{Applied: applied})
	}
	if len(applied) == 0 {
		_, _ = fmt.Fprintln(c.stdout, "Schema is up to date.")
		return ExitOK
	}
	for _, v := range applied {
		_, _ = fmt.Fprintf(c.stdout, "applied migration %04d\n", v)
	}
	return ExitOK
}

type eventTypeView struct {
	Slug        string              `json:"slug"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Permissions []string            `json:"permissions"`
	Roles       map[string][]string `json:"roles"`

	roleOrder []string
}

type globalRoleView struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

type catalogView struct {
	EventTypes        []eventTypeView  `json:"event_types"`
	GlobalPermissions []string         `json:"global_permissions"`
	GlobalRoles       []globalRoleView `json:"global_roles"`
}

func (c *CLI) catalogView() catalogView {
	store := c.rt.Service.Catalog()
	view := catalogView{
		EventTypes:        []eventTypeView{},
		GlobalPermissions: store.GlobalPermissions(),
		GlobalRoles:       []globalRoleView{},
	}
	for et := range store.ListEventTypes() {
		v := eventTypeView{
			Slug:        et.Slug,
			Name:        et.Name,
			Description: et.Description,
			Permissions: et.Permissions,
			Roles:       make(map[string][]string, len(et.Roles)),
			roleOrder:   et.Roles,
		}
		for _, role := range et.Roles {
			perms, _ := et.RolePermissions(role)
			v.Roles[role] = perms
		}
		view.EventTypes = append(view.EventTypes, v)
	}
	for _, role := range store.GlobalRoles() {
		view.GlobalRoles = append(view.GlobalRoles, globalRoleView{Name: role.Name, Permissions: role.Permissions})
	}
	if view.GlobalPermissions == nil {
		view.GlobalPermissions = []string{}
	}
	return view
}

func (c *CLI) catalog(_ context.Context, args []string) int {
	fs, jsonOut := c.flagSet("catalog")
	if code, ok := c.parse(fs, args); !ok {
		return code
	}
	view := c.catalogView()
	if *jsonOut {
		return c.writeJSON("catalog", view)
	}
	for _, et := range view.EventTypes {
		_, _ = fmt.Fprintf(c.stdout, "%s (%s)\n", et.Slug, et.Name)
		for _, role := range et.roleOrder {
			_, _ = fmt.Fprintf(c.stdout, "  %-12s %s\n", role, strings.Join(et.Roles[role], ", "))
		}
	}
	if len(view.GlobalRoles) > 0 {
		_, _ = fmt.Fprintln(c.stdout, "global roles:")
		for _, role := range view.GlobalRoles {
			_, _ = fmt.Fprintf(c.stdout, "  %-12s %s\n", role.Name, strings.Join(role.Permissions, ", "))
		}
	}
	return ExitOK
}

type syncSummary struct {
	EventTypes  int `json:"event_types"`
	Roles       int `json:"roles"`
	Permissions int `json:"permissions"`
}

func (c *CLI) syncCatalog(ctx context.Context, args []string) int {
	fs, jsonOut := c.flagSet("sync-catalog")
	if code, ok := c.parse(fs, args); !ok {
		return code
	}
	res, err := c.rt.SyncCatalog(ctx)
	if err != nil {
		return c.fail("sync-catalog", err)
	}
	summary := syncSummary{EventTypes: res.EventTypes, Roles: res.Roles, Permissions: res.Permissions}
	if *jsonOut {
		return c.writeJSON("sync-catalog", summary)
	}
	_, _ = fmt.Fprintf(c.stdout, "synced %d event types, %d roles, %d permissions\n",
		summary.EventTypes, summary.Roles, summary.Permissions)
	return ExitOK
}
