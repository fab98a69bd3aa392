package cli

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/eventguard/eventguard/internal/events"
	"github.com/eventguard/eventguard/internal/rbac"
)

type assignmentFlags struct {
	subject     string
	event       string
	roles       stringList
	permissions stringList
}

func (f *assignmentFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.subject, "subject", "", "subject id")
	fs.StringVar(&f.event, "event", "", "event id or slug")
	fs.Var(&f.roles, "role", "role name (repeatable)")
	fs.Var(&f.permissions, "permission", "permission name (repeatable)")
}

type changeSummary struct {
	Subject     string   `json:"subject"`
	EventID     int64    `json:"event_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func (c *CLI) assign(ctx context.Context, args []string) int {
	return c.change(ctx, "assign", args, true)
}

func (c *CLI) revoke(ctx context.Context, args []string) int {
	return c.change(ctx, "revoke", args, false)
}

func (c *CLI) change(ctx context.Context, cmd string, args []string, grant bool) int {
	fs, jsonOut := c.flagSet(cmd)
	var f assignmentFlags
	f.register(fs)
	if code, ok := c.parse(fs, args); !ok {
		return code
	}
	if strings.TrimSpace(f.subject) == "" {
		return c.usageError(cmd, "--subject is required")
	}
	if len(f.roles) == 0 && len(f.permissions) == 0 {
		return c.usageError(cmd, "at least one --role or --permission is required")
	}
	e, err := c.resolveEvent(ctx, f.event, events.GetOptions{IncludeDeleted: !grant})
	if err != nil {
		return c.fail(cmd, err)
	}

	svc := c.rt.Service
	for _, role := range f.roles {
		if grant {
			err = svc.AssignRole(ctx, f.subject, e.ID, role)
		} else {
			err = svc.RevokeRole(ctx, f.subject, e.ID, role)
		}
		if err != nil {
			return c.fail(cmd, fmt.Errorf("role %q: %w", role, err))
		}
	}
	for _, perm := range f.permissions {
		if grant {
			err = svc.GrantPermission(ctx, f.subject, e.ID, perm)
		} else {
			err = svc.RevokePermission(ctx, f.subject, e.ID, perm)
		}
		if err != nil {
			return c.fail(cmd, fmt.Errorf("permission %q: %w", perm, err))
		}
	}

	if *jsonOut {
		return c.writeJSON(cmd, changeSummary{
			Subject:     f.subject,
			EventID:     e.ID,
			Roles:       nonNil(f.roles),
			Permissions: nonNil(f.permissions),
		})
	}
	verb := "assigned to"
	if !grant {
		verb = "revoked from"
	}
	for _, role := range f.roles {
		_, _ = fmt.Fprintf(c.stdout, "role %q %s %s on #%d\n", role, verb, f.subject, e.ID)
	}
	for _, perm := range f.permissions {
		_, _ = fmt.Fprintf(c.stdout, "permission %q %s %s on #%d\n", perm, verb, f.subject, e.ID)
	}
	return ExitOK
}

type rolesSummary struct {
	Subject     string   `json:"subject"`
	EventID     int64    `json:"event_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"direct_permissions"`
}

func (c *CLI) roles(ctx context.Context, args []string) int {
	fs, jsonOut := c.flagSet("roles")
	subject := fs.String("subject", "", "subject id")
	ref := fs.String("event", "", "event id or slug")
	if code, ok := c.parse(fs, args); !ok {
		return code
	}
	if strings.TrimSpace(*subject) == "" {
		return c.usageError("roles", "--subject is required")
	}
	e, err := c.resolveEvent(ctx, *ref, events.GetOptions{IncludeDeleted: true})
	if err != nil {
		return c.fail("roles", err)
	}
	roles, err := c.rt.Service.RolesOf(ctx, *subject, e.ID)
	if err != nil {
		return c.fail("roles", err)
	}
	perms, err := c.rt.Service.DirectPermissionsOf(ctx, *subject, e.ID)
	if err != nil {
		return c.fail("roles", err)
	}
	if *jsonOut {
		return c.writeJSON("roles", rolesSummary{Subject: *subject, EventID: e.ID, Roles: nonNil(roles), Permissions: nonNil(perms)})
	}
	_, _ = fmt.Fprintf(c.stdout, "roles: %s\n", joinOrNone(roles))
	_, _ = fmt.Fprintf(c.stdout, "direct permissions: %s\n", joinOrNone(perms))
	return ExitOK
}

type checkSummary struct {
	Subject     string   `json:"subject"`
	EventID     int64    `json:"event_id"`
	Permissions []string `json:"permissions"`
	Required    []string `json:"required,omitempty"`
	Mode        string   `json:"mode,omitempty"`
	Granted     *bool    `json:"granted,omitempty"`
}

func (c *CLI) check(ctx context.Context, args []string) int {
	fs, jsonOut := c.flagSet("check")
	subject := fs.String("subject", "", "subject id")
	ref := fs.String("event", "", "event id or slug")
	anyOf := fs.Bool("any", false, "succeed when any --permission is held (default: all)")
	var required stringList
	fs.Var(&required, "permission", "required permission (repeatable)")
	if code, ok := c.parse(fs, args); !ok {
		return code
	}
	if strings.TrimSpace(*subject) == "" {
		return c.usageError("check", "--subject is required")
	}

	// Numeric ids go straight to the resolver so unknown events resolve to
	// the empty set.
	var eventID int64
	if id, err := strconv.ParseInt(strings.TrimSpace(*ref), 10, 64); err == nil {
		eventID = id
	} else {
		e, err := c.resolveEvent(ctx, *ref, events.GetOptions{IncludeDeleted: true})
		if err != nil {
			return c.fail("check", err)
		}
		eventID = e.ID
	}

	set, err := c.rt.Service.EffectivePermissions(ctx, *subject, eventID)
	if err != nil {
		return c.fail("check", err)
	}
	summary := checkSummary{Subject: *subject, EventID: eventID, Permissions: set.Names()}
	code := ExitOK
	if len(required) > 0 {
		mode, granted := "all", set.HasAll(required...)
		if *anyOf {
			mode, granted = "any", set.HasAny(required...)
		}
		summary.Required = rbac.NewPermissionSet(required...).Names()
		summary.Mode = mode
		summary.Granted = &granted
		if !granted {
			code = ExitDenied
		}
	}

	if *jsonOut {
		if writeCode := c.writeJSON("check", summary); writeCode != ExitOK {
			return writeCode
		}
		return code
	}
	_, _ = fmt.Fprintf(c.stdout, "%s on #%d: %s\n", *subject, eventID, joinOrNone(summary.Permissions))
	if summary.Granted != nil {
		verdict := "granted"
		if !*summary.Granted {
			verdict = "denied"
		}
		_, _ = fmt.Fprintf(c.stdout, "%s (%s of %s)\n", verdict, summary.Mode, strings.Join(summary.Required, ", "))
	}
	return code
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func joinOrNone(in []string) string {
	if len(in) == 0 {
		return "(none)"
	}
	return strings.Join(in, ", ")
}
