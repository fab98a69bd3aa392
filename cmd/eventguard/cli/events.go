package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eventguard/eventguard/internal/events"
)

type eventView struct {
	ID          int64          `json:"id"`
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Slug        string         `json:"slug"`
	Description *string        `json:"description,omitempty"`
	OwnerID     string         `json:"owner_id"`
	Settings    map[string]any `json:"settings,omitempty"`
	Active      bool           `json:"active"`
	CreatedAt   time.Time      `json:"created_at"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty"`
}

func newEventView(e events.Event) eventView {
	return eventView{
		ID:          e.ID,
		Type:        e.TypeSlug,
		Name:        e.Name,
		Slug:        e.Slug,
		Description: e.Description,
		OwnerID:     e.OwnerID,
		Settings:    e.Settings,
		Active:      e.IsActive,
		CreatedAt:   e.CreatedAt,
		DeletedAt:   e.DeletedAt,
	}
}

func (c *CLI) printEvent(e events.Event) {
	state := "active"
	if e.Deleted() {
		state = "deactivated"
	}
	_, _ = fmt.Fprintf(c.stdout, "#%d %s %q type=%s owner=%s %s\n", e.ID, e.Slug, e.Name, e.TypeSlug, e.OwnerID, state)
}

func (c *CLI) createEvent(ctx context.Context, args []string) int {
	fs, jsonOut := c.flagSet("create-event")
	typeSlug := fs.String("type", "", "event type slug")
	name := fs.String("name", "", "display name")
	slug := fs.String("slug", "", "unique event slug")
	owner := fs.String("owner", "", "owner subject id")
	description := fs.String("description", "", "optional description")
	settings := fs.String("settings", "", "optional settings as a JSON object")
	if code, ok := c.parse(fs, args); !ok {
		return code
	}

	in := events.CreateEventInput{TypeSlug: *typeSlug, Name: *name, Slug: *slug, OwnerID: *owner}
	if *description != "" {
		in.Description = description
	}
	if *settings != "" {
		if err := json.Unmarshal([]byte(*settings), &in.Settings); err != nil {
			return c.usageError("create-event", fmt.Sprintf("--settings must be a JSON object: %v", err))
		}
	}
	e, err := c.rt.Service.CreateEvent(ctx, in)
	if err != nil {
		return c.fail("create-event", err)
	}
	if *jsonOut {
		return c.writeJSON("create-event", newEventView(e))
	}
	c.printEvent(e)
	return ExitOK
}

func (c *CLI) listEvents(ctx context.Context, args []string) int {
	fs, jsonOut := c.flagSet("events")
	typeSlug := fs.String("type", "", "only events of this type")
	owner := fs.String("owner", "", "only events owned by this subject")
	all := fs.Bool("all", false, "include deactivated events")
	if code, ok := c.parse(fs, args); !ok {
		return code
	}
	list, err := c.rt.Service.ListEvents(ctx, events.ListFilter{TypeSlug: *typeSlug, OwnerID: *owner, IncludeDeleted: *all})
	if err != nil {
		return c.fail("events", err)
	}
	if *jsonOut {
		views := make([]eventView, 0, len(list))
		for _, e := range list {
			views = append(views, newEventView(e))
		}
		return c.writeJSON("events", views)
	}
	if len(list) == 0 {
		_, _ = fmt.Fprintln(c.stdout, "No events.")
		return ExitOK
	}
	for _, e := range list {
		c.printEvent(e)
	}
	return ExitOK
}

func (c *CLI) deactivate(ctx context.Context, args []string) int {
	fs, jsonOut := c.flagSet("deactivate")
	ref := fs.String("event", "", "event id or slug")
	if code, ok := c.parse(fs, args); !ok {
		return code
	}
	if *ref == "" {
		return c.usageError("deactivate", "--event is required")
	}
	target, err := c.resolveEvent(ctx, *ref, events.GetOptions{})
	if err != nil {
		return c.fail("deactivate", err)
	}
	e, err := c.rt.Service.Deactivate(ctx, target.ID)
	if err != nil && e.ID == 0 {
		return c.fail("deactivate", err)
	}
	if *jsonOut {
		if code := c.writeJSON("deactivate", newEventView(e)); code != ExitOK {
			return code
		}
	} else {
		c.printEvent(e)
	}
	if err != nil {
		// The event is deactivated; only cleanup failed.
		return c.fail("deactivate", err)
	}
	return ExitOK
}
