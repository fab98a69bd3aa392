package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/eventguard/eventguard/internal/events"
	"github.com/eventguard/eventguard/jobs"
)

// Enqueuer submits background jobs. *jobs.Client satisfies it.
type Enqueuer interface {
	EnqueuePermissionsWarmup(ctx context.Context, eventID int64) (*asynq.TaskInfo, error)
	EnqueueCacheSweep(ctx context.Context) (*asynq.TaskInfo, error)
}

type enqueueSummary struct {
	Job   string `json:"job"`
	ID    string `json:"id"`
	Queue string `json:"queue"`
}

func (c *CLI) enqueue(ctx context.Context, args []string) int {
	fs, jsonOut := c.flagSet("enqueue")
	ref := fs.String("event", "", "warm a single event (id or slug); default all active events")
	if code, ok := c.parse(fs, args); !ok {
		return code
	}
	if c.enqueuer == nil {
		return c.fail("enqueue", errors.New("job queue not configured (set REDIS_ADDR)"))
	}
	if fs.NArg() != 1 {
		return c.usageError("enqueue", fmt.Sprintf("expected one job name: %s or %s", jobs.TaskPermissionsWarmup, jobs.TaskPermissionsCacheSweep))
	}

	var (
		info *asynq.TaskInfo
		err  error
	)
	name := fs.Arg(0)
	switch name {
	case jobs.TaskPermissionsWarmup:
		var eventID int64
		if *ref != "" {
			e, lookupErr := c.resolveEvent(ctx, *ref, events.GetOptions{})
			if lookupErr != nil {
				return c.fail("enqueue", lookupErr)
			}
			eventID = e.ID
		}
		info, err = c.enqueuer.EnqueuePermissionsWarmup(ctx, eventID)
	case jobs.TaskPermissionsCacheSweep:
		info, err = c.enqueuer.EnqueueCacheSweep(ctx)
	default:
		return c.usageError("enqueue", fmt.Sprintf("unsupported job %s", name))
	}
	if err != nil {
		return c.fail("enqueue", err)
	}

	summary := enqueueSummary{Job: name}
	if info != nil {
		summary.ID = info.ID
		summary.Queue = info.Queue
	}
	if *jsonOut {
		return c.writeJSON("enqueue", summary)
	}
	_, _ = fmt.Fprintf(c.stdout, "enqueued %s id=%s queue=%s\n", summary.Job, summary.ID, summary.Queue)
	return ExitOK
}
