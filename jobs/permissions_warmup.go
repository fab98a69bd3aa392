package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/eventguard/eventguard/internal/events"
	jobmetrics "github.com/eventguard/eventguard/internal/jobs"
	"github.com/eventguard/eventguard/internal/rbac"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// PermissionWarmer is the slice of the guard service the warmup needs.
// *guard.Service satisfies it.
type PermissionWarmer interface {
	GetEvent(ctx context.Context, id int64, opts events.GetOptions) (events.Event, error)
	ListEvents(ctx context.Context, filter events.ListFilter) ([]events.Event, error)
	SubjectsOf(ctx context.Context, eventID int64) ([]string, error)
	EffectivePermissions(ctx context.Context, subject string, eventID int64) (rbac.PermissionSet, error)
}

// PermissionsWarmupJob resolves the permission set of every subject holding
// an assignment so the first request after a cold start hits the cache.
type PermissionsWarmupJob struct {
	Guard        PermissionWarmer
	Logger       *slog.Logger
	Metrics      *jobmetrics.Metrics
	EventTimeout time.Duration
	clock        func() time.Time
}

// NewPermissionsWarmupJob wires dependencies for the warmup handler.
func NewPermissionsWarmupJob(guard PermissionWarmer, logger *slog.Logger, metrics *jobmetrics.Metrics) *PermissionsWarmupJob {
	return &PermissionsWarmupJob{
		Guard:        guard,
		Logger:       logger,
		Metrics:      metrics,
		EventTimeout: 20 * time.Second,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes permission warmup tasks.
func (j *PermissionsWarmupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Guard == nil {
		return errors.New("permissions warmup: handler not configured")
	}
	var payload PermissionsWarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("permissions warmup: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	tracker := j.metrics().Track(TaskPermissionsWarmup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int64("event_id", payload.EventID))
	logger.Info("starting permissions warmup")
	start := j.now()

	targets, err := j.targets(ctx, payload.EventID)
	if err != nil {
		if errors.Is(err, events.ErrNotFound) {
			logger.Info("event inactive, nothing to warm")
			return nil
		}
		logger.Error("load warmup events", slog.Any("error", err))
		return err
	}

	warmed := 0
	for _, e := range targets {
		n, err := j.warmEvent(ctx, e.ID)
		warmed += n
		if err != nil {
			logger.Error("warm event", slog.Int64("target_event_id", e.ID), slog.Any("error", err))
			j.metrics().AddWarmed(warmed)
			return err
		}
	}
	j.metrics().AddWarmed(warmed)

	logger.Info("completed permissions warmup",
		slog.Int("events", len(targets)),
		slog.Int("subjects", warmed),
		slog.Duration("duration", j.now().Sub(start)))
	return nil
}

func (j *PermissionsWarmupJob) targets(ctx context.Context, eventID int64) ([]events.Event, error) {
	if eventID > 0 {
		e, err := j.Guard.GetEvent(ctx, eventID, events.GetOptions{})
		if err != nil {
			return nil, err
		}
		return []events.Event{e}, nil
	}
	return j.Guard.ListEvents(ctx, events.ListFilter{})
}

func (j *PermissionsWarmupJob) warmEvent(ctx context.Context, eventID int64) (int, error) {
	if j.EventTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.EventTimeout)
		defer cancel()
	}
	subjects, err := j.Guard.SubjectsOf(ctx, eventID)
	if err != nil {
		return 0, err
	}
	warmed := 0
	for _, subject := range subjects {
		if _, err := j.Guard.EffectivePermissions(ctx, subject, eventID); err != nil {
			return warmed, fmt.Errorf("subject %q: %w", subject, err)
		}
		warmed++
	}
	return warmed, nil
}

func (j *PermissionsWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPermissionsWarmup))
	}
	return slog.Default().With(slog.String("job", TaskPermissionsWarmup))
}

func (j *PermissionsWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *PermissionsWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
