package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/eventguard/eventguard/internal/jobs"
)

// Sweeper drops expired cache entries. permcache.Memory and permcache.Redis
// satisfy it.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// CacheSweepJob removes expired entries from the permission cache. For Redis
// the entries expire natively and the sweep trims the key index.
type CacheSweepJob struct {
	Cache   Sweeper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCacheSweepJob wires the sweep handler.
func NewCacheSweepJob(cache Sweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheSweepJob {
	return &CacheSweepJob{Cache: cache, Logger: logger, Metrics: metrics}
}

// Handle processes cache sweep tasks.
func (j *CacheSweepJob) Handle(ctx context.Context, _ *asynq.Task) (resultErr error) {
	if j == nil {
		return errors.New("cache sweep: handler not configured")
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskPermissionsCacheSweep)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	if j.Cache == nil {
		return nil
	}
	removed, err := j.Cache.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("cache sweep: %w", err)
	}
	metrics.AddSwept(removed)

	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("permission cache sweep", slog.String("job", TaskPermissionsCacheSweep), slog.Int("removed", removed))
	return nil
}
