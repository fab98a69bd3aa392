package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPermissionsWarmup recomputes cached permission sets.
	TaskPermissionsWarmup = "permissions:warmup"
	// TaskPermissionsCacheSweep drops expired in-process cache entries.
	TaskPermissionsCacheSweep = "permissions:cache_sweep"
)

// PermissionsWarmupPayload selects the events to warm. A zero EventID warms
// every active event.
type PermissionsWarmupPayload struct {
	EventID int64 `json:"event_id,omitempty"`
}

// NewPermissionsWarmupTask constructs a warmup task.
func NewPermissionsWarmupTask(eventID int64) (*asynq.Task, error) {
	data, err := json.Marshal(PermissionsWarmupPayload{EventID: eventID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionsWarmup, data), nil
}

// NewCacheSweepTask constructs a cache sweep task.
func NewCacheSweepTask() *asynq.Task {
	return asynq.NewTask(TaskPermissionsCacheSweep, nil)
}
