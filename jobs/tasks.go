package jobs

import (
	"encoding/json"
	"slices"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/rollup/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRollupDaily aggregates and syncs tenants for one day.
	TaskRollupDaily = "rollup:daily"
	// TaskRollupRebuild replays a date range for one tenant.
	TaskRollupRebuild = "rollup:rebuild"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// RollupDailyPayload scopes a daily run. An empty TenantID selects tenants by
// Interval; an empty Date selects the default day of the interval.
type RollupDailyPayload struct {
	TenantID int64  `json:"tenant_id,omitempty"`
	Interval string `json:"interval,omitempty"`
	Date     string `json:"date,omitempty"`
	Sync     bool   `json:"sync"`
}

// RollupRebuildPayload scopes a range rebuild.
type RollupRebuildPayload struct {
	TenantID int64  `json:"tenant_id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Sync     bool   `json:"sync"`
}

// NewRollupDailyTask constructs a TaskRollupDaily task.
func NewRollupDailyTask(payload RollupDailyPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRollupDaily, body, asynq.Queue(QueueDefault)), nil
}

// NewRollupRebuildTask constructs a TaskRollupRebuild task.
func NewRollupRebuildTask(payload RollupRebuildPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRollupRebuild, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

// RollupSchedule maps each sync interval to its cron expression.
type RollupSchedule map[string]string

// CronRegistrations prepares one sync-enabled rollup:daily task per interval
// with a non-empty cron expression.
func (s RollupSchedule) CronRegistrations() ([]CronRegistration, error) {
	intervals := make([]string, 0, len(s))
	for interval := range s {
		intervals = append(intervals, interval)
	}
	slices.Sort(intervals)
	out := make([]CronRegistration, 0, len(intervals))
	for _, interval := range intervals {
		spec := s[interval]
		if spec == "" {
			continue
		}
		task, err := NewRollupDailyTask(RollupDailyPayload{Interval: interval, Sync: true})
		if err != nil {
			return nil, err
		}
		out = append(out, CronRegistration{Spec: spec, Task: task})
	}
	return out, nil
}
