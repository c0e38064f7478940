package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/rollup/internal/jobs"
	"github.com/odyssey-erp/rollup/internal/shared"
)

// RollupRebuildJob replays a date range for one tenant.
type RollupRebuildJob struct {
	Runner  RollupRunner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRollupRebuildJob constructs the job handler.
func NewRollupRebuildJob(runner RollupRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *RollupRebuildJob {
	return &RollupRebuildJob{Runner: runner, Logger: logger, Metrics: metrics}
}

// Handle executes the rebuild. Failed days are reported in the log and do not
// make the task fail, since rerunning the range would replay the good days too.
func (j *RollupRebuildJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Runner == nil {
		return errors.New("rollup rebuild: dependencies not configured")
	}
	var payload RollupRebuildPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("rollup rebuild: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.TenantID <= 0 {
		return fmt.Errorf("rollup rebuild: tenant required: %w", asynq.SkipRetry)
	}
	from, err := shared.ParseDay(payload.From)
	if err != nil {
		return fmt.Errorf("rollup rebuild: %v: %w", err, asynq.SkipRetry)
	}
	to, err := shared.ParseDay(payload.To)
	if err != nil {
		return fmt.Errorf("rollup rebuild: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskRollupRebuild)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	res, err := j.Runner.RebuildRange(ctx, payload.TenantID, from, to, payload.Sync)
	if err != nil {
		resultErr = err
		j.log().Error("rebuild range", slog.Int64("tenant_id", payload.TenantID), slog.Any("error", err))
		return resultErr
	}
	level := slog.LevelInfo
	if res.Failed > 0 || res.Cancelled {
		level = slog.LevelWarn
	}
	j.log().Log(ctx, level, "rollup rebuild finished",
		slog.Int64("tenant_id", res.TenantID),
		slog.String("from", res.From),
		slog.String("to", res.To),
		slog.Int("total", res.Total),
		slog.Int("success", res.Success),
		slog.Int("failed", res.Failed),
		slog.Bool("cancelled", res.Cancelled),
	)
	return resultErr
}

func (j *RollupRebuildJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *RollupRebuildJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskRollupRebuild))
	}
	return slog.Default().With(slog.String("job", TaskRollupRebuild))
}
