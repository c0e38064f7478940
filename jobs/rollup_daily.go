package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/rollup/internal/hierarchy"
	jobmetrics "github.com/odyssey-erp/rollup/internal/jobs"
	"github.com/odyssey-erp/rollup/internal/orchestrator"
	"github.com/odyssey-erp/rollup/internal/shared"
)

// RollupRunner runs the roll-up state machine.
type RollupRunner interface {
	Run(ctx context.Context, tenantID int64, day time.Time, opts orchestrator.Options) (orchestrator.RunResult, error)
	RebuildRange(ctx context.Context, tenantID int64, start, end time.Time, syncToParents bool) (orchestrator.RebuildResult, error)
}

// TenantDirectory lists the tenants a scheduled run covers.
type TenantDirectory interface {
	TenantsByInterval(ctx context.Context, interval hierarchy.SyncInterval) ([]int64, error)
	Shops(ctx context.Context) ([]hierarchy.Shop, error)
}

// RollupDailyJob fans a scheduled run out to every selected tenant.
type RollupDailyJob struct {
	Runner  RollupRunner
	Tenants TenantDirectory
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewRollupDailyJob constructs the job handler.
func NewRollupDailyJob(runner RollupRunner, tenants TenantDirectory, logger *slog.Logger, metrics *jobmetrics.Metrics) *RollupDailyJob {
	return &RollupDailyJob{
		Runner:  runner,
		Tenants: tenants,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the daily roll-up job. Tenants already being processed are
// skipped; other failures are joined so asynq retries the task.
func (j *RollupDailyJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Runner == nil || j.Tenants == nil {
		return errors.New("rollup daily: dependencies not configured")
	}
	var payload RollupDailyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("rollup daily: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	interval := hierarchy.SyncInterval(payload.Interval)
	if interval == "" {
		interval = hierarchy.IntervalDaily
	}
	if !interval.Valid() {
		return fmt.Errorf("rollup daily: %w: %w", hierarchy.ErrInvalidInterval, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskRollupDaily)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	day, err := j.resolveDay(payload.Date, interval)
	if err != nil {
		resultErr = fmt.Errorf("rollup daily: %v: %w", err, asynq.SkipRetry)
		return resultErr
	}
	tenants, err := j.resolveTenants(ctx, payload.TenantID, interval)
	if err != nil {
		resultErr = err
		j.log().Error("resolve tenants", slog.String("interval", string(interval)), slog.Any("error", err))
		return resultErr
	}
	if len(tenants) == 0 {
		j.log().Info("no tenants scheduled", slog.String("interval", string(interval)))
		return resultErr
	}

	start := j.now()
	done, skipped := 0, 0
	var failures error
	for _, tenantID := range tenants {
		if err := ctx.Err(); err != nil {
			failures = errors.Join(failures, err)
			break
		}
		res, err := j.Runner.Run(ctx, tenantID, day, orchestrator.Options{SyncToParent: payload.Sync})
		switch {
		case errors.Is(err, orchestrator.ErrRunInProgress):
			skipped++
			j.log().Warn("tenant run in progress", slog.Int64("tenant_id", tenantID))
		case err != nil:
			failures = errors.Join(failures, fmt.Errorf("tenant %d: %w", tenantID, err))
		case res.Failed():
			failures = errors.Join(failures, fmt.Errorf("tenant %d: %s", tenantID, res.Error))
		default:
			done++
		}
	}
	resultErr = failures

	j.log().Info("rollup daily finished",
		slog.String("date", day.Format(time.DateOnly)),
		slog.String("interval", string(interval)),
		slog.Int("tenants", len(tenants)),
		slog.Int("done", done),
		slog.Int("skipped", skipped),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

// resolveDay defaults daily runs to yesterday so the whole day is final, and
// intra-day runs to today.
func (j *RollupDailyJob) resolveDay(raw string, interval hierarchy.SyncInterval) (time.Time, error) {
	if raw != "" {
		return shared.ParseDay(raw)
	}
	today := shared.Day(j.now())
	if interval == hierarchy.IntervalDaily {
		return today.AddDate(0, 0, -1), nil
	}
	return today, nil
}

// resolveTenants returns tenantID alone when set. Otherwise it returns the
// tenants syncing at interval; the daily run also covers every active shop so
// tenants without a parent are still aggregated.
func (j *RollupDailyJob) resolveTenants(ctx context.Context, tenantID int64, interval hierarchy.SyncInterval) ([]int64, error) {
	if tenantID > 0 {
		return []int64{tenantID}, nil
	}
	ids, err := j.Tenants.TenantsByInterval(ctx, interval)
	if err != nil {
		return nil, err
	}
	if interval == hierarchy.IntervalDaily {
		shops, err := j.Tenants.Shops(ctx)
		if err != nil {
			return nil, err
		}
		for _, shop := range shops {
			if !shop.Deleted {
				ids = append(ids, shop.ID)
			}
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

func (j *RollupDailyJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *RollupDailyJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskRollupDaily))
	}
	return slog.Default().With(slog.String("job", TaskRollupDaily))
}

func (j *RollupDailyJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *RollupDailyJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
