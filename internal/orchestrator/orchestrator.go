// Package orchestrator drives aggregation, ledger marking and parent sync for a
// tenant day.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	jobmetrics "github.com/odyssey-erp/rollup/internal/jobs"
	"github.com/odyssey-erp/rollup/internal/rollup"
	"github.com/odyssey-erp/rollup/internal/runlog"
	"github.com/odyssey-erp/rollup/internal/shared"
	"github.com/odyssey-erp/rollup/internal/syncer"
)

// State is a step of a run.
type State string

const (
	StateIdle             State = "idle"
	StateAggregating      State = "aggregating"
	StateMarkingProcessed State = "marking_processed"
	StateSyncing          State = "syncing"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// Options tunes a run.
type Options struct {
	SyncToParent bool `json:"sync_to_parent"`
}

// KindResult reports one computation of a run.
type KindResult struct {
	Kind        rollup.Kind `json:"kind"`
	SavedCount  int         `json:"saved_count"`
	LedgerCount int         `json:"ledger_count"`
	Error       string      `json:"error,omitempty"`
}

// RunResult is the report of one run.
type RunResult struct {
	RunID      string         `json:"run_id"`
	TenantID   int64          `json:"tenant_id"`
	Date       string         `json:"date"`
	State      State          `json:"state"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Kinds      []KindResult   `json:"kinds"`
	LedgerIDs  shared.IDSet   `json:"ledger_ids"`
	Marked     int64          `json:"marked"`
	Sync       *syncer.Result `json:"sync,omitempty"`
	SyncError  string         `json:"sync_error,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Failed reports whether aggregation or marking failed.
func (r RunResult) Failed() bool {
	return r.State == StateFailed
}

// Syncer pushes a tenant day to its parent.
type Syncer interface {
	SyncToParent(ctx context.Context, tenantID int64, day time.Time) (syncer.Result, error)
}

// Config wires an Orchestrator. Registry is read at the start of every run.
// LockTTL bounds one computation; the lease is refreshed before each one.
type Config struct {
	Registry *rollup.Registry
	Scopes   rollup.Workspace
	Syncer   Syncer
	Locker   Locker
	LockTTL  time.Duration
	RunLog   *runlog.Log
	Metrics  *jobmetrics.Metrics
	Logger   *slog.Logger
}

// Orchestrator runs the roll-up state machine.
type Orchestrator struct {
	registry *rollup.Registry
	scopes   rollup.Workspace
	syncer   Syncer
	locker   Locker
	lockTTL  time.Duration
	runLog   *runlog.Log
	metrics  *jobmetrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// New constructs Orchestrator. A nil Locker falls back to a LocalLocker.
func New(cfg Config) *Orchestrator {
	if cfg.Locker == nil {
		cfg.Locker = NewLocalLocker()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = &rollup.Registry{}
	}
	return &Orchestrator{
		registry: cfg.Registry,
		scopes:   cfg.Scopes,
		syncer:   cfg.Syncer,
		locker:   cfg.Locker,
		lockTTL:  cfg.LockTTL,
		runLog:   cfg.RunLog,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

// Run aggregates the tenant day and marks the touched ledgers processed in one
// scope, so a failing computation or mark leaves neither facts nor marks behind.
// It then optionally syncs to the parent. Aggregation and sync failures are
// reported in the result. The error is non-nil only when the run could not start.
func (o *Orchestrator) Run(ctx context.Context, tenantID int64, day time.Time, opts Options) (RunResult, error) {
	if tenantID <= 0 {
		return RunResult{}, rollup.ErrInvalidTenant
	}
	day = shared.Day(day)
	lease, err := o.locker.Acquire(ctx, shared.RollupLockKey(tenantID, day), o.lockTTL)
	if err != nil {
		return RunResult{}, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			o.logger.Warn("rollup release lock", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
		}
	}()

	computations := o.registry.Computations()
	res := RunResult{
		RunID:     uuid.NewString(),
		TenantID:  tenantID,
		Date:      day.Format(time.DateOnly),
		State:     StateIdle,
		StartedAt: o.now().UTC(),
		Kinds:     make([]KindResult, 0, len(computations)),
		LedgerIDs: shared.IDSet{},
	}

	res.State = StateAggregating
	err = o.scopes.WithScope(ctx, tenantID, func(ctx context.Context, s rollup.Scope) error {
		var aggErr error
		for _, c := range computations {
			if err := lease.Refresh(ctx, o.lockTTL); err != nil {
				return err
			}
			out, err := c.Compute(ctx, s, tenantID, day)
			kr := KindResult{Kind: c.Kind, SavedCount: out.SavedKeys, LedgerCount: out.LedgerIDs.Len()}
			if err != nil {
				kr.Error = err.Error()
				aggErr = errors.Join(aggErr, fmt.Errorf("%s: %w", c.Kind, err))
			} else {
				res.LedgerIDs = res.LedgerIDs.Union(out.LedgerIDs)
			}
			res.Kinds = append(res.Kinds, kr)
		}
		if aggErr != nil {
			return aggErr
		}

		res.State = StateMarkingProcessed
		if res.LedgerIDs.Len() == 0 {
			return nil
		}
		if err := lease.Refresh(ctx, o.lockTTL); err != nil {
			return err
		}
		marked, err := s.Ledgers.MarkProcessed(ctx, res.LedgerIDs.Slice())
		if err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}
		res.Marked = marked
		return nil
	})
	if err != nil {
		res.Marked = 0
		for i := range res.Kinds {
			res.Kinds[i].SavedCount = 0
		}
		return o.finish(ctx, res, err), nil
	}
	for _, kr := range res.Kinds {
		o.metrics.AddFacts(string(kr.Kind), kr.SavedCount)
	}

	if opts.SyncToParent && o.syncer != nil {
		res.State = StateSyncing
		syncRes, err := o.syncer.SyncToParent(ctx, tenantID, day)
		if err != nil {
			res.SyncError = err.Error()
		} else {
			res.Sync = &syncRes
		}
	}
	return o.finish(ctx, res, nil), nil
}

func (o *Orchestrator) finish(ctx context.Context, res RunResult, err error) RunResult {
	res.FinishedAt = o.now().UTC()
	if err != nil {
		res.State = StateFailed
		res.Error = err.Error()
	} else {
		res.State = StateDone
	}
	o.runLog.Append(ctx, runlog.KindRun, res.TenantID, res.Date, res)

	attrs := []any{
		slog.String("run_id", res.RunID),
		slog.Int64("tenant_id", res.TenantID),
		slog.String("date", res.Date),
		slog.String("state", string(res.State)),
		slog.Int("ledgers", res.LedgerIDs.Len()),
		slog.Int64("marked", res.Marked),
	}
	if err != nil {
		o.logger.Error("rollup run failed", append(attrs, slog.Any("error", err))...)
	} else {
		o.logger.Info("rollup run finished", attrs...)
	}
	return res
}
