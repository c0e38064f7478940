// Package syncer pushes the roll-up facts of a tenant into its approved parent's
// partition.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/rollup/internal/hierarchy"
	jobmetrics "github.com/odyssey-erp/rollup/internal/jobs"
	"github.com/odyssey-erp/rollup/internal/rollup"
	"github.com/odyssey-erp/rollup/internal/runlog"
	"github.com/odyssey-erp/rollup/internal/shared"
)

// Outcome summarises a sync attempt.
type Outcome string

const (
	OutcomeSynced        Outcome = "synced"
	OutcomePartial       Outcome = "partial"
	OutcomeNoParent      Outcome = "no_parent"
	OutcomeNotApproved   Outcome = "not_approved"
	OutcomeParentMissing Outcome = "parent_missing"
)

// Failure describes a fact kind that could not be pushed.
type Failure struct {
	Kind  rollup.Kind `json:"kind"`
	Error string      `json:"error"`
}

// Result is the report of one SyncToParent call.
type Result struct {
	TenantID       int64         `json:"tenant_id"`
	ParentTenantID int64         `json:"parent_tenant_id,omitempty"`
	Date           string        `json:"date"`
	Outcome        Outcome       `json:"outcome"`
	Success        []rollup.Kind `json:"success"`
	Failed         []Failure     `json:"failed"`
	TotalSynced    int           `json:"total_synced"`
}

// Parents resolves the parent of a tenant.
type Parents interface {
	Config(ctx context.Context, tenantID int64) (hierarchy.Config, error)
	Shop(ctx context.Context, id int64) (hierarchy.Shop, error)
}

// Engine copies facts from a tenant partition into the parent partition.
type Engine struct {
	parents Parents
	store   rollup.Store
	log     *runlog.Log
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewEngine constructs Engine. log and metrics may be nil.
func NewEngine(parents Parents, store rollup.Store, log *runlog.Log, metrics *jobmetrics.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{parents: parents, store: store, log: log, metrics: metrics, logger: logger}
}

// snapshot is every fact of one tenant partition for a day.
type snapshot struct {
	products   []rollup.ProductFact
	inventory  []rollup.InventoryFact
	orders     []rollup.OrderFact
	accounting []rollup.AccountingFact
}

// SyncToParent overwrites the parent's copy of every fact the tenant partition
// holds for day. Rows keep their originating tenant, including rows the tenant
// received from its own children. Missing or unapproved parents are reported in
// the result, not as errors.
func (e *Engine) SyncToParent(ctx context.Context, tenantID int64, day time.Time) (Result, error) {
	day = shared.Day(day)
	res := Result{TenantID: tenantID, Date: day.Format(time.DateOnly), Success: []rollup.Kind{}, Failed: []Failure{}}

	cfg, err := e.parents.Config(ctx, tenantID)
	switch {
	case errors.Is(err, hierarchy.ErrConfigNotFound):
		return e.finish(ctx, res, OutcomeNoParent), nil
	case err != nil:
		return Result{}, fmt.Errorf("syncer: load hierarchy of tenant %d: %w", tenantID, err)
	}
	if !cfg.HasParent() {
		return e.finish(ctx, res, OutcomeNoParent), nil
	}
	res.ParentTenantID = *cfg.ParentTenantID
	if cfg.ApprovalStatus != hierarchy.StatusApproved {
		return e.finish(ctx, res, OutcomeNotApproved), nil
	}
	if _, err := e.parents.Shop(ctx, res.ParentTenantID); err != nil {
		if errors.Is(err, hierarchy.ErrShopNotFound) {
			return e.finish(ctx, res, OutcomeParentMissing), nil
		}
		return Result{}, fmt.Errorf("syncer: load parent shop %d: %w", res.ParentTenantID, err)
	}

	var snap snapshot
	err = e.store.WithPartition(ctx, tenantID, func(ctx context.Context, p rollup.Partition) error {
		var err error
		daily := rollup.DayPeriod(day)
		if snap.products, err = p.Products(ctx, daily); err != nil {
			return err
		}
		if snap.inventory, err = p.Inventory(ctx, daily); err != nil {
			return err
		}
		if snap.orders, err = p.Orders(ctx, daily, rollup.MonthPeriod(day)); err != nil {
			return err
		}
		snap.accounting, err = p.Accounting(ctx, daily)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("syncer: read facts of tenant %d: %w", tenantID, err)
	}

	writes := []struct {
		kind  rollup.Kind
		count int
		write func(context.Context, rollup.Partition) error
	}{
		{rollup.KindProduct, len(snap.products), func(ctx context.Context, p rollup.Partition) error {
			return p.UpsertProducts(ctx, snap.products, rollup.MergeReplace)
		}},
		{rollup.KindInventory, len(snap.inventory), func(ctx context.Context, p rollup.Partition) error {
			return p.UpsertInventory(ctx, snap.inventory, rollup.MergeReplace)
		}},
		{rollup.KindOrder, len(snap.orders), func(ctx context.Context, p rollup.Partition) error {
			return p.UpsertOrders(ctx, snap.orders, rollup.MergeReplace)
		}},
		{rollup.KindAccounting, len(snap.accounting), func(ctx context.Context, p rollup.Partition) error {
			return p.UpsertAccounting(ctx, snap.accounting, rollup.MergeReplace)
		}},
	}
	for _, w := range writes {
		if w.count == 0 {
			res.Success = append(res.Success, w.kind)
			continue
		}
		if err := e.store.WithPartition(ctx, res.ParentTenantID, w.write); err != nil {
			res.Failed = append(res.Failed, Failure{Kind: w.kind, Error: err.Error()})
			continue
		}
		res.Success = append(res.Success, w.kind)
		res.TotalSynced += w.count
	}

	outcome := OutcomeSynced
	if len(res.Failed) > 0 {
		outcome = OutcomePartial
	}
	return e.finish(ctx, res, outcome), nil
}

func (e *Engine) finish(ctx context.Context, res Result, outcome Outcome) Result {
	res.Outcome = outcome
	e.metrics.AddSyncRows(string(outcome), res.TotalSynced)
	e.log.Append(ctx, runlog.KindSync, res.TenantID, res.Date, res)

	level := slog.LevelInfo
	if len(res.Failed) > 0 || outcome == OutcomeParentMissing {
		level = slog.LevelWarn
	}
	e.logger.Log(ctx, level, "rollup sync finished",
		slog.Int64("tenant_id", res.TenantID),
		slog.Int64("parent_tenant_id", res.ParentTenantID),
		slog.String("date", res.Date),
		slog.String("outcome", string(outcome)),
		slog.Int("total_synced", res.TotalSynced),
		slog.Int("failed", len(res.Failed)),
	)
	return res
}
