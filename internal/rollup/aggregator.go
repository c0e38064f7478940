package rollup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/rollup/internal/ledger"
	"github.com/odyssey-erp/rollup/internal/shared"
)

// Aggregator turns the ledgers of a tenant day into roll-up facts.
type Aggregator struct {
	scopes Workspace
	logger *slog.Logger
}

// NewAggregator constructs an Aggregator.
func NewAggregator(scopes Workspace, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{scopes: scopes, logger: logger}
}

// Computations returns the built-in computations in execution order.
func (a *Aggregator) Computations() []Computation {
	return []Computation{
		{Kind: KindProduct, Compute: a.productRollUp},
		{Kind: KindInventory, Compute: a.inventoryRollUp},
		{Kind: KindOrder, Compute: a.orderRollUp},
		{Kind: KindAccounting, Compute: a.accountingRollUp},
	}
}

// ComputeProductRollUp adds the day's unprocessed sales shipments and return
// restocks to the product facts. Ledgers are not marked processed.
func (a *Aggregator) ComputeProductRollUp(ctx context.Context, tenantID int64, day time.Time) (Result, error) {
	return a.inScope(ctx, tenantID, day, a.productRollUp)
}

// ComputeInventoryRollUp rebuilds the closing stock of the day from the latest
// earlier snapshot and every movement of the day, processed or not, so reruns
// give the same snapshot.
func (a *Aggregator) ComputeInventoryRollUp(ctx context.Context, tenantID int64, day time.Time) (Result, error) {
	return a.inScope(ctx, tenantID, day, a.inventoryRollUp)
}

// ComputeOrderRollUp counts the day's unprocessed sales into the daily and the
// month-total order facts.
func (a *Aggregator) ComputeOrderRollUp(ctx context.Context, tenantID int64, day time.Time) (Result, error) {
	return a.inScope(ctx, tenantID, day, a.orderRollUp)
}

// ComputeAccountingRollUp adds the day's unprocessed receipts and payments to the
// accounting fact.
func (a *Aggregator) ComputeAccountingRollUp(ctx context.Context, tenantID int64, day time.Time) (Result, error) {
	return a.inScope(ctx, tenantID, day, a.accountingRollUp)
}

func (a *Aggregator) inScope(ctx context.Context, tenantID int64, day time.Time, fn ComputeFunc) (Result, error) {
	if tenantID <= 0 {
		return Result{}, ErrInvalidTenant
	}
	var res Result
	err := a.scopes.WithScope(ctx, tenantID, func(ctx context.Context, s Scope) error {
		var err error
		res, err = fn(ctx, s, tenantID, day)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (a *Aggregator) productRollUp(ctx context.Context, s Scope, tenantID int64, day time.Time) (Result, error) {
	if tenantID <= 0 {
		return Result{}, ErrInvalidTenant
	}
	movements, err := s.Ledgers.Ledgers(ctx, ledger.Query{
		Date:            day,
		Types:           []ledger.Type{ledger.TypeImport, ledger.TypeExport},
		UnprocessedOnly: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("rollup: read product ledgers of tenant %d: %w", tenantID, err)
	}
	if len(movements) == 0 {
		return a.result(KindProduct, tenantID, day, 0, nil), nil
	}
	parentIDs := make([]int64, 0, len(movements))
	for _, mv := range movements {
		if mv.ParentLedgerID != nil {
			parentIDs = append(parentIDs, *mv.ParentLedgerID)
		}
	}
	parents, err := s.Ledgers.LedgersByID(ctx, shared.NewIDSet(parentIDs...).Slice())
	if err != nil {
		return Result{}, fmt.Errorf("rollup: read product parents of tenant %d: %w", tenantID, err)
	}
	items, err := s.Ledgers.Items(ctx, ledger.IDs(movements))
	if err != nil {
		return Result{}, fmt.Errorf("rollup: read product items of tenant %d: %w", tenantID, err)
	}

	facts := BuildProductFacts(tenantID, day, movements, parents, items)
	if len(facts) > 0 {
		if err := s.Facts.UpsertProducts(ctx, facts, MergeAdd); err != nil {
			return Result{}, fmt.Errorf("rollup: save product facts of tenant %d: %w", tenantID, err)
		}
	}
	return a.result(KindProduct, tenantID, day, len(facts), movements), nil
}

func (a *Aggregator) inventoryRollUp(ctx context.Context, s Scope, tenantID int64, day time.Time) (Result, error) {
	if tenantID <= 0 {
		return Result{}, ErrInvalidTenant
	}
	movements, err := s.Ledgers.Ledgers(ctx, ledger.Query{
		Date:  day,
		Types: []ledger.Type{ledger.TypeImport, ledger.TypeExport, ledger.TypeDamage},
	})
	if err != nil {
		return Result{}, fmt.Errorf("rollup: read inventory ledgers of tenant %d: %w", tenantID, err)
	}
	var items []ledger.Item
	if len(movements) > 0 {
		if items, err = s.Ledgers.Items(ctx, ledger.IDs(movements)); err != nil {
			return Result{}, fmt.Errorf("rollup: read inventory items of tenant %d: %w", tenantID, err)
		}
	}

	base, err := s.Facts.LatestInventoryBefore(ctx, tenantID, DayPeriod(day))
	if err != nil {
		return Result{}, fmt.Errorf("rollup: read inventory snapshot of tenant %d: %w", tenantID, err)
	}
	facts := BuildInventoryFacts(tenantID, day, base, movements, items)
	if len(facts) > 0 {
		if err := s.Facts.UpsertInventory(ctx, facts, MergeReplace); err != nil {
			return Result{}, fmt.Errorf("rollup: save inventory facts of tenant %d: %w", tenantID, err)
		}
	}
	return a.result(KindInventory, tenantID, day, len(facts), movements), nil
}

func (a *Aggregator) orderRollUp(ctx context.Context, s Scope, tenantID int64, day time.Time) (Result, error) {
	if tenantID <= 0 {
		return Result{}, ErrInvalidTenant
	}
	sales, err := s.Ledgers.Ledgers(ctx, ledger.Query{
		Date:            day,
		Types:           []ledger.Type{ledger.TypeSales},
		UnprocessedOnly: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("rollup: read sales ledgers of tenant %d: %w", tenantID, err)
	}

	facts := BuildOrderFacts(tenantID, day, sales)
	if len(facts) > 0 {
		if err := s.Facts.UpsertOrders(ctx, facts, MergeAdd); err != nil {
			return Result{}, fmt.Errorf("rollup: save order facts of tenant %d: %w", tenantID, err)
		}
	}
	return a.result(KindOrder, tenantID, day, len(facts), sales), nil
}

func (a *Aggregator) accountingRollUp(ctx context.Context, s Scope, tenantID int64, day time.Time) (Result, error) {
	if tenantID <= 0 {
		return Result{}, ErrInvalidTenant
	}
	records, err := s.Ledgers.Ledgers(ctx, ledger.Query{
		Date:            day,
		Types:           []ledger.Type{ledger.TypeReceipt, ledger.TypePayment},
		UnprocessedOnly: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("rollup: read accounting ledgers of tenant %d: %w", tenantID, err)
	}

	saved := 0
	if fact, ok := BuildAccountingFact(tenantID, day, records); ok {
		if err := s.Facts.UpsertAccounting(ctx, []AccountingFact{fact}, MergeAdd); err != nil {
			return Result{}, fmt.Errorf("rollup: save accounting fact of tenant %d: %w", tenantID, err)
		}
		saved = 1
	}
	return a.result(KindAccounting, tenantID, day, saved, records), nil
}

func (a *Aggregator) result(kind Kind, tenantID int64, day time.Time, saved int, touched []ledger.Record) Result {
	res := Result{Kind: kind, SavedKeys: saved, LedgerIDs: shared.NewIDSet(ledger.IDs(touched)...)}
	a.logger.Debug("rollup computed",
		slog.String("kind", string(kind)),
		slog.Int64("tenant_id", tenantID),
		slog.String("date", shared.Day(day).Format(time.DateOnly)),
		slog.Int("saved", saved),
		slog.Int("ledgers", res.LedgerIDs.Len()),
	)
	return res
}
