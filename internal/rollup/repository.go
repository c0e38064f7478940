package rollup

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/rollup/internal/ledger"
	"github.com/odyssey-erp/rollup/internal/platform/db"
	"github.com/odyssey-erp/rollup/internal/shared"
)

// Repository stores roll-up facts in the tenant schemas of PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithPartition runs fn against the roll-up tables of tenantID inside one
// transaction.
func (r *Repository) WithPartition(ctx context.Context, tenantID int64, fn func(context.Context, Partition) error) error {
	if r == nil || r.pool == nil {
		return errors.New("rollup: repository not initialised")
	}
	if tenantID <= 0 {
		return ErrInvalidTenant
	}
	return db.WithTenant(ctx, r.pool, tenantID, func(tx pgx.Tx) error {
		return fn(ctx, &txPartition{tx: tx})
	})
}

// WithScope runs fn against the ledger and roll-up tables of tenantID inside one
// transaction, so facts and processed marks commit or roll back together.
func (r *Repository) WithScope(ctx context.Context, tenantID int64, fn func(context.Context, Scope) error) error {
	if r == nil || r.pool == nil {
		return ledger.ErrSourceUnavailable
	}
	if tenantID <= 0 {
		return ErrInvalidTenant
	}
	return db.WithTenant(ctx, r.pool, tenantID, func(tx pgx.Tx) error {
		return fn(ctx, Scope{Ledgers: ledger.NewReader(tx), Facts: &txPartition{tx: tx}})
	})
}

type txPartition struct {
	tx pgx.Tx
}

const (
	upsertProductAdd = `
INSERT INTO rollup_products (tenant_id, roll_up_year, roll_up_month, roll_up_day, product_id, roll_up_type, source, amount_after_tax, tax, quantity, lot_ids)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (tenant_id, roll_up_year, roll_up_month, roll_up_day, product_id, roll_up_type, source)
DO UPDATE SET amount_after_tax = rollup_products.amount_after_tax + EXCLUDED.amount_after_tax,
	tax = rollup_products.tax + EXCLUDED.tax,
	quantity = rollup_products.quantity + EXCLUDED.quantity,
	lot_ids = ARRAY(SELECT DISTINCT u FROM unnest(rollup_products.lot_ids || EXCLUDED.lot_ids) AS u ORDER BY u),
	updated_at = NOW()`
	upsertProductReplace = `
INSERT INTO rollup_products (tenant_id, roll_up_year, roll_up_month, roll_up_day, product_id, roll_up_type, source, amount_after_tax, tax, quantity, lot_ids)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (tenant_id, roll_up_year, roll_up_month, roll_up_day, product_id, roll_up_type, source)
DO UPDATE SET amount_after_tax = EXCLUDED.amount_after_tax,
	tax = EXCLUDED.tax,
	quantity = EXCLUDED.quantity,
	lot_ids = EXCLUDED.lot_ids,
	updated_at = NOW()`

	upsertInventoryAdd = `
INSERT INTO rollup_inventory (tenant_id, roll_up_year, roll_up_month, roll_up_day, product_id, inventory_qty, inventory_value)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (tenant_id, roll_up_year, roll_up_month, roll_up_day, product_id)
DO UPDATE SET inventory_qty = rollup_inventory.inventory_qty + EXCLUDED.inventory_qty,
	inventory_value = rollup_inventory.inventory_value + EXCLUDED.inventory_value,
	updated_at = NOW()`
	upsertInventoryReplace = `
INSERT INTO rollup_inventory (tenant_id, roll_up_year, roll_up_month, roll_up_day, product_id, inventory_qty, inventory_value)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (tenant_id, roll_up_year, roll_up_month, roll_up_day, product_id)
DO UPDATE SET inventory_qty = EXCLUDED.inventory_qty,
	inventory_value = EXCLUDED.inventory_value,
	updated_at = NOW()`

	upsertOrderAdd = `
INSERT INTO rollup_orders (tenant_id, roll_up_year, roll_up_month, roll_up_day, source, order_count, order_value, ledger_ids)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (tenant_id, roll_up_year, roll_up_month, roll_up_day, source)
DO UPDATE SET order_count = rollup_orders.order_count + EXCLUDED.order_count,
	order_value = rollup_orders.order_value + EXCLUDED.order_value,
	ledger_ids = ARRAY(SELECT DISTINCT u FROM unnest(rollup_orders.ledger_ids || EXCLUDED.ledger_ids) AS u ORDER BY u),
	updated_at = NOW()`
	upsertOrderReplace = `
INSERT INTO rollup_orders (tenant_id, roll_up_year, roll_up_month, roll_up_day, source, order_count, order_value, ledger_ids)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (tenant_id, roll_up_year, roll_up_month, roll_up_day, source)
DO UPDATE SET order_count = EXCLUDED.order_count,
	order_value = EXCLUDED.order_value,
	ledger_ids = EXCLUDED.ledger_ids,
	updated_at = NOW()`

	upsertAccountingAdd = `
INSERT INTO rollup_accounting (tenant_id, roll_up_year, roll_up_month, roll_up_day, total_income, total_expense)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (tenant_id, roll_up_year, roll_up_month, roll_up_day)
DO UPDATE SET total_income = rollup_accounting.total_income + EXCLUDED.total_income,
	total_expense = rollup_accounting.total_expense + EXCLUDED.total_expense,
	updated_at = NOW()`
	upsertAccountingReplace = `
INSERT INTO rollup_accounting (tenant_id, roll_up_year, roll_up_month, roll_up_day, total_income, total_expense)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (tenant_id, roll_up_year, roll_up_month, roll_up_day)
DO UPDATE SET total_income = EXCLUDED.total_income,
	total_expense = EXCLUDED.total_expense,
	updated_at = NOW()`
)

func pick(strategy MergeStrategy, add, replace string) string {
	if strategy == MergeReplace {
		return replace
	}
	return add
}

func (p *txPartition) UpsertProducts(ctx context.Context, facts []ProductFact, strategy MergeStrategy) error {
	query := pick(strategy, upsertProductAdd, upsertProductReplace)
	batch := &pgx.Batch{}
	for _, f := range facts {
		batch.Queue(query, f.TenantID, f.Period.Year, int(f.Period.Month), f.Period.Day,
			f.ProductID, int16(f.Type), f.Source, f.AmountAfterTax, f.Tax, f.Quantity, f.LotIDs.Slice())
	}
	return p.send(ctx, batch)
}

func (p *txPartition) UpsertInventory(ctx context.Context, facts []InventoryFact, strategy MergeStrategy) error {
	query := pick(strategy, upsertInventoryAdd, upsertInventoryReplace)
	batch := &pgx.Batch{}
	for _, f := range facts {
		batch.Queue(query, f.TenantID, f.Period.Year, int(f.Period.Month), f.Period.Day,
			f.ProductID, f.Quantity, f.Value)
	}
	return p.send(ctx, batch)
}

func (p *txPartition) UpsertOrders(ctx context.Context, facts []OrderFact, strategy MergeStrategy) error {
	query := pick(strategy, upsertOrderAdd, upsertOrderReplace)
	batch := &pgx.Batch{}
	for _, f := range facts {
		batch.Queue(query, f.TenantID, f.Period.Year, int(f.Period.Month), f.Period.Day,
			f.Source, f.Count, f.Value, f.LedgerIDs.Slice())
	}
	return p.send(ctx, batch)
}

func (p *txPartition) UpsertAccounting(ctx context.Context, facts []AccountingFact, strategy MergeStrategy) error {
	query := pick(strategy, upsertAccountingAdd, upsertAccountingReplace)
	batch := &pgx.Batch{}
	for _, f := range facts {
		batch.Queue(query, f.TenantID, f.Period.Year, int(f.Period.Month), f.Period.Day,
			f.TotalIncome, f.TotalExpense)
	}
	return p.send(ctx, batch)
}

func (p *txPartition) send(ctx context.Context, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	results := p.tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	return results.Close()
}

func (p *txPartition) Products(ctx context.Context, period Period) ([]ProductFact, error) {
	rows, err := p.tx.Query(ctx, `
SELECT tenant_id, roll_up_year, roll_up_month, roll_up_day, product_id, roll_up_type, source, amount_after_tax, tax, quantity, lot_ids
FROM rollup_products
WHERE roll_up_year = $1 AND roll_up_month = $2 AND roll_up_day = $3
ORDER BY tenant_id, product_id, roll_up_type, source`, period.Year, int(period.Month), period.Day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var facts []ProductFact
	for rows.Next() {
		var (
			f     ProductFact
			month int
			typ   int16
			lots  []int64
		)
		if err := rows.Scan(&f.TenantID, &f.Period.Year, &month, &f.Period.Day, &f.ProductID, &typ, &f.Source,
			&f.AmountAfterTax, &f.Tax, &f.Quantity, &lots); err != nil {
			return nil, err
		}
		f.Period.Month = time.Month(month)
		f.Type = Type(typ)
		f.LotIDs = shared.NewIDSet(lots...)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

func (p *txPartition) Inventory(ctx context.Context, period Period) ([]InventoryFact, error) {
	rows, err := p.tx.Query(ctx, `
SELECT tenant_id, roll_up_year, roll_up_month, roll_up_day, product_id, inventory_qty, inventory_value
FROM rollup_inventory
WHERE roll_up_year = $1 AND roll_up_month = $2 AND roll_up_day = $3
ORDER BY tenant_id, product_id`, period.Year, int(period.Month), period.Day)
	if err != nil {
		return nil, err
	}
	return scanInventory(rows)
}

func (p *txPartition) LatestInventoryBefore(ctx context.Context, originTenant int64, period Period) ([]InventoryFact, error) {
	rows, err := p.tx.Query(ctx, `
WITH latest AS (
	SELECT roll_up_year, roll_up_month, roll_up_day
	FROM rollup_inventory
	WHERE tenant_id = $1
	  AND roll_up_day > 0
	  AND (roll_up_year, roll_up_month, roll_up_day) < ($2, $3, $4)
	ORDER BY roll_up_year DESC, roll_up_month DESC, roll_up_day DESC
	LIMIT 1
)
SELECT i.tenant_id, i.roll_up_year, i.roll_up_month, i.roll_up_day, i.product_id, i.inventory_qty, i.inventory_value
FROM rollup_inventory i
JOIN latest l USING (roll_up_year, roll_up_month, roll_up_day)
WHERE i.tenant_id = $1
ORDER BY i.product_id`, originTenant, period.Year, int(period.Month), period.Day)
	if err != nil {
		return nil, err
	}
	return scanInventory(rows)
}

func scanInventory(rows pgx.Rows) ([]InventoryFact, error) {
	defer rows.Close()
	var facts []InventoryFact
	for rows.Next() {
		var (
			f     InventoryFact
			month int
		)
		if err := rows.Scan(&f.TenantID, &f.Period.Year, &month, &f.Period.Day, &f.ProductID, &f.Quantity, &f.Value); err != nil {
			return nil, err
		}
		f.Period.Month = time.Month(month)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

func (p *txPartition) Orders(ctx context.Context, periods ...Period) ([]OrderFact, error) {
	var facts []OrderFact
	for _, period := range periods {
		rows, err := p.tx.Query(ctx, `
SELECT tenant_id, roll_up_year, roll_up_month, roll_up_day, source, order_count, order_value, ledger_ids
FROM rollup_orders
WHERE roll_up_year = $1 AND roll_up_month = $2 AND roll_up_day = $3
ORDER BY tenant_id, source`, period.Year, int(period.Month), period.Day)
		if err != nil {
			return nil, err
		}
		batch, err := scanOrders(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, batch...)
	}
	return facts, nil
}

func scanOrders(rows pgx.Rows) ([]OrderFact, error) {
	defer rows.Close()
	var facts []OrderFact
	for rows.Next() {
		var (
			f     OrderFact
			month int
			ids   []int64
		)
		if err := rows.Scan(&f.TenantID, &f.Period.Year, &month, &f.Period.Day, &f.Source, &f.Count, &f.Value, &ids); err != nil {
			return nil, err
		}
		f.Period.Month = time.Month(month)
		f.LedgerIDs = shared.NewIDSet(ids...)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

func (p *txPartition) Accounting(ctx context.Context, period Period) ([]AccountingFact, error) {
	rows, err := p.tx.Query(ctx, `
SELECT tenant_id, roll_up_year, roll_up_month, roll_up_day, total_income, total_expense
FROM rollup_accounting
WHERE roll_up_year = $1 AND roll_up_month = $2 AND roll_up_day = $3
ORDER BY tenant_id`, period.Year, int(period.Month), period.Day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var facts []AccountingFact
	for rows.Next() {
		var (
			f     AccountingFact
			month int
		)
		if err := rows.Scan(&f.TenantID, &f.Period.Year, &month, &f.Period.Day, &f.TotalIncome, &f.TotalExpense); err != nil {
			return nil, err
		}
		f.Period.Month = time.Month(month)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}
