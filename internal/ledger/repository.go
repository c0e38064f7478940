package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/rollup/internal/platform/db"
	"github.com/odyssey-erp/rollup/internal/shared"
)

// Repository reads ledgers from the tenant schemas in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txReader struct {
	q db.Querier
}

// NewReader returns a Reader over q, whose search_path already points at a
// tenant partition.
func NewReader(q db.Querier) Reader {
	return &txReader{q: q}
}

// WithTenant runs fn against the ledger tables of tenantID.
func (r *Repository) WithTenant(ctx context.Context, tenantID int64, fn func(context.Context, Reader) error) error {
	if r == nil || r.pool == nil {
		return ErrSourceUnavailable
	}
	return db.WithTenant(ctx, r.pool, tenantID, func(tx pgx.Tx) error {
		return fn(ctx, NewReader(tx))
	})
}

const ledgerColumns = `id, tenant_id, type, parent_ledger_id, source, total_amount, created_at, is_croned, is_deleted`

func (r *txReader) Ledgers(ctx context.Context, q Query) ([]Record, error) {
	day := shared.Day(q.Date)
	types := make([]int16, len(q.Types))
	for i, t := range q.Types {
		types[i] = int16(t)
	}
	rows, err := r.q.Query(ctx, `SELECT `+ledgerColumns+`
FROM ledgers
WHERE created_at >= $1 AND created_at < $2
  AND type = ANY($3)
  AND is_deleted = FALSE
  AND ($4::boolean = FALSE OR is_croned = FALSE)
ORDER BY id`, day, day.AddDate(0, 0, 1), types, q.UnprocessedOnly)
	if err != nil {
		return nil, wrapSourceErr(err)
	}
	return scanRecords(rows)
}

func (r *txReader) LedgersByID(ctx context.Context, ids []int64) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.q.Query(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE id = ANY($1) AND is_deleted = FALSE ORDER BY id`, ids)
	if err != nil {
		return nil, wrapSourceErr(err)
	}
	return scanRecords(rows)
}

func (r *txReader) Items(ctx context.Context, ledgerIDs []int64) ([]Item, error) {
	if len(ledgerIDs) == 0 {
		return nil, nil
	}
	rows, err := r.q.Query(ctx, `SELECT ledger_id, product_id, quantity, unit_price, tax_amount, lot_ids
FROM ledger_items
WHERE ledger_id = ANY($1)
ORDER BY ledger_id, id`, ledgerIDs)
	if err != nil {
		return nil, wrapSourceErr(err)
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var item Item
		var lots []int64
		if err := rows.Scan(&item.LedgerID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.TaxAmount, &lots); err != nil {
			return nil, err
		}
		item.LotIDs = shared.NewIDSet(lots...)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapSourceErr(err)
	}
	return items, nil
}

func (r *txReader) MarkProcessed(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.q.Exec(ctx, `UPDATE ledgers SET is_croned = TRUE WHERE id = ANY($1) AND is_croned = FALSE`, ids)
	if err != nil {
		return 0, wrapSourceErr(err)
	}
	return tag.RowsAffected(), nil
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	var records []Record
	for rows.Next() {
		var rec Record
		var typ int16
		if err := rows.Scan(&rec.ID, &rec.TenantID, &typ, &rec.ParentLedgerID, &rec.Source, &rec.TotalAmount, &rec.CreatedAt, &rec.Processed, &rec.Deleted); err != nil {
			return nil, err
		}
		rec.Type = Type(typ)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapSourceErr(err)
	}
	return records, nil
}

func wrapSourceErr(err error) error {
	if db.IsUndefinedRelation(err) {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return err
}
