// Package ledger reads the raw, append-only transaction records of a tenant.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rollup/internal/shared"
)

// Type enumerates ledger kinds stored by the shop.
type Type int16

const (
	TypeImport   Type = 1
	TypeExport   Type = 2
	TypeDamage   Type = 6
	TypeReceipt  Type = 7
	TypePayment  Type = 8
	TypePurchase Type = 9
	TypeSales    Type = 10
	TypeReturn   Type = 11
)

// String returns a readable name for logs.
func (t Type) String() string {
	switch t {
	case TypeImport:
		return "import"
	case TypeExport:
		return "export"
	case TypeDamage:
		return "damage"
	case TypeReceipt:
		return "receipt"
	case TypePayment:
		return "payment"
	case TypePurchase:
		return "purchase"
	case TypeSales:
		return "sales"
	case TypeReturn:
		return "return"
	default:
		return "unknown"
	}
}

// Record is the header of a ledger. ParentLedgerID links a warehouse movement to
// the commercial transaction that caused it.
type Record struct {
	ID             int64
	TenantID       int64
	Type           Type
	ParentLedgerID *int64
	Source         int64
	TotalAmount    decimal.Decimal
	CreatedAt      time.Time
	Processed      bool
	Deleted        bool
}

// Item is a product line of a ledger.
type Item struct {
	LedgerID  int64
	ProductID int64
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	TaxAmount decimal.Decimal
	LotIDs    shared.IDSet
}

// Query selects the ledgers created on one calendar day.
type Query struct {
	Date            time.Time
	Types           []Type
	UnprocessedOnly bool
}

// Reader exposes the ledger tables of a single tenant partition.
type Reader interface {
	Ledgers(ctx context.Context, q Query) ([]Record, error)
	LedgersByID(ctx context.Context, ids []int64) ([]Record, error)
	Items(ctx context.Context, ledgerIDs []int64) ([]Item, error)
	MarkProcessed(ctx context.Context, ids []int64) (int64, error)
}

// Source opens tenant-scoped readers. The scope is released when fn returns.
type Source interface {
	WithTenant(ctx context.Context, tenantID int64, fn func(context.Context, Reader) error) error
}

// ErrSourceUnavailable is returned when the ledger tables of a tenant are missing
// or cannot be reached. Callers retry later; nothing was written.
var ErrSourceUnavailable = errors.New("ledger: source unavailable")

// IDs returns the identifiers of records in input order.
func IDs(records []Record) []int64 {
	ids := make([]int64, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	return ids
}
