// Package rollup computes daily roll-up facts from raw ledgers and persists them
// per tenant partition.
package rollup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rollup/internal/shared"
)

// Kind identifies one fact stream.
type Kind string

const (
	KindProduct    Kind = "product"
	KindInventory  Kind = "inventory"
	KindOrder      Kind = "order"
	KindAccounting Kind = "accounting"
)

// Kinds lists the built-in fact streams in execution order.
var Kinds = []Kind{KindProduct, KindInventory, KindOrder, KindAccounting}

// MergeStrategy selects how an upsert combines with an existing row of the same key.
type MergeStrategy int

const (
	// MergeAdd sums numeric fields and unions set fields.
	MergeAdd MergeStrategy = iota + 1
	// MergeReplace overwrites numeric and set fields wholesale.
	MergeReplace
)

func (m MergeStrategy) String() string {
	switch m {
	case MergeAdd:
		return "add"
	case MergeReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// Type classifies a product movement for revenue reporting.
type Type int16

const (
	TypeSales  Type = 1
	TypeReturn Type = 2
)

func (t Type) String() string {
	switch t {
	case TypeSales:
		return "sales"
	case TypeReturn:
		return "return"
	default:
		return "unknown"
	}
}

// Period addresses a roll-up row. Day is zero for month-total rows.
type Period struct {
	Year  int
	Month time.Month
	Day   int
}

// DayPeriod returns the daily period containing t.
func DayPeriod(t time.Time) Period {
	t = shared.Day(t)
	return Period{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// MonthPeriod returns the month-total period containing t.
func MonthPeriod(t time.Time) Period {
	t = shared.Day(t)
	return Period{Year: t.Year(), Month: t.Month()}
}

// IsMonthTotal reports whether p addresses a month-total row.
func (p Period) IsMonthTotal() bool {
	return p.Day == 0
}

// Date returns midnight UTC of the period. Month totals map to the first day.
func (p Period) Date() time.Time {
	day := p.Day
	if day == 0 {
		day = 1
	}
	return time.Date(p.Year, p.Month, day, 0, 0, 0, 0, time.UTC)
}

func (p Period) String() string {
	if p.IsMonthTotal() {
		return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
	}
	return p.Date().Format(time.DateOnly)
}

// ProductFact accumulates sales or returns of one product.
type ProductFact struct {
	TenantID       int64
	Period         Period
	ProductID      int64
	Type           Type
	Source         int64
	AmountAfterTax decimal.Decimal
	Tax            decimal.Decimal
	Quantity       decimal.Decimal
	LotIDs         shared.IDSet
}

// ProductKey is the unique key of a ProductFact.
type ProductKey struct {
	TenantID  int64
	Period    Period
	ProductID int64
	Type      Type
	Source    int64
}

// Key returns the unique key of the fact.
func (f ProductFact) Key() ProductKey {
	return ProductKey{TenantID: f.TenantID, Period: f.Period, ProductID: f.ProductID, Type: f.Type, Source: f.Source}
}

// Merge combines in into f using strategy.
func (f ProductFact) Merge(in ProductFact, strategy MergeStrategy) ProductFact {
	if strategy == MergeReplace {
		in.LotIDs = shared.NewIDSet(in.LotIDs...)
		return in
	}
	f.AmountAfterTax = f.AmountAfterTax.Add(in.AmountAfterTax)
	f.Tax = f.Tax.Add(in.Tax)
	f.Quantity = f.Quantity.Add(in.Quantity)
	f.LotIDs = f.LotIDs.Union(in.LotIDs)
	return f
}

// InventoryFact is the closing stock of a product at the end of a day.
type InventoryFact struct {
	TenantID  int64
	Period    Period
	ProductID int64
	Quantity  decimal.Decimal
	Value     decimal.Decimal
}

// InventoryKey is the unique key of an InventoryFact.
type InventoryKey struct {
	TenantID  int64
	Period    Period
	ProductID int64
}

// Key returns the unique key of the fact.
func (f InventoryFact) Key() InventoryKey {
	return InventoryKey{TenantID: f.TenantID, Period: f.Period, ProductID: f.ProductID}
}

// Merge combines in into f using strategy.
func (f InventoryFact) Merge(in InventoryFact, strategy MergeStrategy) InventoryFact {
	if strategy == MergeReplace {
		return in
	}
	f.Quantity = f.Quantity.Add(in.Quantity)
	f.Value = f.Value.Add(in.Value)
	return f
}

// OrderFact counts sales orders per source for a day or a whole month.
type OrderFact struct {
	TenantID  int64
	Period    Period
	Source    int64
	Count     int64
	Value     decimal.Decimal
	LedgerIDs shared.IDSet
}

// OrderKey is the unique key of an OrderFact.
type OrderKey struct {
	TenantID int64
	Period   Period
	Source   int64
}

// Key returns the unique key of the fact.
func (f OrderFact) Key() OrderKey {
	return OrderKey{TenantID: f.TenantID, Period: f.Period, Source: f.Source}
}

// Merge combines in into f using strategy.
func (f OrderFact) Merge(in OrderFact, strategy MergeStrategy) OrderFact {
	if strategy == MergeReplace {
		in.LedgerIDs = shared.NewIDSet(in.LedgerIDs...)
		return in
	}
	f.Count += in.Count
	f.Value = f.Value.Add(in.Value)
	f.LedgerIDs = f.LedgerIDs.Union(in.LedgerIDs)
	return f
}

// AccountingFact sums receipts and payments of a day.
type AccountingFact struct {
	TenantID     int64
	Period       Period
	TotalIncome  decimal.Decimal
	TotalExpense decimal.Decimal
}

// AccountingKey is the unique key of an AccountingFact.
type AccountingKey struct {
	TenantID int64
	Period   Period
}

// Key returns the unique key of the fact.
func (f AccountingFact) Key() AccountingKey {
	return AccountingKey{TenantID: f.TenantID, Period: f.Period}
}

// Merge combines in into f using strategy.
func (f AccountingFact) Merge(in AccountingFact, strategy MergeStrategy) AccountingFact {
	if strategy == MergeReplace {
		return in
	}
	f.TotalIncome = f.TotalIncome.Add(in.TotalIncome)
	f.TotalExpense = f.TotalExpense.Add(in.TotalExpense)
	return f
}

// Partition is the roll-up tables of one tenant. Rows keep the tenant they
// originate from, so a parent partition also holds rows of its children.
type Partition interface {
	UpsertProducts(ctx context.Context, facts []ProductFact, strategy MergeStrategy) error
	UpsertInventory(ctx context.Context, facts []InventoryFact, strategy MergeStrategy) error
	UpsertOrders(ctx context.Context, facts []OrderFact, strategy MergeStrategy) error
	UpsertAccounting(ctx context.Context, facts []AccountingFact, strategy MergeStrategy) error

	Products(ctx context.Context, period Period) ([]ProductFact, error)
	Inventory(ctx context.Context, period Period) ([]InventoryFact, error)
	// LatestInventoryBefore returns the most recent snapshot of originTenant dated
	// strictly before period.
	LatestInventoryBefore(ctx context.Context, originTenant int64, period Period) ([]InventoryFact, error)
	Orders(ctx context.Context, periods ...Period) ([]OrderFact, error)
	Accounting(ctx context.Context, period Period) ([]AccountingFact, error)
}

// Store opens tenant partitions. Writes made inside fn are committed only when fn
// returns nil.
type Store interface {
	WithPartition(ctx context.Context, tenantID int64, fn func(context.Context, Partition) error) error
}

// Result summarises one computation for a tenant day.
type Result struct {
	Kind      Kind         `json:"kind"`
	SavedKeys int          `json:"saved_count"`
	LedgerIDs shared.IDSet `json:"ledger_ids"`
}

var (
	// ErrInvalidTenant is returned for non-positive tenant identifiers.
	ErrInvalidTenant = errors.New("rollup: invalid tenant id")
	// ErrDuplicateKind is returned when a computation kind is registered twice.
	ErrDuplicateKind = errors.New("rollup: computation already registered")
)
