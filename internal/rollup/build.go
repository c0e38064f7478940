package rollup

import (
	"cmp"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rollup/internal/ledger"
	"github.com/odyssey-erp/rollup/internal/shared"
)

// Classify decides the roll-up type of a warehouse movement from the type of the
// commercial ledger that caused it. Only restocks from customer returns and
// shipments of sales count; every other pairing is excluded.
func Classify(movement, parent ledger.Type) (Type, bool) {
	switch {
	case movement == ledger.TypeImport && parent == ledger.TypeReturn:
		return TypeReturn, true
	case movement == ledger.TypeExport && parent == ledger.TypeSales:
		return TypeSales, true
	default:
		return 0, false
	}
}

// BuildProductFacts groups the items of import/export ledgers by product, roll-up
// type and source. parents must contain the parent ledgers referenced by movements.
func BuildProductFacts(tenantID int64, day time.Time, movements, parents []ledger.Record, items []ledger.Item) []ProductFact {
	parentByID := make(map[int64]ledger.Record, len(parents))
	for _, p := range parents {
		parentByID[p.ID] = p
	}
	type classified struct {
		typ    Type
		source int64
	}
	byLedger := make(map[int64]classified, len(movements))
	for _, mv := range movements {
		if mv.ParentLedgerID == nil {
			continue
		}
		parent, ok := parentByID[*mv.ParentLedgerID]
		if !ok {
			continue
		}
		typ, ok := Classify(mv.Type, parent.Type)
		if !ok {
			continue
		}
		byLedger[mv.ID] = classified{typ: typ, source: parent.Source}
	}

	period := DayPeriod(day)
	groups := make(map[ProductKey]ProductFact)
	for _, item := range items {
		c, ok := byLedger[item.LedgerID]
		if !ok {
			continue
		}
		contribution := ProductFact{
			TenantID:       tenantID,
			Period:         period,
			ProductID:      item.ProductID,
			Type:           c.typ,
			Source:         c.source,
			AmountAfterTax: item.UnitPrice.Mul(item.Quantity).Add(item.TaxAmount),
			Tax:            item.TaxAmount,
			Quantity:       item.Quantity,
			LotIDs:         shared.NewIDSet(item.LotIDs...),
		}
		key := contribution.Key()
		if existing, ok := groups[key]; ok {
			groups[key] = existing.Merge(contribution, MergeAdd)
			continue
		}
		groups[key] = contribution
	}

	facts := make([]ProductFact, 0, len(groups))
	for _, f := range groups {
		facts = append(facts, f)
	}
	slices.SortFunc(facts, func(a, b ProductFact) int {
		return cmp.Or(
			cmp.Compare(a.ProductID, b.ProductID),
			cmp.Compare(a.Type, b.Type),
			cmp.Compare(a.Source, b.Source),
		)
	})
	return facts
}

// BuildInventoryFacts applies the day's movements to the previous snapshot.
// Imports add, exports and damages subtract. Products of base without movement
// are carried forward unchanged.
func BuildInventoryFacts(tenantID int64, day time.Time, base []InventoryFact, movements []ledger.Record, items []ledger.Item) []InventoryFact {
	period := DayPeriod(day)
	balances := make(map[int64]InventoryFact, len(base))
	for _, b := range base {
		balances[b.ProductID] = InventoryFact{
			TenantID:  tenantID,
			Period:    period,
			ProductID: b.ProductID,
			Quantity:  b.Quantity,
			Value:     b.Value,
		}
	}

	typeByLedger := make(map[int64]ledger.Type, len(movements))
	for _, mv := range movements {
		typeByLedger[mv.ID] = mv.Type
	}
	for _, item := range items {
		typ, ok := typeByLedger[item.LedgerID]
		if !ok {
			continue
		}
		qty := item.Quantity
		value := item.UnitPrice.Mul(item.Quantity)
		switch typ {
		case ledger.TypeImport:
		case ledger.TypeExport, ledger.TypeDamage:
			qty, value = qty.Neg(), value.Neg()
		default:
			continue
		}
		bal, ok := balances[item.ProductID]
		if !ok {
			bal = InventoryFact{TenantID: tenantID, Period: period, ProductID: item.ProductID, Quantity: decimal.Zero, Value: decimal.Zero}
		}
		bal.Quantity = bal.Quantity.Add(qty)
		bal.Value = bal.Value.Add(value)
		balances[item.ProductID] = bal
	}

	facts := make([]InventoryFact, 0, len(balances))
	for _, f := range balances {
		facts = append(facts, f)
	}
	slices.SortFunc(facts, func(a, b InventoryFact) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return facts
}

// BuildOrderFacts counts sales ledgers per source. Each daily fact is paired with
// a month-total fact carrying the same contribution.
func BuildOrderFacts(tenantID int64, day time.Time, sales []ledger.Record) []OrderFact {
	daily := make(map[int64]OrderFact)
	for _, rec := range sales {
		if rec.Type != ledger.TypeSales {
			continue
		}
		f, ok := daily[rec.Source]
		if !ok {
			f = OrderFact{TenantID: tenantID, Period: DayPeriod(day), Source: rec.Source, Value: decimal.Zero}
		}
		f.Count++
		f.Value = f.Value.Add(rec.TotalAmount)
		f.LedgerIDs = f.LedgerIDs.Add(rec.ID)
		daily[rec.Source] = f
	}

	facts := make([]OrderFact, 0, 2*len(daily))
	for _, f := range daily {
		facts = append(facts, f)
		month := f
		month.Period = MonthPeriod(day)
		facts = append(facts, month)
	}
	slices.SortFunc(facts, func(a, b OrderFact) int {
		return cmp.Or(
			cmp.Compare(a.Period.Day, b.Period.Day),
			cmp.Compare(a.Source, b.Source),
		)
	})
	return facts
}

// BuildAccountingFact sums receipts as income and payments as expense. It returns
// false when the day has neither.
func BuildAccountingFact(tenantID int64, day time.Time, records []ledger.Record) (AccountingFact, bool) {
	fact := AccountingFact{TenantID: tenantID, Period: DayPeriod(day), TotalIncome: decimal.Zero, TotalExpense: decimal.Zero}
	seen := false
	for _, rec := range records {
		switch rec.Type {
		case ledger.TypeReceipt:
			fact.TotalIncome = fact.TotalIncome.Add(rec.TotalAmount)
		case ledger.TypePayment:
			fact.TotalExpense = fact.TotalExpense.Add(rec.TotalAmount)
		default:
			continue
		}
		seen = true
	}
	return fact, seen
}
