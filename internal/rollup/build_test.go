package rollup

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/rollup/internal/ledger"
	"github.com/odyssey-erp/rollup/internal/shared"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		movement ledger.Type
		parent   ledger.Type
		want     Type
		ok       bool
	}{
		{"export of sale", ledger.TypeExport, ledger.TypeSales, TypeSales, true},
		{"import of return", ledger.TypeImport, ledger.TypeReturn, TypeReturn, true},
		{"export of purchase", ledger.TypeExport, ledger.TypePurchase, 0, false},
		{"import of purchase", ledger.TypeImport, ledger.TypePurchase, 0, false},
		{"import of sale", ledger.TypeImport, ledger.TypeSales, 0, false},
		{"damage of sale", ledger.TypeDamage, ledger.TypeSales, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Classify(tc.movement, tc.parent)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestMergeStrategies(t *testing.T) {
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	base := ProductFact{
		TenantID: 1, Period: DayPeriod(day), ProductID: 9, Type: TypeSales,
		AmountAfterTax: decimal.NewFromInt(10), Tax: decimal.NewFromInt(1), Quantity: decimal.NewFromInt(1),
		LotIDs: shared.NewIDSet(1, 2),
	}
	in := base
	in.AmountAfterTax = decimal.NewFromInt(5)
	in.Tax = decimal.Zero
	in.Quantity = decimal.NewFromInt(2)
	in.LotIDs = shared.NewIDSet(3, 2)

	added := base.Merge(in, MergeAdd)
	require.Equal(t, "15", added.AmountAfterTax.String())
	require.Equal(t, "1", added.Tax.String())
	require.Equal(t, "3", added.Quantity.String())
	require.Equal(t, shared.IDSet{1, 2, 3}, added.LotIDs)

	replaced := base.Merge(in, MergeReplace)
	require.Equal(t, "5", replaced.AmountAfterTax.String())
	require.Equal(t, shared.IDSet{2, 3}, replaced.LotIDs)

	order := OrderFact{Count: 2, Value: decimal.NewFromInt(20), LedgerIDs: shared.NewIDSet(1)}
	merged := order.Merge(OrderFact{Count: 1, Value: decimal.NewFromInt(5), LedgerIDs: shared.NewIDSet(1, 4)}, MergeAdd)
	require.Equal(t, int64(3), merged.Count)
	require.Equal(t, shared.IDSet{1, 4}, merged.LedgerIDs)
}

func TestPeriod(t *testing.T) {
	day := time.Date(2024, 2, 29, 18, 30, 0, 0, time.UTC)
	require.Equal(t, "2024-02-29", DayPeriod(day).String())
	require.Equal(t, "2024-02", MonthPeriod(day).String())
	require.True(t, MonthPeriod(day).IsMonthTotal())
	require.False(t, DayPeriod(day).IsMonthTotal())
	require.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), MonthPeriod(day).Date())
}

func TestBuildOrderFactsIgnoresOtherTypes(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	facts := BuildOrderFacts(1, day, []ledger.Record{
		{ID: 1, Type: ledger.TypeSales, Source: 2, TotalAmount: decimal.NewFromInt(10)},
		{ID: 2, Type: ledger.TypeReceipt, Source: 2, TotalAmount: decimal.NewFromInt(10)},
	})
	require.Len(t, facts, 2)
	require.Equal(t, 1, facts[1].Period.Day)
	require.True(t, facts[0].Period.IsMonthTotal())
	require.Equal(t, int64(1), facts[0].Count)
}

func TestBuildInventoryFactsStartsFromZero(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	movements := []ledger.Record{{ID: 1, Type: ledger.TypeExport}}
	items := []ledger.Item{{LedgerID: 1, ProductID: 3, Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(4)}}
	facts := BuildInventoryFacts(1, day, nil, movements, items)
	require.Len(t, facts, 1)
	require.Equal(t, "-2", facts[0].Quantity.String())
	require.Equal(t, "-8", facts[0].Value.String())
}
