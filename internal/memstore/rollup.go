package memstore

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/odyssey-erp/rollup/internal/rollup"
)

// Rollups is an in-memory rollup.Store. Writes inside WithPartition are applied
// to a copy that replaces the partition only when fn succeeds.
type Rollups struct {
	mu         sync.Mutex
	partitions map[int64]*partition
	failWrites map[int64]error
	tenants    map[int64]*sync.Mutex
}

// NewRollups constructs an empty Rollups store.
func NewRollups() *Rollups {
	return &Rollups{
		partitions: make(map[int64]*partition),
		failWrites: make(map[int64]error),
		tenants:    make(map[int64]*sync.Mutex),
	}
}

// lockTenant serialises scopes over one partition.
func (s *Rollups) lockTenant(tenantID int64) func() {
	s.mu.Lock()
	m, ok := s.tenants[tenantID]
	if !ok {
		m = &sync.Mutex{}
		s.tenants[tenantID] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// FailWrites makes every upsert into tenantID return err. A nil err clears it.
func (s *Rollups) FailWrites(tenantID int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failWrites, tenantID)
		return
	}
	s.failWrites[tenantID] = err
}

// WithPartition runs fn against a copy of the partition of tenantID.
func (s *Rollups) WithPartition(ctx context.Context, tenantID int64, fn func(context.Context, rollup.Partition) error) error {
	if tenantID <= 0 {
		return rollup.ErrInvalidTenant
	}
	defer s.lockTenant(tenantID)()
	work := s.checkout(tenantID)
	if err := fn(ctx, work); err != nil {
		return err
	}
	s.commit(tenantID, work)
	return nil
}

func (s *Rollups) checkout(tenantID int64) *partition {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.partitions[tenantID].clone()
	work.failWrites = s.failWrites[tenantID]
	return work
}

func (s *Rollups) commit(tenantID int64, work *partition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	work.failWrites = nil
	s.partitions[tenantID] = work
}

type partition struct {
	products   map[rollup.ProductKey]rollup.ProductFact
	inventory  map[rollup.InventoryKey]rollup.InventoryFact
	orders     map[rollup.OrderKey]rollup.OrderFact
	accounting map[rollup.AccountingKey]rollup.AccountingFact
	failWrites error
}

func (p *partition) clone() *partition {
	if p == nil {
		return &partition{
			products:   make(map[rollup.ProductKey]rollup.ProductFact),
			inventory:  make(map[rollup.InventoryKey]rollup.InventoryFact),
			orders:     make(map[rollup.OrderKey]rollup.OrderFact),
			accounting: make(map[rollup.AccountingKey]rollup.AccountingFact),
		}
	}
	return &partition{
		products:   maps.Clone(p.products),
		inventory:  maps.Clone(p.inventory),
		orders:     maps.Clone(p.orders),
		accounting: maps.Clone(p.accounting),
	}
}

func (p *partition) writable() error {
	return p.failWrites
}

func (p *partition) UpsertProducts(_ context.Context, facts []rollup.ProductFact, strategy rollup.MergeStrategy) error {
	if err := p.writable(); err != nil {
		return err
	}
	for _, f := range facts {
		key := f.Key()
		existing, ok := p.products[key]
		if !ok {
			p.products[key] = rollup.ProductFact{}.Merge(f, rollup.MergeReplace)
			continue
		}
		p.products[key] = existing.Merge(f, strategy)
	}
	return nil
}

func (p *partition) UpsertInventory(_ context.Context, facts []rollup.InventoryFact, strategy rollup.MergeStrategy) error {
	if err := p.writable(); err != nil {
		return err
	}
	for _, f := range facts {
		key := f.Key()
		existing, ok := p.inventory[key]
		if !ok {
			p.inventory[key] = f
			continue
		}
		p.inventory[key] = existing.Merge(f, strategy)
	}
	return nil
}

func (p *partition) UpsertOrders(_ context.Context, facts []rollup.OrderFact, strategy rollup.MergeStrategy) error {
	if err := p.writable(); err != nil {
		return err
	}
	for _, f := range facts {
		key := f.Key()
		existing, ok := p.orders[key]
		if !ok {
			p.orders[key] = rollup.OrderFact{}.Merge(f, rollup.MergeReplace)
			continue
		}
		p.orders[key] = existing.Merge(f, strategy)
	}
	return nil
}

func (p *partition) UpsertAccounting(_ context.Context, facts []rollup.AccountingFact, strategy rollup.MergeStrategy) error {
	if err := p.writable(); err != nil {
		return err
	}
	for _, f := range facts {
		key := f.Key()
		existing, ok := p.accounting[key]
		if !ok {
			p.accounting[key] = f
			continue
		}
		p.accounting[key] = existing.Merge(f, strategy)
	}
	return nil
}

func (p *partition) Products(_ context.Context, period rollup.Period) ([]rollup.ProductFact, error) {
	var out []rollup.ProductFact
	for _, f := range p.products {
		if f.Period == period {
			out = append(out, f)
		}
	}
	slices.SortFunc(out, func(a, b rollup.ProductFact) int {
		return cmp.Or(
			cmp.Compare(a.TenantID, b.TenantID),
			cmp.Compare(a.ProductID, b.ProductID),
			cmp.Compare(a.Type, b.Type),
			cmp.Compare(a.Source, b.Source),
		)
	})
	return out, nil
}

func (p *partition) Inventory(_ context.Context, period rollup.Period) ([]rollup.InventoryFact, error) {
	var out []rollup.InventoryFact
	for _, f := range p.inventory {
		if f.Period == period {
			out = append(out, f)
		}
	}
	sortInventory(out)
	return out, nil
}

func (p *partition) LatestInventoryBefore(_ context.Context, originTenant int64, period rollup.Period) ([]rollup.InventoryFact, error) {
	var (
		latest rollup.Period
		found  bool
	)
	before := period.Date()
	for _, f := range p.inventory {
		if f.TenantID != originTenant || f.Period.IsMonthTotal() || !f.Period.Date().Before(before) {
			continue
		}
		if !found || f.Period.Date().After(latest.Date()) {
			latest, found = f.Period, true
		}
	}
	if !found {
		return nil, nil
	}
	var out []rollup.InventoryFact
	for _, f := range p.inventory {
		if f.TenantID == originTenant && f.Period == latest {
			out = append(out, f)
		}
	}
	sortInventory(out)
	return out, nil
}

func sortInventory(facts []rollup.InventoryFact) {
	slices.SortFunc(facts, func(a, b rollup.InventoryFact) int {
		return cmp.Or(cmp.Compare(a.TenantID, b.TenantID), cmp.Compare(a.ProductID, b.ProductID))
	})
}

func (p *partition) Orders(_ context.Context, periods ...rollup.Period) ([]rollup.OrderFact, error) {
	var out []rollup.OrderFact
	for _, period := range periods {
		var batch []rollup.OrderFact
		for _, f := range p.orders {
			if f.Period == period {
				batch = append(batch, f)
			}
		}
		slices.SortFunc(batch, func(a, b rollup.OrderFact) int {
			return cmp.Or(cmp.Compare(a.TenantID, b.TenantID), cmp.Compare(a.Source, b.Source))
		})
		out = append(out, batch...)
	}
	return out, nil
}

func (p *partition) Accounting(_ context.Context, period rollup.Period) ([]rollup.AccountingFact, error) {
	var out []rollup.AccountingFact
	for _, f := range p.accounting {
		if f.Period == period {
			out = append(out, f)
		}
	}
	slices.SortFunc(out, func(a, b rollup.AccountingFact) int {
		return cmp.Compare(a.TenantID, b.TenantID)
	})
	return out, nil
}
