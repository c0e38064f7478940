// Package memstore holds in-memory ledger, roll-up and hierarchy stores used by
// tests and by the binaries when no database is configured.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/odyssey-erp/rollup/internal/ledger"
	"github.com/odyssey-erp/rollup/internal/shared"
)

// Ledgers is an in-memory ledger.Source.
type Ledgers struct {
	mu          sync.RWMutex
	records     map[int64]map[int64]ledger.Record
	items       map[int64][]ledger.Item
	unavailable map[int64]bool
}

// NewLedgers constructs an empty Ledgers store.
func NewLedgers() *Ledgers {
	return &Ledgers{
		records:     make(map[int64]map[int64]ledger.Record),
		items:       make(map[int64][]ledger.Item),
		unavailable: make(map[int64]bool),
	}
}

// Add stores rec and its items in the partition of rec.TenantID.
func (l *Ledgers) Add(rec ledger.Record, items ...ledger.Item) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.records[rec.TenantID] == nil {
		l.records[rec.TenantID] = make(map[int64]ledger.Record)
	}
	l.records[rec.TenantID][rec.ID] = rec
	for _, item := range items {
		item.LedgerID = rec.ID
		item.LotIDs = shared.NewIDSet(item.LotIDs...)
		l.items[rec.ID] = append(l.items[rec.ID], item)
	}
}

// SetUnavailable makes every read of tenantID fail with ledger.ErrSourceUnavailable.
func (l *Ledgers) SetUnavailable(tenantID int64, unavailable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unavailable[tenantID] = unavailable
}

// Record returns a stored ledger.
func (l *Ledgers) Record(tenantID, id int64) (ledger.Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[tenantID][id]
	return rec, ok
}

// WithTenant runs fn against the ledgers of tenantID.
func (l *Ledgers) WithTenant(ctx context.Context, tenantID int64, fn func(context.Context, ledger.Reader) error) error {
	if tenantID <= 0 {
		return fmt.Errorf("memstore: tenant %d: %w", tenantID, ledger.ErrSourceUnavailable)
	}
	return fn(ctx, &ledgerReader{store: l, tenantID: tenantID})
}

type ledgerReader struct {
	store    *Ledgers
	tenantID int64
	// pending holds marks made inside a Workspace scope until it commits.
	pending map[int64]struct{}
}

func (r *ledgerReader) processed(rec ledger.Record) bool {
	if rec.Processed {
		return true
	}
	_, ok := r.pending[rec.ID]
	return ok
}

// commit applies the processed marks of a finished scope.
func (l *Ledgers) commit(tenantID int64, ids map[int64]struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id := range ids {
		if rec, ok := l.records[tenantID][id]; ok {
			rec.Processed = true
			l.records[tenantID][id] = rec
		}
	}
}

func (r *ledgerReader) check() error {
	if r.store.unavailable[r.tenantID] {
		return fmt.Errorf("memstore: tenant %d ledgers missing: %w", r.tenantID, ledger.ErrSourceUnavailable)
	}
	return nil
}

func (r *ledgerReader) Ledgers(_ context.Context, q ledger.Query) ([]ledger.Record, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if err := r.check(); err != nil {
		return nil, err
	}
	day := shared.Day(q.Date)
	next := day.AddDate(0, 0, 1)
	var out []ledger.Record
	for _, rec := range r.store.records[r.tenantID] {
		if rec.Deleted || !slices.Contains(q.Types, rec.Type) {
			continue
		}
		if q.UnprocessedOnly && r.processed(rec) {
			continue
		}
		created := rec.CreatedAt.UTC()
		if created.Before(day) || !created.Before(next) {
			continue
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func (r *ledgerReader) LedgersByID(_ context.Context, ids []int64) ([]ledger.Record, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if err := r.check(); err != nil {
		return nil, err
	}
	var out []ledger.Record
	for _, id := range ids {
		if rec, ok := r.store.records[r.tenantID][id]; ok && !rec.Deleted {
			out = append(out, rec)
		}
	}
	sortRecords(out)
	return out, nil
}

func (r *ledgerReader) Items(_ context.Context, ledgerIDs []int64) ([]ledger.Item, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if err := r.check(); err != nil {
		return nil, err
	}
	var out []ledger.Item
	for _, id := range shared.NewIDSet(ledgerIDs...) {
		if _, ok := r.store.records[r.tenantID][id]; !ok {
			continue
		}
		out = append(out, r.store.items[id]...)
	}
	return out, nil
}

func (r *ledgerReader) MarkProcessed(_ context.Context, ids []int64) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if err := r.check(); err != nil {
		return 0, err
	}
	var marked int64
	for _, id := range ids {
		rec, ok := r.store.records[r.tenantID][id]
		if !ok || r.processed(rec) {
			continue
		}
		if r.pending != nil {
			r.pending[id] = struct{}{}
		} else {
			rec.Processed = true
			r.store.records[r.tenantID][id] = rec
		}
		marked++
	}
	return marked, nil
}

func sortRecords(records []ledger.Record) {
	slices.SortFunc(records, func(a, b ledger.Record) int {
		return cmp.Compare(a.ID, b.ID)
	})
}
