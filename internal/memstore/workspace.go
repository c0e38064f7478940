package memstore

import (
	"context"

	"github.com/odyssey-erp/rollup/internal/rollup"
)

// Workspace is an in-memory rollup.Workspace over Ledgers and Rollups. Fact
// writes and processed marks of a scope are applied together once fn succeeds.
type Workspace struct {
	ledgers *Ledgers
	rollups *Rollups
}

// NewWorkspace constructs a Workspace over ledgers and rollups.
func NewWorkspace(ledgers *Ledgers, rollups *Rollups) *Workspace {
	return &Workspace{ledgers: ledgers, rollups: rollups}
}

// WithScope runs fn against tenantID. Nothing is kept when fn fails.
func (w *Workspace) WithScope(ctx context.Context, tenantID int64, fn func(context.Context, rollup.Scope) error) error {
	if tenantID <= 0 {
		return rollup.ErrInvalidTenant
	}
	defer w.rollups.lockTenant(tenantID)()
	reader := &ledgerReader{store: w.ledgers, tenantID: tenantID, pending: make(map[int64]struct{})}
	work := w.rollups.checkout(tenantID)
	if err := fn(ctx, rollup.Scope{Ledgers: reader, Facts: work}); err != nil {
		return err
	}
	w.ledgers.commit(tenantID, reader.pending)
	w.rollups.commit(tenantID, work)
	return nil
}
