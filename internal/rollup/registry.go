package rollup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/odyssey-erp/rollup/internal/ledger"
)

// Scope is one transaction over the ledger and roll-up tables of a tenant.
type Scope struct {
	Ledgers ledger.Reader
	Facts   Partition
}

// Workspace opens tenant scopes. Writes and processed marks made through a
// scope are kept only when fn returns nil.
type Workspace interface {
	WithScope(ctx context.Context, tenantID int64, fn func(context.Context, Scope) error) error
}

// ComputeFunc computes one fact stream for a tenant day inside s.
type ComputeFunc func(ctx context.Context, s Scope, tenantID int64, day time.Time) (Result, error)

// Computation pairs a kind with its implementation.
type Computation struct {
	Kind    Kind
	Compute ComputeFunc
}

// Registry keeps computations in registration order. It is safe for concurrent
// use; computations registered later are picked up by the next run.
type Registry struct {
	mu           sync.RWMutex
	computations []Computation
}

// NewRegistry registers the computations of agg. The accounting stream is left
// out when includeAccounting is false.
func NewRegistry(agg *Aggregator, includeAccounting bool) *Registry {
	reg := &Registry{}
	for _, c := range agg.Computations() {
		if c.Kind == KindAccounting && !includeAccounting {
			continue
		}
		reg.computations = append(reg.computations, c)
	}
	return reg
}

// Register appends a computation. Kinds must be unique.
func (r *Registry) Register(kind Kind, fn ComputeFunc) error {
	if fn == nil {
		return fmt.Errorf("rollup: register %s: nil compute func", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.computations {
		if c.Kind == kind {
			return fmt.Errorf("%w: %s", ErrDuplicateKind, kind)
		}
	}
	r.computations = append(r.computations, Computation{Kind: kind, Compute: fn})
	return nil
}

// Computations returns a copy of the registered computations.
func (r *Registry) Computations() []Computation {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Computation, len(r.computations))
	copy(out, r.computations)
	return out
}
