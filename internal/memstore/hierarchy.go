package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/odyssey-erp/rollup/internal/hierarchy"
)

// Hierarchy is an in-memory hierarchy.Repository.
type Hierarchy struct {
	mu      sync.RWMutex
	configs map[int64]hierarchy.Config
	shops   map[int64]hierarchy.Shop
}

// NewHierarchy constructs Hierarchy with the given active shops.
func NewHierarchy(shopIDs ...int64) *Hierarchy {
	h := &Hierarchy{
		configs: make(map[int64]hierarchy.Config),
		shops:   make(map[int64]hierarchy.Shop),
	}
	for _, id := range shopIDs {
		h.shops[id] = hierarchy.Shop{ID: id}
	}
	return h
}

// PutShop adds or replaces a shop.
func (h *Hierarchy) PutShop(shop hierarchy.Shop) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shops[shop.ID] = shop
}

// DeleteShop soft deletes a shop.
func (h *Hierarchy) DeleteShop(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	shop := h.shops[id]
	shop.ID = id
	shop.Deleted = true
	h.shops[id] = shop
}

// Link stores an approved, sync enabled config from child to parent.
func (h *Hierarchy) Link(child, parent int64, interval hierarchy.SyncInterval) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := parent
	h.configs[child] = hierarchy.Config{
		TenantID:       child,
		ParentTenantID: &p,
		ApprovalStatus: hierarchy.StatusApproved,
		SyncEnabled:    true,
		SyncInterval:   interval,
	}
}

func (h *Hierarchy) Config(_ context.Context, tenantID int64) (hierarchy.Config, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cfg, ok := h.configs[tenantID]
	if !ok {
		return hierarchy.Config{}, hierarchy.ErrConfigNotFound
	}
	return cloneConfig(cfg), nil
}

func (h *Hierarchy) SaveConfig(_ context.Context, cfg hierarchy.Config) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.configs[cfg.TenantID] = cloneConfig(cfg)
	return nil
}

func (h *Hierarchy) Edges(_ context.Context) ([]hierarchy.Edge, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var edges []hierarchy.Edge
	for _, cfg := range h.configs {
		if !cfg.HasParent() {
			continue
		}
		if cfg.ApprovalStatus != hierarchy.StatusPending && cfg.ApprovalStatus != hierarchy.StatusApproved {
			continue
		}
		edges = append(edges, hierarchy.Edge{Child: cfg.TenantID, Parent: *cfg.ParentTenantID})
	}
	slices.SortFunc(edges, func(a, b hierarchy.Edge) int {
		return cmp.Compare(a.Child, b.Child)
	})
	return edges, nil
}

func (h *Hierarchy) Shops(_ context.Context) ([]hierarchy.Shop, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	shops := make([]hierarchy.Shop, 0, len(h.shops))
	for _, shop := range h.shops {
		shops = append(shops, shop)
	}
	slices.SortFunc(shops, func(a, b hierarchy.Shop) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return shops, nil
}

func (h *Hierarchy) Shop(_ context.Context, id int64) (hierarchy.Shop, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	shop, ok := h.shops[id]
	if !ok || shop.Deleted {
		return hierarchy.Shop{}, hierarchy.ErrShopNotFound
	}
	return shop, nil
}

func (h *Hierarchy) TenantsByInterval(_ context.Context, interval hierarchy.SyncInterval) ([]int64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var ids []int64
	for _, cfg := range h.configs {
		if !cfg.SyncEnabled || !cfg.Approved() || cfg.SyncInterval != interval {
			continue
		}
		if shop, ok := h.shops[cfg.TenantID]; !ok || shop.Deleted {
			continue
		}
		ids = append(ids, cfg.TenantID)
	}
	slices.Sort(ids)
	return ids, nil
}

func cloneConfig(cfg hierarchy.Config) hierarchy.Config {
	if cfg.ParentTenantID != nil {
		p := *cfg.ParentTenantID
		cfg.ParentTenantID = &p
	}
	return cfg
}
