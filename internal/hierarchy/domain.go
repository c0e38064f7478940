// Package hierarchy manages the single-parent shop hierarchy used to propagate
// roll-up facts upward.
package hierarchy

import (
	"context"
	"errors"
	"time"
)

// ApprovalStatus is the approval state of a parent request.
type ApprovalStatus string

const (
	StatusNone     ApprovalStatus = "none"
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusRejected ApprovalStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case StatusNone, StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// SyncInterval selects how often a shop pushes its facts to the parent.
type SyncInterval string

const (
	IntervalHourly     SyncInterval = "hourly"
	IntervalTwiceDaily SyncInterval = "twicedaily"
	IntervalDaily      SyncInterval = "daily"
)

// Intervals lists the supported intervals.
var Intervals = []SyncInterval{IntervalHourly, IntervalTwiceDaily, IntervalDaily}

// Valid reports whether i is a supported interval.
func (i SyncInterval) Valid() bool {
	switch i {
	case IntervalHourly, IntervalTwiceDaily, IntervalDaily:
		return true
	}
	return false
}

// Config is the hierarchy record of one tenant.
type Config struct {
	TenantID       int64          `json:"tenant_id"`
	ParentTenantID *int64         `json:"parent_tenant_id"`
	ApprovalStatus ApprovalStatus `json:"approval_status"`
	SyncEnabled    bool           `json:"sync_enabled"`
	SyncInterval   SyncInterval   `json:"sync_interval"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// HasParent reports whether a parent is configured.
func (c Config) HasParent() bool {
	return c.ParentTenantID != nil && *c.ParentTenantID > 0
}

// Approved reports whether facts may be pushed to the parent.
func (c Config) Approved() bool {
	return c.HasParent() && c.ApprovalStatus == StatusApproved
}

// Edge links a child tenant to its parent.
type Edge struct {
	Child  int64 `json:"child"`
	Parent int64 `json:"parent"`
}

// Shop is a tenant known to the platform.
type Shop struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Deleted bool   `json:"deleted"`
}

// Repository persists hierarchy configs and lists shops.
type Repository interface {
	Config(ctx context.Context, tenantID int64) (Config, error)
	SaveConfig(ctx context.Context, cfg Config) error
	// Edges returns the parent links of every pending or approved config.
	Edges(ctx context.Context) ([]Edge, error)
	Shops(ctx context.Context) ([]Shop, error)
	Shop(ctx context.Context, id int64) (Shop, error)
	// TenantsByInterval returns approved, sync enabled tenants using interval.
	TenantsByInterval(ctx context.Context, interval SyncInterval) ([]int64, error)
}

var (
	// ErrConfigNotFound is returned when a tenant has no hierarchy record.
	ErrConfigNotFound = errors.New("hierarchy: config not found")
	// ErrShopNotFound is returned when a shop is unknown or soft deleted.
	ErrShopNotFound = errors.New("hierarchy: shop not found")
	// ErrSelfParent is returned when a tenant selects itself as parent.
	ErrSelfParent = errors.New("hierarchy: tenant cannot be its own parent")
	// ErrCycleDetected is returned when the candidate parent is a descendant.
	ErrCycleDetected = errors.New("hierarchy: parent would create a cycle")
	// ErrRedundantParent is returned when the candidate is already reached through the current parent.
	ErrRedundantParent = errors.New("hierarchy: parent already reachable through current parent")
	// ErrInvalidTransition is returned for approval changes not allowed from the current status.
	ErrInvalidTransition = errors.New("hierarchy: approval transition invalid")
	// ErrInvalidInterval is returned for unknown sync intervals.
	ErrInvalidInterval = errors.New("hierarchy: invalid sync interval")
)
