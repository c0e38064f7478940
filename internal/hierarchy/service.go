package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Service applies validated edits to the hierarchy.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// DefaultConfig is the record used for tenants that never saved one.
func DefaultConfig(tenantID int64) Config {
	return Config{TenantID: tenantID, ApprovalStatus: StatusNone, SyncInterval: IntervalDaily}
}

// Config returns the stored config of tenantID.
func (s *Service) Config(ctx context.Context, tenantID int64) (Config, error) {
	return s.repo.Config(ctx, tenantID)
}

// Candidates classifies every active shop as a parent candidate for tenantID.
func (s *Service) Candidates(ctx context.Context, tenantID int64) (Classification, error) {
	edges, err := s.repo.Edges(ctx)
	if err != nil {
		return Classification{}, fmt.Errorf("hierarchy: load edges: %w", err)
	}
	shops, err := s.repo.Shops(ctx)
	if err != nil {
		return Classification{}, fmt.Errorf("hierarchy: load shops: %w", err)
	}
	active := make(map[int64]struct{}, len(shops))
	ids := make([]int64, 0, len(shops))
	for _, shop := range shops {
		if shop.Deleted {
			continue
		}
		active[shop.ID] = struct{}{}
		ids = append(ids, shop.ID)
	}
	c := Classify(tenantID, edges, ids)
	c.Legal = onlyActive(c.Legal, active)
	c.DisabledDescendant = onlyActive(c.DisabledDescendant, active)
	c.DisabledRedundant = onlyActive(c.DisabledRedundant, active)
	return c, nil
}

func onlyActive(ids []int64, active map[int64]struct{}) []int64 {
	out := ids[:0]
	for _, id := range ids {
		if _, ok := active[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// RequestParent validates parentID against the current graph and stores a
// pending request. Re-requesting the current parent leaves the config unchanged.
func (s *Service) RequestParent(ctx context.Context, tenantID, parentID int64) (Config, error) {
	if tenantID == parentID {
		return Config{}, ErrSelfParent
	}
	if _, err := s.repo.Shop(ctx, parentID); err != nil {
		return Config{}, err
	}
	cfg, err := s.load(ctx, tenantID)
	if err != nil {
		return Config{}, err
	}
	if cfg.HasParent() && *cfg.ParentTenantID == parentID &&
		(cfg.ApprovalStatus == StatusPending || cfg.ApprovalStatus == StatusApproved) {
		return cfg, nil
	}
	edges, err := s.repo.Edges(ctx)
	if err != nil {
		return Config{}, fmt.Errorf("hierarchy: load edges: %w", err)
	}
	if err := ValidateParent(tenantID, parentID, edges); err != nil {
		s.logger.Warn("hierarchy parent refused",
			slog.Int64("tenant_id", tenantID),
			slog.Int64("parent_tenant_id", parentID),
			slog.Any("error", err),
		)
		return Config{}, err
	}
	status, err := NextStatus(cfg.ApprovalStatus, ActionRequest)
	if err != nil {
		return Config{}, err
	}
	cfg.ParentTenantID = &parentID
	cfg.ApprovalStatus = status
	return s.save(ctx, cfg, ActionRequest)
}

// Approve accepts a pending request.
func (s *Service) Approve(ctx context.Context, tenantID int64) (Config, error) {
	return s.apply(ctx, tenantID, ActionApprove)
}

// Reject declines a pending request and clears the parent.
func (s *Service) Reject(ctx context.Context, tenantID int64) (Config, error) {
	return s.apply(ctx, tenantID, ActionReject)
}

// Cancel withdraws a pending or approved link and clears the parent.
func (s *Service) Cancel(ctx context.Context, tenantID int64) (Config, error) {
	return s.apply(ctx, tenantID, ActionCancel)
}

func (s *Service) apply(ctx context.Context, tenantID int64, action Action) (Config, error) {
	cfg, err := s.repo.Config(ctx, tenantID)
	if err != nil {
		return Config{}, err
	}
	status, err := NextStatus(cfg.ApprovalStatus, action)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s from %s", err, action, cfg.ApprovalStatus)
	}
	cfg.ApprovalStatus = status
	if status == StatusNone {
		cfg.ParentTenantID = nil
	}
	return s.save(ctx, cfg, action)
}

// UpdateSync changes the sync settings, creating the config when missing.
func (s *Service) UpdateSync(ctx context.Context, tenantID int64, enabled bool, interval SyncInterval) (Config, error) {
	if !interval.Valid() {
		return Config{}, fmt.Errorf("%w: %q", ErrInvalidInterval, interval)
	}
	cfg, err := s.load(ctx, tenantID)
	if err != nil {
		return Config{}, err
	}
	cfg.SyncEnabled = enabled
	cfg.SyncInterval = interval
	return s.save(ctx, cfg, ActionSyncSettings)
}

func (s *Service) load(ctx context.Context, tenantID int64) (Config, error) {
	cfg, err := s.repo.Config(ctx, tenantID)
	if errors.Is(err, ErrConfigNotFound) {
		return DefaultConfig(tenantID), nil
	}
	return cfg, err
}

func (s *Service) save(ctx context.Context, cfg Config, action Action) (Config, error) {
	cfg.UpdatedAt = s.now().UTC()
	if err := s.repo.SaveConfig(ctx, cfg); err != nil {
		return Config{}, fmt.Errorf("hierarchy: save config %d: %w", cfg.TenantID, err)
	}
	s.logger.Info("hierarchy config saved",
		slog.Int64("tenant_id", cfg.TenantID),
		slog.String("action", string(action)),
		slog.String("status", string(cfg.ApprovalStatus)),
	)
	return cfg, nil
}
