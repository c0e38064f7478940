package hierarchy

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository stores hierarchy configs in the shared schema.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository constructs PostgresRepository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Config(ctx context.Context, tenantID int64) (Config, error) {
	var (
		cfg      Config
		status   string
		interval string
	)
	err := r.pool.QueryRow(ctx, `SELECT tenant_id, parent_tenant_id, approval_status, sync_enabled, sync_interval, updated_at
FROM public.shop_hierarchy WHERE tenant_id = $1`, tenantID).
		Scan(&cfg.TenantID, &cfg.ParentTenantID, &status, &cfg.SyncEnabled, &interval, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{}, ErrConfigNotFound
		}
		return Config{}, err
	}
	cfg.ApprovalStatus = ApprovalStatus(status)
	cfg.SyncInterval = SyncInterval(interval)
	return cfg, nil
}

func (r *PostgresRepository) SaveConfig(ctx context.Context, cfg Config) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO public.shop_hierarchy (tenant_id, parent_tenant_id, approval_status, sync_enabled, sync_interval, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (tenant_id) DO UPDATE SET
	parent_tenant_id = EXCLUDED.parent_tenant_id,
	approval_status = EXCLUDED.approval_status,
	sync_enabled = EXCLUDED.sync_enabled,
	sync_interval = EXCLUDED.sync_interval,
	updated_at = EXCLUDED.updated_at`,
		cfg.TenantID, cfg.ParentTenantID, string(cfg.ApprovalStatus), cfg.SyncEnabled, string(cfg.SyncInterval), cfg.UpdatedAt)
	return err
}

func (r *PostgresRepository) Edges(ctx context.Context) ([]Edge, error) {
	rows, err := r.pool.Query(ctx, `SELECT tenant_id, parent_tenant_id FROM public.shop_hierarchy
WHERE parent_tenant_id IS NOT NULL AND approval_status IN ('pending', 'approved')
ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.Child, &e.Parent); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (r *PostgresRepository) Shops(ctx context.Context) ([]Shop, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, deleted_at IS NOT NULL FROM public.shops ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var shops []Shop
	for rows.Next() {
		var s Shop
		if err := rows.Scan(&s.ID, &s.Name, &s.Deleted); err != nil {
			return nil, err
		}
		shops = append(shops, s)
	}
	return shops, rows.Err()
}

func (r *PostgresRepository) Shop(ctx context.Context, id int64) (Shop, error) {
	var s Shop
	err := r.pool.QueryRow(ctx, `SELECT id, name, deleted_at IS NOT NULL FROM public.shops WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.Deleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Shop{}, ErrShopNotFound
		}
		return Shop{}, err
	}
	if s.Deleted {
		return Shop{}, ErrShopNotFound
	}
	return s, nil
}

func (r *PostgresRepository) TenantsByInterval(ctx context.Context, interval SyncInterval) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT h.tenant_id FROM public.shop_hierarchy h
JOIN public.shops s ON s.id = h.tenant_id AND s.deleted_at IS NULL
WHERE h.sync_enabled AND h.approval_status = 'approved' AND h.sync_interval = $1
ORDER BY h.tenant_id`, string(interval))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
