package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sharedSchemaSQL = `
CREATE TABLE IF NOT EXISTS public.shops (
	id BIGINT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	deleted_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS public.shop_hierarchy (
	tenant_id BIGINT PRIMARY KEY,
	parent_tenant_id BIGINT,
	approval_status TEXT NOT NULL DEFAULT 'none',
	sync_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	sync_interval TEXT NOT NULL DEFAULT 'daily',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

const tenantSchemaSQL = `
CREATE TABLE IF NOT EXISTS ledgers (
	id BIGINT PRIMARY KEY,
	tenant_id BIGINT NOT NULL,
	type SMALLINT NOT NULL,
	parent_ledger_id BIGINT,
	source BIGINT NOT NULL DEFAULT 0,
	total_amount NUMERIC(20,4) NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	is_croned BOOLEAN NOT NULL DEFAULT FALSE,
	is_deleted BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS ledgers_created_type_idx ON ledgers (created_at, type);

CREATE TABLE IF NOT EXISTS ledger_items (
	id BIGSERIAL PRIMARY KEY,
	ledger_id BIGINT NOT NULL REFERENCES ledgers(id),
	product_id BIGINT NOT NULL,
	quantity NUMERIC(20,4) NOT NULL DEFAULT 0,
	unit_price NUMERIC(20,4) NOT NULL DEFAULT 0,
	tax_amount NUMERIC(20,4) NOT NULL DEFAULT 0,
	lot_ids BIGINT[] NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS ledger_items_ledger_idx ON ledger_items (ledger_id);

CREATE TABLE IF NOT EXISTS rollup_products (
	tenant_id BIGINT NOT NULL,
	roll_up_year SMALLINT NOT NULL,
	roll_up_month SMALLINT NOT NULL,
	roll_up_day SMALLINT NOT NULL,
	product_id BIGINT NOT NULL,
	roll_up_type SMALLINT NOT NULL,
	source BIGINT NOT NULL DEFAULT 0,
	amount_after_tax NUMERIC(20,4) NOT NULL DEFAULT 0,
	tax NUMERIC(20,4) NOT NULL DEFAULT 0,
	quantity NUMERIC(20,4) NOT NULL DEFAULT 0,
	lot_ids BIGINT[] NOT NULL DEFAULT '{}',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (tenant_id, roll_up_year, roll_up_month, roll_up_day, product_id, roll_up_type, source)
);

CREATE TABLE IF NOT EXISTS rollup_inventory (
	tenant_id BIGINT NOT NULL,
	roll_up_year SMALLINT NOT NULL,
	roll_up_month SMALLINT NOT NULL,
	roll_up_day SMALLINT NOT NULL,
	product_id BIGINT NOT NULL,
	inventory_qty NUMERIC(20,4) NOT NULL DEFAULT 0,
	inventory_value NUMERIC(20,4) NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (tenant_id, roll_up_year, roll_up_month, roll_up_day, product_id)
);

CREATE TABLE IF NOT EXISTS rollup_orders (
	tenant_id BIGINT NOT NULL,
	roll_up_year SMALLINT NOT NULL,
	roll_up_month SMALLINT NOT NULL,
	roll_up_day SMALLINT NOT NULL,
	source BIGINT NOT NULL DEFAULT 0,
	order_count BIGINT NOT NULL DEFAULT 0,
	order_value NUMERIC(20,4) NOT NULL DEFAULT 0,
	ledger_ids BIGINT[] NOT NULL DEFAULT '{}',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (tenant_id, roll_up_year, roll_up_month, roll_up_day, source)
);

CREATE TABLE IF NOT EXISTS rollup_accounting (
	tenant_id BIGINT NOT NULL,
	roll_up_year SMALLINT NOT NULL,
	roll_up_month SMALLINT NOT NULL,
	roll_up_day SMALLINT NOT NULL,
	total_income NUMERIC(20,4) NOT NULL DEFAULT 0,
	total_expense NUMERIC(20,4) NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (tenant_id, roll_up_year, roll_up_month, roll_up_day)
);
`

// EnsureShared creates the cross-tenant tables when they are missing.
func EnsureShared(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, sharedSchemaSQL); err != nil {
		return fmt.Errorf("platform/db: shared schema: %w", err)
	}
	return nil
}

// EnsureTenant creates the partition schema and tables for a tenant.
func EnsureTenant(ctx context.Context, pool *pgxpool.Pool, tenantID int64) error {
	if tenantID <= 0 {
		return ErrInvalidTenant
	}
	schema := pgx.Identifier{TenantSchema(tenantID)}.Sanitize()
	if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); err != nil {
		return fmt.Errorf("platform/db: create schema %s: %w", schema, err)
	}
	return WithTenant(ctx, pool, tenantID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, tenantSchemaSQL); err != nil {
			return fmt.Errorf("platform/db: tenant schema %d: %w", tenantID, err)
		}
		return nil
	})
}
