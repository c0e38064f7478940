package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrInvalidTenant is returned for non-positive tenant identifiers.
var ErrInvalidTenant = errors.New("platform/db: invalid tenant id")

// TenantSchema returns the schema holding the partition of a tenant.
func TenantSchema(tenantID int64) string {
	return fmt.Sprintf("shop_%d", tenantID)
}

// WithTenant runs fn inside a transaction whose search_path points at the tenant
// partition. The setting is transaction local, so it is gone once the transaction
// commits or rolls back, whichever way fn exits.
func WithTenant(ctx context.Context, pool *pgxpool.Pool, tenantID int64, fn func(pgx.Tx) error) error {
	if tenantID <= 0 {
		return ErrInvalidTenant
	}
	return WithTx(ctx, pool, func(tx pgx.Tx) error {
		schema := pgx.Identifier{TenantSchema(tenantID)}.Sanitize()
		if _, err := tx.Exec(ctx, `SELECT set_config('search_path', $1, true)`, schema+", public"); err != nil {
			return fmt.Errorf("platform/db: switch tenant %d: %w", tenantID, err)
		}
		return fn(tx)
	})
}

// IsUndefinedRelation reports whether err was raised because a schema or table
// does not exist.
func IsUndefinedRelation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "42P01", "3F000":
		return true
	}
	return false
}
