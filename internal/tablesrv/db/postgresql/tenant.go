package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/floorbook/floorbook/internal/common/apperrors"
	"github.com/floorbook/floorbook/internal/tablesrv/db/dberror"
	"github.com/floorbook/floorbook/internal/tablesrv/db/models"
	"github.com/floorbook/floorbook/internal/tablesrv/tablecommon"
)

// CreateTenant inserts a new tenant. Returns ErrAlreadyExists when the id
// is taken.
func (tm *TenantManager) CreateTenant(ctx context.Context, tenant *models.Tenant) apperrors.Error {
	if tenant == nil || tenant.TenantID == "" {
		return dberror.ErrMissingTenantID
	}
	query := `
		INSERT INTO tenants (tenant_id, name)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id) DO NOTHING
		RETURNING created_at;`
	err := tm.conn().QueryRowContext(ctx, query, tenant.TenantID, tenant.Name).Scan(&tenant.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Ctx(ctx).Info().Str("tenant_id", string(tenant.TenantID)).Msg("tenant already exists")
			return dberror.ErrAlreadyExists.Msg("tenant already exists")
		}
		log.Ctx(ctx).Error().Err(err).Str("tenant_id", string(tenant.TenantID)).Msg("failed to insert tenant")
		return mapError(err)
	}
	return nil
}

func (tm *TenantManager) GetTenant(ctx context.Context, tenantID tablecommon.TenantId) (*models.Tenant, apperrors.Error) {
	query := `SELECT tenant_id, name, created_at FROM tenants WHERE tenant_id = $1;`
	tenant := &models.Tenant{}
	err := tm.conn().QueryRowContext(ctx, query, tenantID).Scan(&tenant.TenantID, &tenant.Name, &tenant.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("tenant not found")
		}
		log.Ctx(ctx).Error().Err(err).Str("tenant_id", string(tenantID)).Msg("failed to get tenant")
		return nil, mapError(err)
	}
	return tenant, nil
}

// DeleteTenant removes the tenant and, through cascades, all of its data.
func (tm *TenantManager) DeleteTenant(ctx context.Context, tenantID tablecommon.TenantId) apperrors.Error {
	_, err := tm.conn().ExecContext(ctx, `DELETE FROM tenants WHERE tenant_id = $1;`, tenantID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("tenant_id", string(tenantID)).Msg("failed to delete tenant")
		return mapError(err)
	}
	return nil
}
