package postgresql

import (
	"context"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/floorbook/floorbook/internal/common/apperrors"
	"github.com/floorbook/floorbook/internal/common/uuid"
	"github.com/floorbook/floorbook/internal/tablesrv/db/dberror"
	"github.com/floorbook/floorbook/internal/tablesrv/db/models"
	"github.com/floorbook/floorbook/internal/tablesrv/tablecommon"
)

// CreateShares grants every user in userIDs access to the table in one
// statement and returns the shares that did not exist before.
func (sm *ShareManager) CreateShares(ctx context.Context, tenantID tablecommon.TenantId, tableID uuid.UUID, userIDs []tablecommon.UserId) ([]models.Share, apperrors.Error) {
	if tenantID == "" {
		return nil, dberror.ErrMissingTenantID
	}
	if len(userIDs) == 0 {
		return nil, nil
	}
	query := `
		INSERT INTO table_shares (share_id, tenant_id, table_id, user_id)
		SELECT u.share_id, $1, $2, u.user_id
		FROM unnest($3::uuid[], $4::text[]) WITH ORDINALITY AS u(share_id, user_id, ord)
		ORDER BY u.ord
		ON CONFLICT (tenant_id, table_id, user_id) DO NOTHING
		RETURNING share_id, user_id, shared_at;`
	ids := uuid.NewBatch(len(userIDs))
	rows, err := sm.conn().QueryContext(ctx, query, tenantID, tableID,
		pq.Array(uuid.Strings(ids)), pq.Array(tablecommon.UserIdStrings(userIDs)))
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("table_id", tableID.String()).Msg("failed to insert shares")
		return nil, mapError(err)
	}
	defer rows.Close()

	var shares []models.Share
	for rows.Next() {
		s := models.Share{TenantID: tenantID, TableID: tableID}
		if err := rows.Scan(&s.ShareID, &s.UserID, &s.SharedAt); err != nil {
			return nil, mapError(err)
		}
		shares = append(shares, s)
	}
	if err := rows.Err(); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("table_id", tableID.String()).Msg("failed to insert shares")
		return nil, mapError(err)
	}
	return shares, nil
}

// ListShares returns the shares of a table, oldest first.
func (sm *ShareManager) ListShares(ctx context.Context, tenantID tablecommon.TenantId, tableID uuid.UUID) ([]models.Share, apperrors.Error) {
	query := `
		SELECT share_id, tenant_id, table_id, user_id, shared_at
		FROM table_shares
		WHERE tenant_id = $1 AND table_id = $2
		ORDER BY shared_at, share_id;`
	rows, err := sm.conn().QueryContext(ctx, query, tenantID, tableID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("table_id", tableID.String()).Msg("failed to list shares")
		return nil, mapError(err)
	}
	defer rows.Close()

	var shares []models.Share
	for rows.Next() {
		var s models.Share
		if err := rows.Scan(&s.ShareID, &s.TenantID, &s.TableID, &s.UserID, &s.SharedAt); err != nil {
			return nil, mapError(err)
		}
		shares = append(shares, s)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return shares, nil
}

// DeleteShares revokes access for userIDs in one statement and returns how
// many shares were removed.
func (sm *ShareManager) DeleteShares(ctx context.Context, tenantID tablecommon.TenantId, tableID uuid.UUID, userIDs []tablecommon.UserId) (int64, apperrors.Error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	query := `
		DELETE FROM table_shares
		WHERE tenant_id = $1 AND table_id = $2 AND user_id = ANY($3::text[]);`
	result, err := sm.conn().ExecContext(ctx, query, tenantID, tableID, pq.Array(tablecommon.UserIdStrings(userIDs)))
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("table_id", tableID.String()).Msg("failed to delete shares")
		return 0, mapError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

func (sm *ShareManager) ShareExists(ctx context.Context, tenantID tablecommon.TenantId, tableID uuid.UUID, userID tablecommon.UserId) (bool, apperrors.Error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM table_shares
			WHERE tenant_id = $1 AND table_id = $2 AND user_id = $3
		);`
	var exists bool
	if err := sm.conn().QueryRowContext(ctx, query, tenantID, tableID, userID).Scan(&exists); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("table_id", tableID.String()).Msg("failed to check share")
		return false, mapError(err)
	}
	return exists, nil
}
