package tablemanager

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/floorbook/floorbook/internal/common/apperrors"
	"github.com/floorbook/floorbook/internal/common/uuid"
	"github.com/floorbook/floorbook/internal/tablesrv/db"
	"github.com/floorbook/floorbook/internal/tablesrv/db/models"
	"github.com/floorbook/floorbook/internal/tablesrv/tablecommon"
)

// ShareTable makes the share list of a table match desired and returns the
// shares it added. The creator's share and the actor's own share are never
// removed.
func (e *Engine) ShareTable(ctx context.Context, actor tablecommon.Actor, tableID uuid.UUID, desired []tablecommon.UserId) ([]models.Share, apperrors.Error) {
	const op = "share table"
	want := make(map[tablecommon.UserId]bool, len(desired))
	var add []tablecommon.UserId
	for _, u := range desired {
		if u == "" {
			return nil, ErrInvalidRequest.Msg("empty user id").Op(op, tableID)
		}
		if !want[u] {
			want[u] = true
			add = append(add, u)
		}
	}

	var added []models.Share
	var removed int64
	err := e.transact(ctx, actor, func(tx db.Database) apperrors.Error {
		table, err := authorizeTable(ctx, tx, actor, tableID)
		if err != nil {
			return err
		}
		current, err := tx.ListShares(ctx, actor.TenantID, tableID)
		if err != nil {
			return err
		}
		var remove []tablecommon.UserId
		for _, s := range current {
			if want[s.UserID] || s.UserID == table.CreatedBy || s.UserID == actor.UserID {
				continue
			}
			remove = append(remove, s.UserID)
		}

		if len(add) > 0 {
			// existing shares are skipped by the insert
			if added, err = tx.CreateShares(ctx, actor.TenantID, tableID, add); err != nil {
				return err
			}
		}
		if len(remove) > 0 {
			if removed, err = tx.DeleteShares(ctx, actor.TenantID, tableID, remove); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, engineError(op, tableID, err)
	}

	log.Ctx(ctx).Info().
		Str("table_id", tableID.String()).
		Int("added", len(added)).
		Int64("removed", removed).
		Msg("updated table shares")
	if added == nil {
		added = []models.Share{}
	}
	return added, nil
}

// UserHasAccess reports whether userID holds a share of tableID in tenantID.
// A table of another tenant reads as not shared.
func (e *Engine) UserHasAccess(ctx context.Context, tenantID tablecommon.TenantId, userID tablecommon.UserId, tableID uuid.UUID) (bool, apperrors.Error) {
	var ok bool
	err := e.transact(ctx, tablecommon.Actor{TenantID: tenantID, UserID: userID}, func(tx db.Database) apperrors.Error {
		var err apperrors.Error
		ok, err = tx.ShareExists(ctx, tenantID, tableID, userID)
		return err
	})
	if err != nil {
		return false, engineError("check access", tableID, err)
	}
	return ok, nil
}

// ListShares returns the shares of a table shared with the actor.
func (e *Engine) ListShares(ctx context.Context, actor tablecommon.Actor, tableID uuid.UUID) ([]models.Share, apperrors.Error) {
	var shares []models.Share
	err := e.transact(ctx, actor, func(tx db.Database) apperrors.Error {
		if _, err := authorizeTable(ctx, tx, actor, tableID); err != nil {
			return err
		}
		var err apperrors.Error
		shares, err = tx.ListShares(ctx, actor.TenantID, tableID)
		return err
	})
	if err != nil {
		return nil, engineError("list shares", tableID, err)
	}
	return shares, nil
}
