package tablemanager

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/floorbook/floorbook/internal/common/apperrors"
	"github.com/floorbook/floorbook/internal/common/uuid"
	"github.com/floorbook/floorbook/internal/tablesrv/cellvalue"
	"github.com/floorbook/floorbook/internal/tablesrv/db"
	"github.com/floorbook/floorbook/internal/tablesrv/db/models"
	"github.com/floorbook/floorbook/internal/tablesrv/tablecommon"
)

// MigrateColumnType retypes a column and converts every existing cell of it
// with cellvalue.Convert. Migrations into or out of file and user columns
// are rejected; migrating to the current kind is a no-op. The column row is
// locked for the whole conversion, so cell writes into the column wait.
func (e *Engine) MigrateColumnType(ctx context.Context, actor tablecommon.Actor, columnID uuid.UUID, kind cellvalue.Kind) (*models.Column, apperrors.Error) {
	const op = "migrate column"
	if !kind.IsValid() {
		return nil, engineError(op, columnID, cellvalue.ErrUnknownKind.Msg("unrecognized value kind: "+string(kind)))
	}

	var (
		col       *models.Column
		from      cellvalue.Kind
		converted int
	)
	err := e.transact(ctx, actor, func(tx db.Database) apperrors.Error {
		c, err := authorizeColumn(ctx, tx, actor, columnID)
		if err != nil {
			return err
		}
		c, err = lockTabColumn(ctx, tx, actor.TenantID, c.TabID, columnID, true)
		if err != nil {
			return err
		}
		col, from = c, c.Kind
		if cerr := cellvalue.CanMigrate(from, kind); cerr != nil {
			return cerr
		}
		if from == kind {
			return nil
		}

		cells, err := tx.ListCellsByColumn(ctx, actor.TenantID, c.TabID, columnID)
		if err != nil {
			return err
		}
		for i := range cells {
			v, cerr := cellvalue.Convert(cells[i].Value(from), from, kind)
			if cerr != nil {
				return cerr
			}
			cells[i].Slots = cellvalue.ToSlots(v)
		}
		if len(cells) > 0 {
			if err := tx.BulkUpdateCellSlots(ctx, actor.TenantID, cells); err != nil {
				return err
			}
		}
		if err := tx.SetColumnKind(ctx, actor.TenantID, columnID, kind); err != nil {
			return err
		}
		col.Kind = kind
		converted = len(cells)
		return nil
	})
	if err != nil {
		return nil, engineError(op, columnID, err)
	}

	if from != kind {
		log.Ctx(ctx).Info().
			Str("column_id", columnID.String()).
			Str("from", string(from)).
			Str("to", string(kind)).
			Int("cells", converted).
			Msg("migrated column")
	}
	return col, nil
}
