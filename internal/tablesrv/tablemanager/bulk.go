package tablemanager

import (
	"context"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/floorbook/floorbook/internal/common/apperrors"
	"github.com/floorbook/floorbook/internal/common/uuid"
	"github.com/floorbook/floorbook/internal/tablesrv/cellvalue"
	"github.com/floorbook/floorbook/internal/tablesrv/db"
	"github.com/floorbook/floorbook/internal/tablesrv/db/models"
	"github.com/floorbook/floorbook/internal/tablesrv/tablecommon"
)

// BulkInsert appends rows to a tab and returns the number of records
// created. Each row holds one raw value per entry of columnIDs. Records are
// created in row order with one statement and their cells with another;
// nothing is inserted when any part fails.
func (e *Engine) BulkInsert(ctx context.Context, actor tablecommon.Actor, tabID uuid.UUID, columnIDs []uuid.UUID, rows [][]any) (int, apperrors.Error) {
	const op = "bulk insert"
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columnIDs) == 0 {
		return 0, ErrInvalidRequest.Msg("no columns given for rows").Op(op, tabID)
	}
	if e.maxBulkRows > 0 && len(rows) > e.maxBulkRows {
		return 0, ErrTooManyRows.Op(op, tabID)
	}
	seen := make(map[uuid.UUID]bool, len(columnIDs))
	for _, id := range columnIDs {
		if seen[id] {
			return 0, ErrDuplicateColumn.Op(op, id)
		}
		seen[id] = true
	}
	if err := checkRectangular(rows, len(columnIDs)); err != nil {
		return 0, err.Op(op, tabID)
	}

	staged, uploaded, serr := e.stageUploads(ctx, rows)
	if serr != nil {
		e.discardBlobs(ctx, uploaded)
		return 0, engineError(op, tabID, serr)
	}

	var n int
	err := e.transact(ctx, actor, func(tx db.Database) apperrors.Error {
		if _, err := authorizeTab(ctx, tx, actor, tabID); err != nil {
			return err
		}
		cols := make([]models.Column, len(columnIDs))
		for i, id := range columnIDs {
			col, err := lockTabColumn(ctx, tx, actor.TenantID, tabID, id, false)
			if err != nil {
				return err
			}
			cols[i] = *col
		}
		var err apperrors.Error
		n, err = bulkInsert(ctx, tx, actor.TenantID, tabID, cols, staged)
		return err
	})
	if err != nil {
		e.discardBlobs(ctx, uploaded)
		return 0, engineError(op, tabID, err)
	}

	log.Ctx(ctx).Info().
		Str("tenant_id", string(actor.TenantID)).
		Str("tab_id", tabID.String()).
		Int("rows", n).
		Int("columns", len(columnIDs)).
		Msg("bulk inserted rows")
	return n, nil
}

// bulkInsert projects every value in Go and writes the records and cells
// with one statement each. Rows must already be rectangular to cols.
func bulkInsert(ctx context.Context, tx db.Database, tenantID tablecommon.TenantId, tabID uuid.UUID, cols []models.Column, rows [][]any) (int, apperrors.Error) {
	if len(rows) == 0 {
		return 0, nil
	}
	cells := make([]models.Cell, 0, len(rows)*len(cols))
	ids := uuid.NewBatch(len(rows))
	for i, row := range rows {
		for j := range cols {
			v, err := projectCell(&cols[j], row[j])
			if err != nil {
				return 0, err.Prefix("row " + strconv.Itoa(i) + " column " + cols[j].Name)
			}
			cells = append(cells, models.Cell{
				TenantID: tenantID,
				TabID:    tabID,
				ColumnID: cols[j].ColumnID,
				RecordID: ids[i],
				Slots:    cellvalue.ToSlots(v),
			})
		}
	}

	records, err := tx.BulkCreateRecords(ctx, tenantID, tabID, ids)
	if err != nil {
		return 0, err
	}
	if len(cells) > 0 {
		if err := tx.BulkInsertCells(ctx, tenantID, tabID, cells); err != nil {
			return 0, err
		}
	}
	return len(records), nil
}
