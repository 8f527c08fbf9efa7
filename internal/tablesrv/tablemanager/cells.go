package tablemanager

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/floorbook/floorbook/internal/common/apperrors"
	"github.com/floorbook/floorbook/internal/common/uuid"
	"github.com/floorbook/floorbook/internal/tablesrv/blobstore"
	"github.com/floorbook/floorbook/internal/tablesrv/cellvalue"
	"github.com/floorbook/floorbook/internal/tablesrv/db"
	"github.com/floorbook/floorbook/internal/tablesrv/db/dberror"
	"github.com/floorbook/floorbook/internal/tablesrv/db/models"
	"github.com/floorbook/floorbook/internal/tablesrv/tablecommon"
)

// TabSnapshot is the content of a tab, column by column. RecordIDs lists
// every record of the tab in insertion order, including records without
// cells.
type TabSnapshot struct {
	models.Tab
	RecordIDs []uuid.UUID      `json:"record_ids"`
	Columns   []ColumnSnapshot `json:"columns"`
}

// ColumnSnapshot holds every existing cell of a column in record order.
// Values are rendered with cellvalue.Render, except file cells which render
// as path, blobstore.PresignedURLSentinel and a presigned URL.
type ColumnSnapshot struct {
	models.Column
	RecordIDs []uuid.UUID `json:"record_ids"`
	Values    []any       `json:"values"`
}

// Column returns the snapshot of the column named name, or nil.
func (s *TabSnapshot) Column(name string) *ColumnSnapshot {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return &s.Columns[i]
		}
	}
	return nil
}

// GetTabSnapshot reads every column of a tab in creation order with its
// cells in record order.
func (e *Engine) GetTabSnapshot(ctx context.Context, actor tablecommon.Actor, tabID uuid.UUID) (*TabSnapshot, apperrors.Error) {
	const op = "get tab snapshot"
	var snap *TabSnapshot
	err := e.transact(ctx, actor, func(tx db.Database) apperrors.Error {
		tab, err := authorizeTab(ctx, tx, actor, tabID)
		if err != nil {
			return err
		}
		snap, err = readSnapshot(ctx, tx, actor.TenantID, tab)
		return err
	})
	if err != nil {
		return nil, engineError(op, tabID, err)
	}
	if err := e.presignFiles(ctx, snap); err != nil {
		return nil, engineError(op, tabID, err)
	}
	return snap, nil
}

// readSnapshot builds a snapshot from one column, one record and one cell
// query. File cells hold their bare path until presignFiles runs.
func readSnapshot(ctx context.Context, tx db.Database, tenantID tablecommon.TenantId, tab *models.Tab) (*TabSnapshot, apperrors.Error) {
	cols, err := tx.ListColumns(ctx, tenantID, tab.TabID)
	if err != nil {
		return nil, err
	}
	records, err := tx.ListRecords(ctx, tenantID, tab.TabID)
	if err != nil {
		return nil, err
	}
	cells, err := tx.ListCellsByTab(ctx, tenantID, tab.TabID)
	if err != nil {
		return nil, err
	}

	snap := &TabSnapshot{
		Tab:       *tab,
		RecordIDs: make([]uuid.UUID, len(records)),
		Columns:   make([]ColumnSnapshot, len(cols)),
	}
	for i := range records {
		snap.RecordIDs[i] = records[i].RecordID
	}
	byColumn := make(map[uuid.UUID]*ColumnSnapshot, len(cols))
	for i := range cols {
		snap.Columns[i] = ColumnSnapshot{
			Column:    cols[i],
			RecordIDs: []uuid.UUID{},
			Values:    []any{},
		}
		byColumn[cols[i].ColumnID] = &snap.Columns[i]
	}
	for i := range cells {
		cs, ok := byColumn[cells[i].ColumnID]
		if !ok {
			continue
		}
		cs.RecordIDs = append(cs.RecordIDs, cells[i].RecordID)
		cs.Values = append(cs.Values, cellvalue.Render(cells[i].Value(cs.Kind)))
	}
	return snap, nil
}

// presignFiles replaces the bare paths of file cells with their rendered
// form.
func (e *Engine) presignFiles(ctx context.Context, snap *TabSnapshot) apperrors.Error {
	for i := range snap.Columns {
		cs := &snap.Columns[i]
		if cs.Kind != cellvalue.KindFile {
			continue
		}
		for j, v := range cs.Values {
			p, ok := v.(string)
			if !ok {
				continue
			}
			rendered, err := e.renderFile(ctx, cs.ColumnID, p)
			if err != nil {
				return err
			}
			cs.Values[j] = rendered
		}
	}
	return nil
}

// renderFile joins p with a presigned URL. A path the blob store cannot
// resolve is returned bare.
func (e *Engine) renderFile(ctx context.Context, columnID uuid.UUID, p string) (string, apperrors.Error) {
	if e.blobs == nil {
		return "", ErrNoBlobStore
	}
	url, err := e.blobs.Resolve(ctx, p)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Str("column_id", columnID.String()).
			Str("path", p).
			Msg("unable to resolve file, rendering bare path")
		return p, nil
	}
	return blobstore.JoinPresigned(p, url), nil
}

// GetCell returns the rendered value at (tab, column, record). A record with
// no cell in the column reads as nil.
func (e *Engine) GetCell(ctx context.Context, actor tablecommon.Actor, tabID, columnID, recordID uuid.UUID) (any, apperrors.Error) {
	const op = "get cell"
	var (
		col  *models.Column
		cell *models.Cell
	)
	err := e.transact(ctx, actor, func(tx db.Database) apperrors.Error {
		if _, err := authorizeTab(ctx, tx, actor, tabID); err != nil {
			return err
		}
		c, err := tx.GetColumn(ctx, actor.TenantID, columnID)
		if err != nil {
			if errors.Is(err, dberror.ErrNotFound) {
				return ErrColumnNotFound.Err(err)
			}
			return err
		}
		if c.TabID != tabID {
			return ErrColumnNotFound.Msg("column " + columnID.String() + " is not in tab " + tabID.String())
		}
		col = c
		rec, err := tx.GetRecord(ctx, actor.TenantID, recordID)
		if err != nil {
			if errors.Is(err, dberror.ErrNotFound) {
				return ErrRecordNotFound.Err(err)
			}
			return err
		}
		if rec.TabID != tabID {
			return ErrRecordNotFound.Msg("record " + recordID.String() + " is not in tab " + tabID.String())
		}
		cell, err = tx.GetCell(ctx, actor.TenantID, tabID, columnID, recordID)
		if errors.Is(err, dberror.ErrNotFound) {
			cell = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, engineError(op, recordID, err)
	}
	if cell == nil {
		return nil, nil
	}
	v := cellvalue.Render(cell.Value(col.Kind))
	if p, ok := v.(string); ok && col.Kind == cellvalue.KindFile {
		rendered, err := e.renderFile(ctx, col.ColumnID, p)
		if err != nil {
			return nil, engineError(op, recordID, err)
		}
		return rendered, nil
	}
	return v, nil
}

// WriteCell writes one value at (tab, column, record) and returns the
// stored cell. A nil or unseen recordID creates the record. A
// *blobstore.Upload written to a file column is stored before the cell is
// written; the blob it replaces is deleted once the write has committed.
// Writing a path string or nil leaves stored blobs alone.
func (e *Engine) WriteCell(ctx context.Context, actor tablecommon.Actor, tabID, columnID, recordID uuid.UUID, raw any) (*models.Cell, apperrors.Error) {
	cells, err := e.writeCells(ctx, actor, "write cell", tabID, recordID, []CellUpdate{{ColumnID: columnID, Value: raw}})
	if err != nil {
		return nil, err
	}
	return &cells[0], nil
}

// WriteCells writes several values of one record in one transaction.
func (e *Engine) WriteCells(ctx context.Context, actor tablecommon.Actor, tabID, recordID uuid.UUID, updates []CellUpdate) ([]models.Cell, apperrors.Error) {
	return e.writeCells(ctx, actor, "write cells", tabID, recordID, updates)
}

func (e *Engine) writeCells(ctx context.Context, actor tablecommon.Actor, op string, tabID, recordID uuid.UUID, updates []CellUpdate) ([]models.Cell, apperrors.Error) {
	if len(updates) == 0 {
		return nil, ErrInvalidRequest.Msg("no cells to write").Op(op, tabID)
	}
	seen := make(map[uuid.UUID]bool, len(updates))
	raws := make([]any, len(updates))
	for i, u := range updates {
		if seen[u.ColumnID] {
			return nil, ErrDuplicateColumn.Op(op, u.ColumnID)
		}
		seen[u.ColumnID] = true
		raws[i] = u.Value
	}

	staged, uploaded, serr := e.stageUploads(ctx, [][]any{raws})
	if serr != nil {
		e.discardBlobs(ctx, uploaded)
		return nil, engineError(op, tabID, serr)
	}

	var (
		out      []models.Cell
		replaced []string
	)
	err := e.transact(ctx, actor, func(tx db.Database) apperrors.Error {
		if _, err := authorizeTab(ctx, tx, actor, tabID); err != nil {
			return err
		}
		rec, err := resolveRecord(ctx, tx, actor.TenantID, tabID, recordID)
		if err != nil {
			return err
		}
		existing, err := tx.ListCellsForRecord(ctx, actor.TenantID, rec.RecordID)
		if err != nil {
			return err
		}
		current := make(map[uuid.UUID]*models.Cell, len(existing))
		for i := range existing {
			current[existing[i].ColumnID] = &existing[i]
		}

		out = make([]models.Cell, 0, len(updates))
		replaced = replaced[:0]
		for i, u := range updates {
			// FOR SHARE: serialises against a migration of the column
			col, err := lockTabColumn(ctx, tx, actor.TenantID, tabID, u.ColumnID, false)
			if err != nil {
				return err
			}
			v, err := projectCell(col, staged[0][i])
			if err != nil {
				return err
			}
			cell := models.Cell{
				TenantID: actor.TenantID,
				TabID:    tabID,
				ColumnID: col.ColumnID,
				RecordID: rec.RecordID,
				Slots:    cellvalue.ToSlots(v),
			}
			if err := tx.UpsertCell(ctx, &cell); err != nil {
				return err
			}
			// only a new upload retires the previous blob; paths written
			// as strings may still be referenced by other cells
			if _, uploadedNow := staged[0][i].(stagedFile); uploadedNow {
				if old, ok := current[col.ColumnID]; ok {
					if p := old.FilePath; p.Valid && p.String != cell.FilePath.String {
						replaced = append(replaced, p.String)
					}
				}
			}
			out = append(out, cell)
		}
		return nil
	})
	if err != nil {
		e.discardBlobs(ctx, uploaded)
		return nil, engineError(op, tabID, err)
	}
	e.discardBlobs(ctx, replaced)

	log.Ctx(ctx).Debug().
		Str("tab_id", tabID.String()).
		Int("cells", len(out)).
		Int("replaced_files", len(replaced)).
		Msg("wrote cells")
	return out, nil
}

// stagedFile is the stored path of an upload made before a transaction.
type stagedFile string

// stageUploads stores every *blobstore.Upload found in rows and returns a
// copy of rows with each upload replaced by its stored path. The stored
// paths are returned even on error so the caller can discard them.
func (e *Engine) stageUploads(ctx context.Context, rows [][]any) ([][]any, []string, apperrors.Error) {
	var (
		out   [][]any
		paths []string
	)
	for i, row := range rows {
		for j, raw := range row {
			u, ok := isUpload(raw)
			if !ok {
				continue
			}
			if e.blobs == nil {
				return nil, paths, ErrNoBlobStore
			}
			if out == nil {
				out = copyRows(rows)
			}
			name, err := blobstore.CleanName(u.Name)
			if err != nil {
				return nil, paths, ErrValidation.MsgErr(err.Error(), err)
			}
			p, err := e.blobs.Store(ctx, name, u)
			if err != nil {
				return nil, paths, ErrStorage.MsgErr("failed to store file "+name, err)
			}
			paths = append(paths, p)
			out[i][j] = stagedFile(p)
		}
	}
	if out == nil {
		return rows, nil, nil
	}
	return out, paths, nil
}

func copyRows(rows [][]any) [][]any {
	out := make([][]any, len(rows))
	for i, row := range rows {
		out[i] = append([]any(nil), row...)
	}
	return out
}

// projectCell projects a raw value for col. A rendered file cell written
// back is reduced to its path.
func projectCell(col *models.Column, raw any) (cellvalue.Value, apperrors.Error) {
	if p, ok := raw.(stagedFile); ok {
		if col.Kind != cellvalue.KindFile {
			return nil, ErrUploadNotFile.Msg("column " + col.Name + " is of kind " + string(col.Kind))
		}
		return cellvalue.FilePath(p), nil
	}
	if _, ok := isUpload(raw); ok {
		return nil, ErrUploadNotFile
	}
	if s, ok := raw.(string); ok && col.Kind == cellvalue.KindFile {
		if p, _, found := blobstore.SplitPresigned(s); found {
			raw = p
		}
	}
	v, err := cellvalue.Project(col.Kind, raw)
	if err != nil {
		return nil, ErrValidation.MsgErr(err.Error(), err)
	}
	return v, nil
}
