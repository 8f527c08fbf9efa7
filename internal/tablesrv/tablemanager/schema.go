package tablemanager

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/floorbook/floorbook/internal/common/apperrors"
	"github.com/floorbook/floorbook/internal/common/uuid"
	"github.com/floorbook/floorbook/internal/tablesrv/db"
	"github.com/floorbook/floorbook/internal/tablesrv/db/dberror"
	"github.com/floorbook/floorbook/internal/tablesrv/db/models"
	"github.com/floorbook/floorbook/internal/tablesrv/tablecommon"
)

// TableDetail is a table with every tab, the content of each tab and the
// users it is shared with.
type TableDetail struct {
	models.Table
	Tabs   []TabSnapshot  `json:"tabs"`
	Shares []models.Share `json:"shares"`
}

// CreateTable creates a table shared with its creator, then its tabs in
// input order with their columns and rows.
func (e *Engine) CreateTable(ctx context.Context, actor tablecommon.Actor, req *CreateTableRequest) (*models.Table, apperrors.Error) {
	const op = "create table"
	if req == nil {
		return nil, ErrInvalidRequest.Op(op, nil)
	}
	req.normalize()
	if err := req.Validate(e.maxBulkRows); err != nil {
		return nil, err.Op(op, req.Name)
	}

	staged := make([][][]any, len(req.Tabs))
	var uploaded []string
	for i := range req.Tabs {
		rows, paths, err := e.stageUploads(ctx, req.Tabs[i].Rows)
		uploaded = append(uploaded, paths...)
		if err != nil {
			e.discardBlobs(ctx, uploaded)
			return nil, engineError(op, req.Name, err)
		}
		staged[i] = rows
	}

	table := &models.Table{
		TenantID:  actor.TenantID,
		Name:      req.Name,
		CreatedBy: actor.UserID,
	}
	err := e.transact(ctx, actor, func(tx db.Database) apperrors.Error {
		if err := tx.CreateTable(ctx, table); err != nil {
			return err
		}
		if _, err := tx.CreateShares(ctx, actor.TenantID, table.TableID, []tablecommon.UserId{actor.UserID}); err != nil {
			return err
		}
		for i := range req.Tabs {
			if _, _, err := createTab(ctx, tx, actor.TenantID, table.TableID, &req.Tabs[i], staged[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		e.discardBlobs(ctx, uploaded)
		return nil, engineError(op, req.Name, err)
	}

	log.Ctx(ctx).Info().
		Str("tenant_id", string(actor.TenantID)).
		Str("table_id", table.TableID.String()).
		Int("tabs", len(req.Tabs)).
		Msg("created table")
	return table, nil
}

// CreateTab appends a tab to a table. Its index is the number of tabs the
// table has ever had.
func (e *Engine) CreateTab(ctx context.Context, actor tablecommon.Actor, tableID uuid.UUID, spec *TabSpec) (*models.Tab, apperrors.Error) {
	const op = "create tab"
	if spec == nil {
		return nil, ErrInvalidRequest.Op(op, tableID)
	}
	spec.normalize()
	if err := spec.Validate(e.maxBulkRows); err != nil {
		return nil, err.Op(op, tableID)
	}
	rows, uploaded, serr := e.stageUploads(ctx, spec.Rows)
	if serr != nil {
		e.discardBlobs(ctx, uploaded)
		return nil, engineError(op, tableID, serr)
	}

	var tab *models.Tab
	err := e.transact(ctx, actor, func(tx db.Database) apperrors.Error {
		if _, err := authorizeTable(ctx, tx, actor, tableID); err != nil {
			return err
		}
		t, _, err := createTab(ctx, tx, actor.TenantID, tableID, spec, rows)
		tab = t
		return err
	})
	if err != nil {
		e.discardBlobs(ctx, uploaded)
		return nil, engineError(op, tableID, err)
	}
	return tab, nil
}

// createTab creates a tab, its columns and, through the bulk path, its rows.
func createTab(ctx context.Context, tx db.Database, tenantID tablecommon.TenantId, tableID uuid.UUID, spec *TabSpec, rows [][]any) (*models.Tab, []models.Column, apperrors.Error) {
	tab := &models.Tab{
		TenantID: tenantID,
		TableID:  tableID,
		Name:     spec.Name,
	}
	if err := tx.CreateTab(ctx, tab); err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, nil, ErrTableNotFound.Err(err)
		}
		return nil, nil, err
	}
	if len(spec.Columns) == 0 {
		return tab, nil, nil
	}

	cols := make([]models.Column, len(spec.Columns))
	for i, c := range spec.Columns {
		cols[i] = models.Column{
			TenantID: tenantID,
			TabID:    tab.TabID,
			Name:     c.Name,
			Kind:     c.Kind,
		}
	}
	if err := tx.CreateColumns(ctx, tenantID, cols); err != nil {
		return nil, nil, err
	}
	if len(rows) > 0 {
		if _, err := bulkInsert(ctx, tx, tenantID, tab.TabID, cols, rows); err != nil {
			return nil, nil, err
		}
	}
	return tab, cols, nil
}

// CreateColumn adds a column to a tab. Existing records have no cell for it.
func (e *Engine) CreateColumn(ctx context.Context, actor tablecommon.Actor, tabID uuid.UUID, spec ColumnSpec) (*models.Column, apperrors.Error) {
	const op = "create column"
	if err := validateColumnSpec(&spec); err != nil {
		return nil, err.Op(op, tabID)
	}
	var col *models.Column
	err := e.transact(ctx, actor, func(tx db.Database) apperrors.Error {
		if _, err := authorizeTab(ctx, tx, actor, tabID); err != nil {
			return err
		}
		cols := []models.Column{{
			TenantID: actor.TenantID,
			TabID:    tabID,
			Name:     spec.Name,
			Kind:     spec.Kind,
		}}
		if err := tx.CreateColumns(ctx, actor.TenantID, cols); err != nil {
			return err
		}
		col = &cols[0]
		return nil
	})
	if err != nil {
		return nil, engineError(op, tabID, err)
	}
	return col, nil
}

// RenameTable renames a table.
func (e *Engine) RenameTable(ctx context.Context, actor tablecommon.Actor, tableID uuid.UUID, name string) (*models.Table, apperrors.Error) {
	const op = "rename table"
	name, verr := validateName(name)
	if verr != nil {
		return nil, verr.Op(op, tableID)
	}
	var table *models.Table
	err := e.transact(ctx, actor, func(tx db.Database) apperrors.Error {
		t, err := authorizeTable(ctx, tx, actor, tableID)
		if err != nil {
			return err
		}
		if err := tx.UpdateTableName(ctx, actor.TenantID, tableID, name); err != nil {
			return err
		}
		t.Name = name
		table = t
		return nil
	})
	if err != nil {
		return nil, engineError(op, tableID, err)
	}
	return table, nil
}

// RenameTab renames a tab.
func (e *Engine) RenameTab(ctx context.Context, actor tablecommon.Actor, tabID uuid.UUID, name string) (*models.Tab, apperrors.Error) {
	const op = "rename tab"
	name, verr := validateName(name)
	if verr != nil {
		return nil, verr.Op(op, tabID)
	}
	var tab *models.Tab
	err := e.transact(ctx, actor, func(tx db.Database) apperrors.Error {
		t, err := authorizeTab(ctx, tx, actor, tabID)
		if err != nil {
			return err
		}
		if err := tx.UpdateTabName(ctx, actor.TenantID, tabID, name); err != nil {
			return err
		}
		t.Name = name
		tab = t
		return nil
	})
	if err != nil {
		return nil, engineError(op, tabID, err)
	}
	return tab, nil
}

// RenameColumn renames a column. Its kind changes only through
// MigrateColumnType.
func (e *Engine) RenameColumn(ctx context.Context, actor tablecommon.Actor, columnID uuid.UUID, name string) (*models.Column, apperrors.Error) {
	const op = "rename column"
	name, verr := validateName(name)
	if verr != nil {
		return nil, verr.Op(op, columnID)
	}
	var col *models.Column
	err := e.transact(ctx, actor, func(tx db.Database) apperrors.Error {
		c, err := authorizeColumn(ctx, tx, actor, columnID)
		if err != nil {
			return err
		}
		if err := tx.UpdateColumnName(ctx, actor.TenantID, columnID, name); err != nil {
			return err
		}
		c.Name = name
		col = c
		return nil
	})
	if err != nil {
		return nil, engineError(op, columnID, err)
	}
	return col, nil
}

// DeleteTable deletes a table with its tabs, columns, records, cells and
// shares. Only the creator may delete a table. It returns false when the
// table does not exist in the actor's tenant.
func (e *Engine) DeleteTable(ctx context.Context, actor tablecommon.Actor, tableID uuid.UUID) (bool, apperrors.Error) {
	const op = "delete table"
	var deleted bool
	err := e.transact(ctx, actor, func(tx db.Database) apperrors.Error {
		t, err := tx.GetTable(ctx, actor.TenantID, tableID)
		if err != nil {
			if errors.Is(err, dberror.ErrNotFound) {
				return nil
			}
			return err
		}
		if t.CreatedBy != actor.UserID {
			return ErrNotCreator
		}
		deleted, err = tx.DeleteTable(ctx, actor.TenantID, tableID)
		return err
	})
	if err != nil {
		return false, engineError(op, tableID, err)
	}
	if deleted {
		log.Ctx(ctx).Info().Str("table_id", tableID.String()).Msg("deleted table")
	}
	return deleted, nil
}

// DeleteTab deletes a tab with its columns, records and cells.
func (e *Engine) DeleteTab(ctx context.Context, actor tablecommon.Actor, tabID uuid.UUID) (bool, apperrors.Error) {
	const op = "delete tab"
	var deleted bool
	err := e.transact(ctx, actor, func(tx db.Database) apperrors.Error {
		_, err := authorizeTab(ctx, tx, actor, tabID)
		if errors.Is(err, ErrTabNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		deleted, err = tx.DeleteTab(ctx, actor.TenantID, tabID)
		return err
	})
	if err != nil {
		return false, engineError(op, tabID, err)
	}
	return deleted, nil
}

// DeleteColumn deletes a column and its cells.
func (e *Engine) DeleteColumn(ctx context.Context, actor tablecommon.Actor, columnID uuid.UUID) (bool, apperrors.Error) {
	const op = "delete column"
	var deleted bool
	err := e.transact(ctx, actor, func(tx db.Database) apperrors.Error {
		_, err := authorizeColumn(ctx, tx, actor, columnID)
		if errors.Is(err, ErrColumnNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		deleted, err = tx.DeleteColumn(ctx, actor.TenantID, columnID)
		return err
	})
	if err != nil {
		return false, engineError(op, columnID, err)
	}
	return deleted, nil
}

// DeleteRecord deletes a record and its cells.
func (e *Engine) DeleteRecord(ctx context.Context, actor tablecommon.Actor, recordID uuid.UUID) (bool, apperrors.Error) {
	const op = "delete record"
	var deleted bool
	err := e.transact(ctx, actor, func(tx db.Database) apperrors.Error {
		_, err := authorizeRecord(ctx, tx, actor, recordID)
		if errors.Is(err, ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		deleted, err = tx.DeleteRecord(ctx, actor.TenantID, recordID)
		return err
	})
	if err != nil {
		return false, engineError(op, recordID, err)
	}
	return deleted, nil
}

// GetTable returns a table shared with the actor.
func (e *Engine) GetTable(ctx context.Context, actor tablecommon.Actor, tableID uuid.UUID) (*models.Table, apperrors.Error) {
	var table *models.Table
	err := e.transact(ctx, actor, func(tx db.Database) apperrors.Error {
		t, err := authorizeTable(ctx, tx, actor, tableID)
		table = t
		return err
	})
	if err != nil {
		return nil, engineError("get table", tableID, err)
	}
	return table, nil
}

// ListTables returns the tables shared with the actor, oldest first.
func (e *Engine) ListTables(ctx context.Context, actor tablecommon.Actor) ([]models.Table, apperrors.Error) {
	var tables []models.Table
	err := e.transact(ctx, actor, func(tx db.Database) apperrors.Error {
		var err apperrors.Error
		tables, err = tx.ListTablesForUser(ctx, actor.TenantID, actor.UserID)
		return err
	})
	if err != nil {
		return nil, engineError("list tables", actor.UserID, err)
	}
	return tables, nil
}

// GetTableDetail returns a table with the snapshot of every tab and its
// shares.
func (e *Engine) GetTableDetail(ctx context.Context, actor tablecommon.Actor, tableID uuid.UUID) (*TableDetail, apperrors.Error) {
	const op = "get table detail"
	detail := &TableDetail{}
	err := e.transact(ctx, actor, func(tx db.Database) apperrors.Error {
		t, err := authorizeTable(ctx, tx, actor, tableID)
		if err != nil {
			return err
		}
		detail.Table = *t
		tabs, err := tx.ListTabs(ctx, actor.TenantID, tableID)
		if err != nil {
			return err
		}
		detail.Tabs = make([]TabSnapshot, 0, len(tabs))
		for i := range tabs {
			snap, err := readSnapshot(ctx, tx, actor.TenantID, &tabs[i])
			if err != nil {
				return err
			}
			detail.Tabs = append(detail.Tabs, *snap)
		}
		detail.Shares, err = tx.ListShares(ctx, actor.TenantID, tableID)
		return err
	})
	if err != nil {
		return nil, engineError(op, tableID, err)
	}
	for i := range detail.Tabs {
		if err := e.presignFiles(ctx, &detail.Tabs[i]); err != nil {
			return nil, engineError(op, tableID, err)
		}
	}
	return detail, nil
}
