package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/floorbook/floorbook/internal/common/apperrors"
	"github.com/floorbook/floorbook/internal/common/uuid"
	"github.com/floorbook/floorbook/internal/tablesrv/cellvalue"
	"github.com/floorbook/floorbook/internal/tablesrv/db/dberror"
	"github.com/floorbook/floorbook/internal/tablesrv/db/models"
	"github.com/floorbook/floorbook/internal/tablesrv/tablecommon"
)

// CreateTable inserts a table. A nil TableID is replaced with a new id.
func (tm *TableManager) CreateTable(ctx context.Context, table *models.Table) apperrors.Error {
	if table.TenantID == "" {
		return dberror.ErrMissingTenantID
	}
	if table.TableID == uuid.Nil {
		table.TableID = uuid.New()
	}
	query := `
		INSERT INTO tables (table_id, tenant_id, name, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at;`
	err := tm.conn().QueryRowContext(ctx, query, table.TableID, table.TenantID, table.Name, table.CreatedBy).Scan(&table.CreatedAt)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("table_id", table.TableID.String()).Msg("failed to insert table")
		return mapError(err)
	}
	return nil
}

func (tm *TableManager) GetTable(ctx context.Context, tenantID tablecommon.TenantId, tableID uuid.UUID) (*models.Table, apperrors.Error) {
	query := `
		SELECT table_id, tenant_id, name, created_by, created_at
		FROM tables
		WHERE tenant_id = $1 AND table_id = $2;`
	t := &models.Table{}
	err := tm.conn().QueryRowContext(ctx, query, tenantID, tableID).Scan(&t.TableID, &t.TenantID, &t.Name, &t.CreatedBy, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("table not found")
		}
		log.Ctx(ctx).Error().Err(err).Str("table_id", tableID.String()).Msg("failed to get table")
		return nil, mapError(err)
	}
	return t, nil
}

// ListTablesForUser returns the tables shared with userID, oldest first.
func (tm *TableManager) ListTablesForUser(ctx context.Context, tenantID tablecommon.TenantId, userID tablecommon.UserId) ([]models.Table, apperrors.Error) {
	query := `
		SELECT t.table_id, t.tenant_id, t.name, t.created_by, t.created_at
		FROM tables t
		JOIN table_shares s ON s.tenant_id = t.tenant_id AND s.table_id = t.table_id
		WHERE t.tenant_id = $1 AND s.user_id = $2
		ORDER BY t.created_at, t.table_id;`
	rows, err := tm.conn().QueryContext(ctx, query, tenantID, userID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("user_id", string(userID)).Msg("failed to list tables")
		return nil, mapError(err)
	}
	defer rows.Close()

	var tables []models.Table
	for rows.Next() {
		var t models.Table
		if err := rows.Scan(&t.TableID, &t.TenantID, &t.Name, &t.CreatedBy, &t.CreatedAt); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to scan table")
			return nil, mapError(err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return tables, nil
}

func (tm *TableManager) UpdateTableName(ctx context.Context, tenantID tablecommon.TenantId, tableID uuid.UUID, name string) apperrors.Error {
	query := `UPDATE tables SET name = $3 WHERE tenant_id = $1 AND table_id = $2;`
	return tm.execOne(ctx, "table", query, tenantID, tableID, name)
}

// DeleteTable removes the table; tabs, columns, records, cells and shares
// go with it through cascades. Returns false when no such table exists.
func (tm *TableManager) DeleteTable(ctx context.Context, tenantID tablecommon.TenantId, tableID uuid.UUID) (bool, apperrors.Error) {
	return tm.deleteOne(ctx, `DELETE FROM tables WHERE tenant_id = $1 AND table_id = $2;`, tenantID, tableID)
}

// CreateTab appends a tab. Its index comes from the table's tab counter,
// which counts every tab ever created, so indices of deleted tabs are not
// handed out again. The counter update also serialises concurrent tab
// creation on the table row.
func (tm *TableManager) CreateTab(ctx context.Context, tab *models.Tab) apperrors.Error {
	if tab.TenantID == "" {
		return dberror.ErrMissingTenantID
	}
	if tab.TabID == uuid.Nil {
		tab.TabID = uuid.New()
	}
	query := `
		WITH t AS (
			UPDATE tables SET tab_counter = tab_counter + 1
			WHERE tenant_id = $1 AND table_id = $2
			RETURNING table_id, tab_counter - 1 AS tab_index
		)
		INSERT INTO table_tabs (tab_id, tenant_id, table_id, name, tab_index)
		SELECT $3, $1, t.table_id, $4, t.tab_index FROM t
		RETURNING tab_index, created_at;`
	err := tm.conn().QueryRowContext(ctx, query, tab.TenantID, tab.TableID, tab.TabID, tab.Name).Scan(&tab.TabIndex, &tab.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dberror.ErrNotFound.Msg("table not found")
		}
		log.Ctx(ctx).Error().Err(err).Str("table_id", tab.TableID.String()).Msg("failed to insert tab")
		return mapError(err)
	}
	return nil
}

func (tm *TableManager) GetTab(ctx context.Context, tenantID tablecommon.TenantId, tabID uuid.UUID) (*models.Tab, apperrors.Error) {
	query := `
		SELECT tab_id, tenant_id, table_id, name, tab_index, created_at
		FROM table_tabs
		WHERE tenant_id = $1 AND tab_id = $2;`
	t := &models.Tab{}
	err := tm.conn().QueryRowContext(ctx, query, tenantID, tabID).Scan(&t.TabID, &t.TenantID, &t.TableID, &t.Name, &t.TabIndex, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("tab not found")
		}
		log.Ctx(ctx).Error().Err(err).Str("tab_id", tabID.String()).Msg("failed to get tab")
		return nil, mapError(err)
	}
	return t, nil
}

// ListTabs returns the tabs of a table by index.
func (tm *TableManager) ListTabs(ctx context.Context, tenantID tablecommon.TenantId, tableID uuid.UUID) ([]models.Tab, apperrors.Error) {
	query := `
		SELECT tab_id, tenant_id, table_id, name, tab_index, created_at
		FROM table_tabs
		WHERE tenant_id = $1 AND table_id = $2
		ORDER BY tab_index;`
	rows, err := tm.conn().QueryContext(ctx, query, tenantID, tableID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("table_id", tableID.String()).Msg("failed to list tabs")
		return nil, mapError(err)
	}
	defer rows.Close()

	var tabs []models.Tab
	for rows.Next() {
		var t models.Tab
		if err := rows.Scan(&t.TabID, &t.TenantID, &t.TableID, &t.Name, &t.TabIndex, &t.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		tabs = append(tabs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return tabs, nil
}

func (tm *TableManager) UpdateTabName(ctx context.Context, tenantID tablecommon.TenantId, tabID uuid.UUID, name string) apperrors.Error {
	query := `UPDATE table_tabs SET name = $3 WHERE tenant_id = $1 AND tab_id = $2;`
	return tm.execOne(ctx, "tab", query, tenantID, tabID, name)
}

func (tm *TableManager) DeleteTab(ctx context.Context, tenantID tablecommon.TenantId, tabID uuid.UUID) (bool, apperrors.Error) {
	return tm.deleteOne(ctx, `DELETE FROM table_tabs WHERE tenant_id = $1 AND tab_id = $2;`, tenantID, tabID)
}

// CreateColumns inserts columns in one statement. Nil ids are replaced with
// new ids generated in slice order, which is also the column order.
func (tm *TableManager) CreateColumns(ctx context.Context, tenantID tablecommon.TenantId, columns []models.Column) apperrors.Error {
	if tenantID == "" {
		return dberror.ErrMissingTenantID
	}
	if len(columns) == 0 {
		return nil
	}
	fresh := uuid.NewBatch(len(columns))
	ids := make([]string, len(columns))
	tabIDs := make([]string, len(columns))
	names := make([]string, len(columns))
	kinds := make([]string, len(columns))
	for i := range columns {
		if columns[i].ColumnID == uuid.Nil {
			columns[i].ColumnID = fresh[i]
		}
		columns[i].TenantID = tenantID
		ids[i] = columns[i].ColumnID.String()
		tabIDs[i] = columns[i].TabID.String()
		names[i] = columns[i].Name
		kinds[i] = string(columns[i].Kind)
	}

	query := `
		INSERT INTO table_columns (column_id, tenant_id, tab_id, name, data_type)
		SELECT u.column_id, $1, u.tab_id, u.name, u.data_type
		FROM unnest($2::uuid[], $3::uuid[], $4::text[], $5::text[]) WITH ORDINALITY
			AS u(column_id, tab_id, name, data_type, ord)
		ORDER BY u.ord
		RETURNING column_id, created_at;`
	rows, err := tm.conn().QueryContext(ctx, query, tenantID, pq.Array(ids), pq.Array(tabIDs), pq.Array(names), pq.Array(kinds))
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Int("count", len(columns)).Msg("failed to insert columns")
		return mapError(err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]int, len(columns))
	for i := range columns {
		byID[columns[i].ColumnID] = i
	}
	for rows.Next() {
		var id uuid.UUID
		var c models.Column
		if err := rows.Scan(&id, &c.CreatedAt); err != nil {
			return mapError(err)
		}
		if i, ok := byID[id]; ok {
			columns[i].CreatedAt = c.CreatedAt
		}
	}
	if err := rows.Err(); err != nil {
		log.Ctx(ctx).Error().Err(err).Int("count", len(columns)).Msg("failed to insert columns")
		return mapError(err)
	}
	return nil
}

const columnSelect = `
		SELECT column_id, tenant_id, tab_id, name, data_type, created_at
		FROM table_columns`

func scanColumn(row interface{ Scan(...any) error }, c *models.Column) error {
	var kind string
	if err := row.Scan(&c.ColumnID, &c.TenantID, &c.TabID, &c.Name, &kind, &c.CreatedAt); err != nil {
		return err
	}
	c.Kind = cellvalue.Kind(kind)
	return nil
}

func (tm *TableManager) GetColumn(ctx context.Context, tenantID tablecommon.TenantId, columnID uuid.UUID) (*models.Column, apperrors.Error) {
	return tm.getColumn(ctx, columnSelect+` WHERE tenant_id = $1 AND column_id = $2;`, tenantID, columnID)
}

// LockColumn reads the column and locks its row until the transaction
// ends: exclusively for a kind migration, shared for cell writes. Cell
// writes therefore never interleave with a migration of their column.
func (tm *TableManager) LockColumn(ctx context.Context, tenantID tablecommon.TenantId, columnID uuid.UUID, exclusive bool) (*models.Column, apperrors.Error) {
	lock := " FOR SHARE"
	if exclusive {
		lock = " FOR UPDATE"
	}
	return tm.getColumn(ctx, columnSelect+` WHERE tenant_id = $1 AND column_id = $2`+lock+`;`, tenantID, columnID)
}

func (tm *TableManager) getColumn(ctx context.Context, query string, tenantID tablecommon.TenantId, columnID uuid.UUID) (*models.Column, apperrors.Error) {
	c := &models.Column{}
	if err := scanColumn(tm.conn().QueryRowContext(ctx, query, tenantID, columnID), c); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("column not found")
		}
		log.Ctx(ctx).Error().Err(err).Str("column_id", columnID.String()).Msg("failed to get column")
		return nil, mapError(err)
	}
	return c, nil
}

// ListColumns returns the columns of a tab in creation order.
func (tm *TableManager) ListColumns(ctx context.Context, tenantID tablecommon.TenantId, tabID uuid.UUID) ([]models.Column, apperrors.Error) {
	query := columnSelect + `
		WHERE tenant_id = $1 AND tab_id = $2
		ORDER BY created_at, column_id;`
	rows, err := tm.conn().QueryContext(ctx, query, tenantID, tabID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("tab_id", tabID.String()).Msg("failed to list columns")
		return nil, mapError(err)
	}
	defer rows.Close()

	var columns []models.Column
	for rows.Next() {
		var c models.Column
		if err := scanColumn(rows, &c); err != nil {
			return nil, mapError(err)
		}
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return columns, nil
}

func (tm *TableManager) UpdateColumnName(ctx context.Context, tenantID tablecommon.TenantId, columnID uuid.UUID, name string) apperrors.Error {
	query := `UPDATE table_columns SET name = $3 WHERE tenant_id = $1 AND column_id = $2;`
	return tm.execOne(ctx, "column", query, tenantID, columnID, name)
}

func (tm *TableManager) SetColumnKind(ctx context.Context, tenantID tablecommon.TenantId, columnID uuid.UUID, kind cellvalue.Kind) apperrors.Error {
	query := `UPDATE table_columns SET data_type = $3 WHERE tenant_id = $1 AND column_id = $2;`
	return tm.execOne(ctx, "column", query, tenantID, columnID, string(kind))
}

func (tm *TableManager) DeleteColumn(ctx context.Context, tenantID tablecommon.TenantId, columnID uuid.UUID) (bool, apperrors.Error) {
	return tm.deleteOne(ctx, `DELETE FROM table_columns WHERE tenant_id = $1 AND column_id = $2;`, tenantID, columnID)
}

// execOne runs an update that must touch exactly one row.
func (tm *TableManager) execOne(ctx context.Context, what, query string, args ...any) apperrors.Error {
	result, err := tm.conn().ExecContext(ctx, query, args...)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("entity", what).Msg("failed to update")
		return mapError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		return dberror.ErrNotFound.Msg(what + " not found")
	}
	return nil
}

func (tm *TableManager) deleteOne(ctx context.Context, query string, tenantID tablecommon.TenantId, id uuid.UUID) (bool, apperrors.Error) {
	return deleteOne(ctx, tm.conn(), query, tenantID, id)
}

func deleteOne(ctx context.Context, q querier, query string, tenantID tablecommon.TenantId, id uuid.UUID) (bool, apperrors.Error) {
	result, err := q.ExecContext(ctx, query, tenantID, id)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("id", id.String()).Msg("failed to delete")
		return false, mapError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, mapError(err)
	}
	return n > 0, nil
}
