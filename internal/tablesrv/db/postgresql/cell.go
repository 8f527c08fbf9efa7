package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/floorbook/floorbook/internal/common/apperrors"
	"github.com/floorbook/floorbook/internal/common/uuid"
	"github.com/floorbook/floorbook/internal/tablesrv/cellvalue"
	"github.com/floorbook/floorbook/internal/tablesrv/db/dberror"
	"github.com/floorbook/floorbook/internal/tablesrv/db/models"
	"github.com/floorbook/floorbook/internal/tablesrv/tablecommon"
)

// reserveSeq advances the tab's record counter by n and returns the first
// sequence number of the reserved block. The update locks the tab row, so
// concurrent inserts into one tab receive disjoint, ordered blocks.
func (cm *CellManager) reserveSeq(ctx context.Context, tenantID tablecommon.TenantId, tabID uuid.UUID, n int) (int64, apperrors.Error) {
	query := `
		UPDATE table_tabs SET record_counter = record_counter + $3
		WHERE tenant_id = $1 AND tab_id = $2
		RETURNING record_counter - $3 + 1;`
	var first int64
	err := cm.conn().QueryRowContext(ctx, query, tenantID, tabID, n).Scan(&first)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, dberror.ErrNotFound.Msg("tab not found")
		}
		log.Ctx(ctx).Error().Err(err).Str("tab_id", tabID.String()).Msg("failed to reserve record sequence")
		return 0, mapError(err)
	}
	return first, nil
}

// CreateRecord appends a record with the given id to the tab. Returns
// ErrAlreadyExists when the id is taken.
func (cm *CellManager) CreateRecord(ctx context.Context, tenantID tablecommon.TenantId, tabID, recordID uuid.UUID) (*models.Record, apperrors.Error) {
	if tenantID == "" {
		return nil, dberror.ErrMissingTenantID
	}
	seq, err := cm.reserveSeq(ctx, tenantID, tabID, 1)
	if err != nil {
		return nil, err
	}
	query := `
		INSERT INTO table_records (record_id, tenant_id, tab_id, seq)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, record_id) DO NOTHING
		RETURNING created_at;`
	r := &models.Record{RecordID: recordID, TenantID: tenantID, TabID: tabID, Seq: seq}
	errdb := cm.conn().QueryRowContext(ctx, query, recordID, tenantID, tabID, seq).Scan(&r.CreatedAt)
	if errdb != nil {
		if errors.Is(errdb, sql.ErrNoRows) {
			return nil, dberror.ErrAlreadyExists.Msg("record already exists")
		}
		log.Ctx(ctx).Error().Err(errdb).Str("record_id", recordID.String()).Msg("failed to insert record")
		return nil, mapError(errdb)
	}
	return r, nil
}

func (cm *CellManager) GetRecord(ctx context.Context, tenantID tablecommon.TenantId, recordID uuid.UUID) (*models.Record, apperrors.Error) {
	query := `
		SELECT record_id, tenant_id, tab_id, seq, created_at
		FROM table_records
		WHERE tenant_id = $1 AND record_id = $2;`
	r := &models.Record{}
	err := cm.conn().QueryRowContext(ctx, query, tenantID, recordID).Scan(&r.RecordID, &r.TenantID, &r.TabID, &r.Seq, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("record not found")
		}
		log.Ctx(ctx).Error().Err(err).Str("record_id", recordID.String()).Msg("failed to get record")
		return nil, mapError(err)
	}
	return r, nil
}

// ListRecords returns the records of a tab in sequence order.
func (cm *CellManager) ListRecords(ctx context.Context, tenantID tablecommon.TenantId, tabID uuid.UUID) ([]models.Record, apperrors.Error) {
	query := `
		SELECT record_id, tenant_id, tab_id, seq, created_at
		FROM table_records
		WHERE tenant_id = $1 AND tab_id = $2
		ORDER BY seq;`
	rows, err := cm.conn().QueryContext(ctx, query, tenantID, tabID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("tab_id", tabID.String()).Msg("failed to list records")
		return nil, mapError(err)
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		var r models.Record
		if err := rows.Scan(&r.RecordID, &r.TenantID, &r.TabID, &r.Seq, &r.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return records, nil
}

// DeleteRecord removes the record and its cells.
func (cm *CellManager) DeleteRecord(ctx context.Context, tenantID tablecommon.TenantId, recordID uuid.UUID) (bool, apperrors.Error) {
	return deleteOne(ctx, cm.conn(), `DELETE FROM table_records WHERE tenant_id = $1 AND record_id = $2;`, tenantID, recordID)
}

// BulkCreateRecords appends records with the given ids in slice order, in
// one statement.
func (cm *CellManager) BulkCreateRecords(ctx context.Context, tenantID tablecommon.TenantId, tabID uuid.UUID, recordIDs []uuid.UUID) ([]models.Record, apperrors.Error) {
	if tenantID == "" {
		return nil, dberror.ErrMissingTenantID
	}
	if len(recordIDs) == 0 {
		return nil, nil
	}
	first, err := cm.reserveSeq(ctx, tenantID, tabID, len(recordIDs))
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO table_records (record_id, tenant_id, tab_id, seq)
		SELECT u.record_id, $1, $2, $3 + u.ord - 1
		FROM unnest($4::uuid[]) WITH ORDINALITY AS u(record_id, ord);`
	_, errdb := cm.conn().ExecContext(ctx, query, tenantID, tabID, first, pq.Array(uuid.Strings(recordIDs)))
	if errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Str("tab_id", tabID.String()).Int("count", len(recordIDs)).Msg("failed to insert records")
		return nil, mapError(errdb)
	}

	records := make([]models.Record, len(recordIDs))
	for i, id := range recordIDs {
		records[i] = models.Record{RecordID: id, TenantID: tenantID, TabID: tabID, Seq: first + int64(i)}
	}
	return records, nil
}

const cellColumns = `data_id, tenant_id, tab_id, column_id, record_id,
		text_value, num_value, bool_value, date_value, file_path, sku_value, lot_number, user_id`

func cellDest(c *models.Cell) []any {
	return []any{
		&c.CellID, &c.TenantID, &c.TabID, &c.ColumnID, &c.RecordID,
		&c.Text, &c.Num, &c.Bool, &c.Date, &c.FilePath, &c.SKU, &c.LotNumber, &c.UserID,
	}
}

func (cm *CellManager) GetCell(ctx context.Context, tenantID tablecommon.TenantId, tabID, columnID, recordID uuid.UUID) (*models.Cell, apperrors.Error) {
	query := `SELECT ` + cellColumns + `
		FROM table_data
		WHERE tenant_id = $1 AND tab_id = $2 AND column_id = $3 AND record_id = $4;`
	c := &models.Cell{}
	err := cm.conn().QueryRowContext(ctx, query, tenantID, tabID, columnID, recordID).Scan(cellDest(c)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("cell not found")
		}
		log.Ctx(ctx).Error().Err(err).Str("record_id", recordID.String()).Msg("failed to get cell")
		return nil, mapError(err)
	}
	return c, nil
}

// ListCellsForRecord returns every cell of a record.
func (cm *CellManager) ListCellsForRecord(ctx context.Context, tenantID tablecommon.TenantId, recordID uuid.UUID) ([]models.Cell, apperrors.Error) {
	query := `SELECT ` + cellColumns + `
		FROM table_data
		WHERE tenant_id = $1 AND record_id = $2;`
	return cm.queryCells(ctx, query, tenantID, recordID)
}

// ListCellsByColumn returns every cell of a column.
func (cm *CellManager) ListCellsByColumn(ctx context.Context, tenantID tablecommon.TenantId, tabID, columnID uuid.UUID) ([]models.Cell, apperrors.Error) {
	query := `SELECT ` + cellColumns + `
		FROM table_data
		WHERE tenant_id = $1 AND tab_id = $2 AND column_id = $3;`
	return cm.queryCells(ctx, query, tenantID, tabID, columnID)
}

func (cm *CellManager) queryCells(ctx context.Context, query string, args ...any) ([]models.Cell, apperrors.Error) {
	rows, err := cm.conn().QueryContext(ctx, query, args...)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list cells")
		return nil, mapError(err)
	}
	defer rows.Close()

	var cells []models.Cell
	for rows.Next() {
		var c models.Cell
		if err := rows.Scan(cellDest(&c)...); err != nil {
			return nil, mapError(err)
		}
		cells = append(cells, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return cells, nil
}

// ListCellsByTab returns the cells of a tab joined with their record's
// sequence, in sequence order.
func (cm *CellManager) ListCellsByTab(ctx context.Context, tenantID tablecommon.TenantId, tabID uuid.UUID) ([]models.OrderedCell, apperrors.Error) {
	query := `
		SELECT d.data_id, d.tenant_id, d.tab_id, d.column_id, d.record_id,
			d.text_value, d.num_value, d.bool_value, d.date_value, d.file_path, d.sku_value, d.lot_number, d.user_id,
			r.seq
		FROM table_data d
		JOIN table_records r ON r.tenant_id = d.tenant_id AND r.record_id = d.record_id
		WHERE d.tenant_id = $1 AND d.tab_id = $2
		ORDER BY r.seq, d.column_id;`
	rows, err := cm.conn().QueryContext(ctx, query, tenantID, tabID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("tab_id", tabID.String()).Msg("failed to list tab cells")
		return nil, mapError(err)
	}
	defer rows.Close()

	var cells []models.OrderedCell
	for rows.Next() {
		var c models.OrderedCell
		if err := rows.Scan(append(cellDest(&c.Cell), &c.Seq)...); err != nil {
			return nil, mapError(err)
		}
		cells = append(cells, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return cells, nil
}

// UpsertCell writes the cell at (tab, column, record), replacing every slot
// of an existing cell. The stored cell id is written back to c.
func (cm *CellManager) UpsertCell(ctx context.Context, c *models.Cell) apperrors.Error {
	if c.TenantID == "" {
		return dberror.ErrMissingTenantID
	}
	if c.CellID == uuid.Nil {
		c.CellID = uuid.New()
	}
	query := `
		INSERT INTO table_data (data_id, tenant_id, tab_id, column_id, record_id,
			text_value, num_value, bool_value, date_value, file_path, sku_value, lot_number, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (tenant_id, tab_id, column_id, record_id) DO UPDATE SET
			text_value = EXCLUDED.text_value,
			num_value = EXCLUDED.num_value,
			bool_value = EXCLUDED.bool_value,
			date_value = EXCLUDED.date_value,
			file_path = EXCLUDED.file_path,
			sku_value = EXCLUDED.sku_value,
			lot_number = EXCLUDED.lot_number,
			user_id = EXCLUDED.user_id
		RETURNING data_id;`
	err := cm.conn().QueryRowContext(ctx, query,
		c.CellID, c.TenantID, c.TabID, c.ColumnID, c.RecordID,
		c.Text, c.Num, c.Bool, dateParam(c.Date), c.FilePath, c.SKU, c.LotNumber, c.UserID,
	).Scan(&c.CellID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("column_id", c.ColumnID.String()).Str("record_id", c.RecordID.String()).Msg("failed to upsert cell")
		return mapError(err)
	}
	return nil
}

// slotArrays holds the slot values of many cells as parallel arrays.
type slotArrays struct {
	text, filePath, sku, lot, user, date []sql.NullString
	num                                  []sql.NullFloat64
	boolean                              []sql.NullBool
}

func newSlotArrays(n int) *slotArrays {
	return &slotArrays{
		text:     make([]sql.NullString, 0, n),
		filePath: make([]sql.NullString, 0, n),
		sku:      make([]sql.NullString, 0, n),
		lot:      make([]sql.NullString, 0, n),
		user:     make([]sql.NullString, 0, n),
		date:     make([]sql.NullString, 0, n),
		num:      make([]sql.NullFloat64, 0, n),
		boolean:  make([]sql.NullBool, 0, n),
	}
}

func (a *slotArrays) add(s cellvalue.Slots) {
	a.text = append(a.text, s.Text)
	a.num = append(a.num, s.Num)
	a.boolean = append(a.boolean, s.Bool)
	a.date = append(a.date, dateParam(s.Date))
	a.filePath = append(a.filePath, s.FilePath)
	a.sku = append(a.sku, s.SKU)
	a.lot = append(a.lot, s.LotNumber)
	a.user = append(a.user, s.UserID)
}

// args returns the arrays in slot column order.
func (a *slotArrays) args() []any {
	return []any{
		pq.Array(a.text), pq.Array(a.num), pq.Array(a.boolean), pq.Array(a.date),
		pq.Array(a.filePath), pq.Array(a.sku), pq.Array(a.lot), pq.Array(a.user),
	}
}

// dateParam sends dates as calendar day text so no time zone conversion
// can move them.
func dateParam(t sql.NullTime) sql.NullString {
	if !t.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Time.UTC().Format(time.DateOnly), Valid: true}
}

// BulkInsertCells inserts cells for one tab in a single statement. Missing
// cell ids are generated.
func (cm *CellManager) BulkInsertCells(ctx context.Context, tenantID tablecommon.TenantId, tabID uuid.UUID, cells []models.Cell) apperrors.Error {
	if tenantID == "" {
		return dberror.ErrMissingTenantID
	}
	if len(cells) == 0 {
		return nil
	}
	fresh := uuid.NewBatch(len(cells))
	ids := make([]string, len(cells))
	columnIDs := make([]string, len(cells))
	recordIDs := make([]string, len(cells))
	slots := newSlotArrays(len(cells))
	for i := range cells {
		if cells[i].CellID == uuid.Nil {
			cells[i].CellID = fresh[i]
		}
		cells[i].TenantID = tenantID
		cells[i].TabID = tabID
		ids[i] = cells[i].CellID.String()
		columnIDs[i] = cells[i].ColumnID.String()
		recordIDs[i] = cells[i].RecordID.String()
		slots.add(cells[i].Slots)
	}

	query := `
		INSERT INTO table_data (data_id, tenant_id, tab_id, column_id, record_id,
			text_value, num_value, bool_value, date_value, file_path, sku_value, lot_number, user_id)
		SELECT u.data_id, $1, $2, u.column_id, u.record_id,
			u.text_value, u.num_value, u.bool_value, u.date_value, u.file_path, u.sku_value, u.lot_number, u.user_id
		FROM unnest($3::uuid[], $4::uuid[], $5::uuid[],
			$6::text[], $7::float8[], $8::bool[], $9::date[], $10::text[], $11::text[], $12::text[], $13::text[])
			AS u(data_id, column_id, record_id,
				text_value, num_value, bool_value, date_value, file_path, sku_value, lot_number, user_id);`
	args := append([]any{tenantID, tabID, pq.Array(ids), pq.Array(columnIDs), pq.Array(recordIDs)}, slots.args()...)
	if _, err := cm.conn().ExecContext(ctx, query, args...); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("tab_id", tabID.String()).Int("count", len(cells)).Msg("failed to bulk insert cells")
		return mapError(err)
	}
	return nil
}

// BulkUpdateCellSlots rewrites the slots of existing cells, matched by cell
// id, in a single statement.
func (cm *CellManager) BulkUpdateCellSlots(ctx context.Context, tenantID tablecommon.TenantId, cells []models.Cell) apperrors.Error {
	if tenantID == "" {
		return dberror.ErrMissingTenantID
	}
	if len(cells) == 0 {
		return nil
	}
	ids := make([]string, len(cells))
	slots := newSlotArrays(len(cells))
	for i := range cells {
		ids[i] = cells[i].CellID.String()
		slots.add(cells[i].Slots)
	}

	query := `
		UPDATE table_data d SET
			text_value = u.text_value,
			num_value = u.num_value,
			bool_value = u.bool_value,
			date_value = u.date_value,
			file_path = u.file_path,
			sku_value = u.sku_value,
			lot_number = u.lot_number,
			user_id = u.user_id
		FROM unnest($2::uuid[],
			$3::text[], $4::float8[], $5::bool[], $6::date[], $7::text[], $8::text[], $9::text[], $10::text[])
			AS u(data_id, text_value, num_value, bool_value, date_value, file_path, sku_value, lot_number, user_id)
		WHERE d.tenant_id = $1 AND d.data_id = u.data_id;`
	args := append([]any{tenantID, pq.Array(ids)}, slots.args()...)
	result, err := cm.conn().ExecContext(ctx, query, args...)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Int("count", len(cells)).Msg("failed to bulk update cells")
		return mapError(err)
	}
	if n, err := result.RowsAffected(); err == nil && n != int64(len(cells)) {
		log.Ctx(ctx).Error().Int64("updated", n).Int("expected", len(cells)).Msg("bulk update touched an unexpected number of cells")
		return dberror.ErrNotFound.Msg("cell not found")
	}
	return nil
}
