package models

import (
	"time"

	"github.com/floorbook/floorbook/internal/common/uuid"
	"github.com/floorbook/floorbook/internal/tablesrv/cellvalue"
	"github.com/floorbook/floorbook/internal/tablesrv/tablecommon"
)

// Table is the root of a user defined grid.
type Table struct {
	TableID   uuid.UUID            `db:"table_id" json:"table_id"`
	TenantID  tablecommon.TenantId `db:"tenant_id" json:"-"`
	Name      string               `db:"name" json:"name"`
	CreatedBy tablecommon.UserId   `db:"created_by" json:"created_by"`
	CreatedAt time.Time            `db:"created_at" json:"created_at"`
}

// Tab is a named sheet of a table. TabIndex is the tab count at creation
// time and is never reused.
type Tab struct {
	TabID     uuid.UUID            `db:"tab_id" json:"tab_id"`
	TenantID  tablecommon.TenantId `db:"tenant_id" json:"-"`
	TableID   uuid.UUID            `db:"table_id" json:"table_id"`
	Name      string               `db:"name" json:"name"`
	TabIndex  int                  `db:"tab_index" json:"tab_index"`
	CreatedAt time.Time            `db:"created_at" json:"created_at"`
}

// Column declares the kind of every cell beneath it. Columns are ordered by
// creation.
type Column struct {
	ColumnID  uuid.UUID            `db:"column_id" json:"column_id"`
	TenantID  tablecommon.TenantId `db:"tenant_id" json:"-"`
	TabID     uuid.UUID            `db:"tab_id" json:"tab_id"`
	Name      string               `db:"name" json:"name"`
	Kind      cellvalue.Kind       `db:"data_type" json:"data_type"`
	CreatedAt time.Time            `db:"created_at" json:"created_at"`
}

// Record is one row of a tab. Seq orders records within the tab.
type Record struct {
	RecordID  uuid.UUID            `db:"record_id" json:"record_id"`
	TenantID  tablecommon.TenantId `db:"tenant_id" json:"-"`
	TabID     uuid.UUID            `db:"tab_id" json:"tab_id"`
	Seq       int64                `db:"seq" json:"seq"`
	CreatedAt time.Time            `db:"created_at" json:"created_at"`
}

// Cell is the value at (tab, column, record). Only the slot of the
// column's kind is populated.
type Cell struct {
	CellID   uuid.UUID            `db:"data_id" json:"data_id"`
	TenantID tablecommon.TenantId `db:"tenant_id" json:"-"`
	TabID    uuid.UUID            `db:"tab_id" json:"tab_id"`
	ColumnID uuid.UUID            `db:"column_id" json:"column_id"`
	RecordID uuid.UUID            `db:"record_id" json:"record_id"`
	cellvalue.Slots
}

// Value reads the cell through the kind of its column.
func (c *Cell) Value(k cellvalue.Kind) cellvalue.Value {
	return cellvalue.FromSlots(k, c.Slots)
}

// OrderedCell is a cell together with the sequence of its record, as
// returned when reading a tab.
type OrderedCell struct {
	Cell
	Seq int64 `db:"seq"`
}

// Share grants a user access to a table.
type Share struct {
	ShareID  uuid.UUID            `db:"share_id" json:"share_id"`
	TenantID tablecommon.TenantId `db:"tenant_id" json:"-"`
	TableID  uuid.UUID            `db:"table_id" json:"table_id"`
	UserID   tablecommon.UserId   `db:"user_id" json:"user_id"`
	SharedAt time.Time            `db:"shared_at" json:"shared_at"`
}
