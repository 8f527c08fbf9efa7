// Package db defines the data access interfaces of the table service and
// hands out tenant scoped database handles.
//
// Four managers split the surface by concern:
//   - TenantManager: the isolation roots
//   - TableManager: tables, tabs and columns
//   - CellManager: records and cells, including the set based bulk paths
//   - ShareManager: table shares
//
// ConnectionManager runs a function inside one transaction and returns the
// connection to the pool.
package db

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/floorbook/floorbook/internal/common/apperrors"
	"github.com/floorbook/floorbook/internal/common/uuid"
	"github.com/floorbook/floorbook/internal/tablesrv/cellvalue"
	"github.com/floorbook/floorbook/internal/tablesrv/config"
	"github.com/floorbook/floorbook/internal/tablesrv/db/dberror"
	"github.com/floorbook/floorbook/internal/tablesrv/db/dbmanager"
	"github.com/floorbook/floorbook/internal/tablesrv/db/models"
	"github.com/floorbook/floorbook/internal/tablesrv/db/postgresql"
	"github.com/floorbook/floorbook/internal/tablesrv/tablecommon"
)

// TenantManager manages tenants. Tenants are created by the admin tool and
// are not tenant scoped themselves.
type TenantManager interface {
	CreateTenant(ctx context.Context, tenant *models.Tenant) apperrors.Error
	GetTenant(ctx context.Context, tenantID tablecommon.TenantId) (*models.Tenant, apperrors.Error)
	DeleteTenant(ctx context.Context, tenantID tablecommon.TenantId) apperrors.Error
}

// TableManager manages the schema entities of a table. Every method filters
// on tenantID; a row of another tenant reads as missing.
type TableManager interface {
	// Table
	CreateTable(ctx context.Context, table *models.Table) apperrors.Error
	GetTable(ctx context.Context, tenantID tablecommon.TenantId, tableID uuid.UUID) (*models.Table, apperrors.Error)
	ListTablesForUser(ctx context.Context, tenantID tablecommon.TenantId, userID tablecommon.UserId) ([]models.Table, apperrors.Error)
	UpdateTableName(ctx context.Context, tenantID tablecommon.TenantId, tableID uuid.UUID, name string) apperrors.Error
	DeleteTable(ctx context.Context, tenantID tablecommon.TenantId, tableID uuid.UUID) (bool, apperrors.Error)

	// Tab
	CreateTab(ctx context.Context, tab *models.Tab) apperrors.Error
	GetTab(ctx context.Context, tenantID tablecommon.TenantId, tabID uuid.UUID) (*models.Tab, apperrors.Error)
	ListTabs(ctx context.Context, tenantID tablecommon.TenantId, tableID uuid.UUID) ([]models.Tab, apperrors.Error)
	UpdateTabName(ctx context.Context, tenantID tablecommon.TenantId, tabID uuid.UUID, name string) apperrors.Error
	DeleteTab(ctx context.Context, tenantID tablecommon.TenantId, tabID uuid.UUID) (bool, apperrors.Error)

	// Column
	CreateColumns(ctx context.Context, tenantID tablecommon.TenantId, columns []models.Column) apperrors.Error
	GetColumn(ctx context.Context, tenantID tablecommon.TenantId, columnID uuid.UUID) (*models.Column, apperrors.Error)
	LockColumn(ctx context.Context, tenantID tablecommon.TenantId, columnID uuid.UUID, exclusive bool) (*models.Column, apperrors.Error)
	ListColumns(ctx context.Context, tenantID tablecommon.TenantId, tabID uuid.UUID) ([]models.Column, apperrors.Error)
	UpdateColumnName(ctx context.Context, tenantID tablecommon.TenantId, columnID uuid.UUID, name string) apperrors.Error
	SetColumnKind(ctx context.Context, tenantID tablecommon.TenantId, columnID uuid.UUID, kind cellvalue.Kind) apperrors.Error
	DeleteColumn(ctx context.Context, tenantID tablecommon.TenantId, columnID uuid.UUID) (bool, apperrors.Error)
}

// CellManager manages records and cells.
type CellManager interface {
	// Record
	CreateRecord(ctx context.Context, tenantID tablecommon.TenantId, tabID, recordID uuid.UUID) (*models.Record, apperrors.Error)
	GetRecord(ctx context.Context, tenantID tablecommon.TenantId, recordID uuid.UUID) (*models.Record, apperrors.Error)
	ListRecords(ctx context.Context, tenantID tablecommon.TenantId, tabID uuid.UUID) ([]models.Record, apperrors.Error)
	DeleteRecord(ctx context.Context, tenantID tablecommon.TenantId, recordID uuid.UUID) (bool, apperrors.Error)
	BulkCreateRecords(ctx context.Context, tenantID tablecommon.TenantId, tabID uuid.UUID, recordIDs []uuid.UUID) ([]models.Record, apperrors.Error)

	// Cell
	GetCell(ctx context.Context, tenantID tablecommon.TenantId, tabID, columnID, recordID uuid.UUID) (*models.Cell, apperrors.Error)
	ListCellsForRecord(ctx context.Context, tenantID tablecommon.TenantId, recordID uuid.UUID) ([]models.Cell, apperrors.Error)
	ListCellsByColumn(ctx context.Context, tenantID tablecommon.TenantId, tabID, columnID uuid.UUID) ([]models.Cell, apperrors.Error)
	ListCellsByTab(ctx context.Context, tenantID tablecommon.TenantId, tabID uuid.UUID) ([]models.OrderedCell, apperrors.Error)
	UpsertCell(ctx context.Context, cell *models.Cell) apperrors.Error
	BulkInsertCells(ctx context.Context, tenantID tablecommon.TenantId, tabID uuid.UUID, cells []models.Cell) apperrors.Error
	BulkUpdateCellSlots(ctx context.Context, tenantID tablecommon.TenantId, cells []models.Cell) apperrors.Error
}

// ShareManager manages table shares.
type ShareManager interface {
	CreateShares(ctx context.Context, tenantID tablecommon.TenantId, tableID uuid.UUID, userIDs []tablecommon.UserId) ([]models.Share, apperrors.Error)
	ListShares(ctx context.Context, tenantID tablecommon.TenantId, tableID uuid.UUID) ([]models.Share, apperrors.Error)
	DeleteShares(ctx context.Context, tenantID tablecommon.TenantId, tableID uuid.UUID, userIDs []tablecommon.UserId) (int64, apperrors.Error)
	ShareExists(ctx context.Context, tenantID tablecommon.TenantId, tableID uuid.UUID, userID tablecommon.UserId) (bool, apperrors.Error)
}

// ConnectionManager owns the connection behind a Database.
type ConnectionManager interface {
	// Transact runs fn inside one transaction. fn receives a Database bound
	// to the transaction; the transaction commits when fn returns nil and
	// rolls back otherwise. Nested calls join the outer transaction.
	Transact(ctx context.Context, fn func(tx Database) apperrors.Error) apperrors.Error
	// Close returns the connection to the pool.
	Close(ctx context.Context)
}

// Database combines all managers into a single interface.
type Database interface {
	TenantManager
	TableManager
	CellManager
	ShareManager
	ConnectionManager
}

// Scope_TenantId is the connection setting row level security policies
// compare tenant_id against.
const Scope_TenantId string = "floorbook.curr_tenantid"

var configuredScopes = []string{
	Scope_TenantId,
}

var pool dbmanager.ScopedDb

// Init creates the connection pool from the loaded configuration.
func Init(ctx context.Context) error {
	cfg := config.Config()
	if cfg == nil {
		return dberror.ErrNotConnected.Msg("configuration not loaded")
	}
	pg, err := dbmanager.NewScopedDb(ctx, "postgresql", configuredScopes, dbmanager.Options{
		DSN:              cfg.DSN(),
		MaxOpenConns:     cfg.DB.MaxOpenConns,
		StatementTimeout: cfg.DB.StatementTimeout,
		LockTimeout:      cfg.DB.LockTimeout,
	})
	if err != nil {
		return dberror.ErrNotConnected.Err(err)
	}
	pool = pg
	return nil
}

// Shutdown closes the pool.
func Shutdown() {
	if pool != nil {
		pool.Close()
		pool = nil
	}
}

// Conn returns a database handle whose connection is scoped to tenantID.
// An empty tenantID yields an unscoped handle, which only sees tenants.
// The caller must Close the handle.
func Conn(ctx context.Context, tenantID tablecommon.TenantId) (Database, apperrors.Error) {
	if pool == nil {
		return nil, dberror.ErrNotConnected
	}
	conn, err := pool.Conn(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("unable to get db connection")
		return nil, dberror.ErrDatabase.Err(err)
	}
	if tenantID != "" {
		if err := conn.AddScope(ctx, Scope_TenantId, string(tenantID)); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("tenant_id", string(tenantID)).Msg("unable to set tenant scope")
			conn.Close(ctx)
			return nil, dberror.ErrDatabase.Err(err)
		}
	}
	return newDatabase(postgresql.NewFloorbookDb(conn)), nil
}

// ApplySchema creates or updates the relational schema.
func ApplySchema(ctx context.Context) apperrors.Error {
	if pool == nil {
		return dberror.ErrNotConnected
	}
	conn, err := pool.Conn(ctx)
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	defer conn.Close(ctx)
	return postgresql.NewFloorbookDb(conn).Conn.ApplySchema(ctx)
}

type floorbookDb struct {
	TenantManager
	TableManager
	CellManager
	ShareManager
	*connectionManager
}

func newDatabase(m *postgresql.Managers) *floorbookDb {
	d := &floorbookDb{
		TenantManager: m.Tenants,
		TableManager:  m.Tables,
		CellManager:   m.Cells,
		ShareManager:  m.Shares,
	}
	d.connectionManager = &connectionManager{cm: m.Conn, self: d}
	return d
}

type connectionManager struct {
	cm   *postgresql.ConnectionManager
	self Database
}

func (c *connectionManager) Transact(ctx context.Context, fn func(tx Database) apperrors.Error) (err apperrors.Error) {
	if c.cm.InTx() {
		return fn(c.self)
	}
	txm, err := c.cm.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			txm.Conn.Rollback(ctx)
		}
	}()

	if err = fn(newDatabase(txm)); err != nil {
		return err
	}
	return txm.Conn.Commit(ctx)
}

func (c *connectionManager) Close(ctx context.Context) {
	c.cm.Close(ctx)
}
