// Package tablemanager is the table engine: it defines and mutates the
// shape of a table, reads and writes its cells, runs bulk inserts and
// column type migrations, and gates every operation on the table's shares.
//
// Every operation takes the acting tablecommon.Actor explicitly, runs on one
// tenant scoped connection inside one transaction and releases the
// connection before returning.
package tablemanager

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/floorbook/floorbook/internal/common/apperrors"
	"github.com/floorbook/floorbook/internal/common/uuid"
	"github.com/floorbook/floorbook/internal/tablesrv/blobstore"
	"github.com/floorbook/floorbook/internal/tablesrv/config"
	"github.com/floorbook/floorbook/internal/tablesrv/db"
	"github.com/floorbook/floorbook/internal/tablesrv/db/dberror"
	"github.com/floorbook/floorbook/internal/tablesrv/db/models"
	"github.com/floorbook/floorbook/internal/tablesrv/tablecommon"
)

// DefaultMaxBulkRows is used when no configuration is loaded.
const DefaultMaxBulkRows = 50000

// Connector hands out a database handle scoped to a tenant.
type Connector func(ctx context.Context, tenantID tablecommon.TenantId) (db.Database, apperrors.Error)

// Engine runs table operations.
type Engine struct {
	connect     Connector
	blobs       blobstore.Store
	maxBulkRows int
}

// Option configures an Engine.
type Option func(*Engine)

// WithConnector replaces db.Conn as the source of database handles.
func WithConnector(c Connector) Option {
	return func(e *Engine) {
		e.connect = c
	}
}

// WithBlobStore sets the store holding file cell content.
func WithBlobStore(s blobstore.Store) Option {
	return func(e *Engine) {
		e.blobs = s
	}
}

// WithMaxBulkRows bounds the rows accepted by one bulk insert. Zero or less
// removes the bound.
func WithMaxBulkRows(n int) Option {
	return func(e *Engine) {
		e.maxBulkRows = n
	}
}

// New creates an engine. Without options it uses db.Conn and the engine
// section of the loaded configuration.
func New(opts ...Option) *Engine {
	e := &Engine{
		connect:     db.Conn,
		maxBulkRows: DefaultMaxBulkRows,
	}
	if cfg := config.Config(); cfg != nil && cfg.Engine.MaxBulkRows > 0 {
		e.maxBulkRows = cfg.Engine.MaxBulkRows
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// transact runs fn in one transaction on a connection scoped to the actor's
// tenant.
func (e *Engine) transact(ctx context.Context, actor tablecommon.Actor, fn func(tx db.Database) apperrors.Error) apperrors.Error {
	if err := checkActor(actor); err != nil {
		return err
	}
	conn, err := e.connect(ctx, actor.TenantID)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	return conn.Transact(ctx, fn)
}

// authorizeTable resolves a table within the actor's tenant and requires a
// share for the actor.
func authorizeTable(ctx context.Context, tx db.Database, actor tablecommon.Actor, tableID uuid.UUID) (*models.Table, apperrors.Error) {
	table, err := tx.GetTable(ctx, actor.TenantID, tableID)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrTableNotFound.Err(err)
		}
		return nil, err
	}
	shared, err := tx.ShareExists(ctx, actor.TenantID, tableID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if !shared {
		log.Ctx(ctx).Info().
			Str("tenant_id", string(actor.TenantID)).
			Str("user_id", string(actor.UserID)).
			Str("table_id", tableID.String()).
			Msg("table not shared with user")
		return nil, ErrNotShared
	}
	return table, nil
}

func authorizeTab(ctx context.Context, tx db.Database, actor tablecommon.Actor, tabID uuid.UUID) (*models.Tab, apperrors.Error) {
	tab, err := tx.GetTab(ctx, actor.TenantID, tabID)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrTabNotFound.Err(err)
		}
		return nil, err
	}
	if _, err := authorizeTable(ctx, tx, actor, tab.TableID); err != nil {
		return nil, err
	}
	return tab, nil
}

func authorizeColumn(ctx context.Context, tx db.Database, actor tablecommon.Actor, columnID uuid.UUID) (*models.Column, apperrors.Error) {
	col, err := tx.GetColumn(ctx, actor.TenantID, columnID)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrColumnNotFound.Err(err)
		}
		return nil, err
	}
	if _, err := authorizeTab(ctx, tx, actor, col.TabID); err != nil {
		return nil, err
	}
	return col, nil
}

func authorizeRecord(ctx context.Context, tx db.Database, actor tablecommon.Actor, recordID uuid.UUID) (*models.Record, apperrors.Error) {
	rec, err := tx.GetRecord(ctx, actor.TenantID, recordID)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrRecordNotFound.Err(err)
		}
		return nil, err
	}
	if _, err := authorizeTab(ctx, tx, actor, rec.TabID); err != nil {
		return nil, err
	}
	return rec, nil
}

// lockTabColumn takes a row lock on a column and checks it belongs to tabID.
func lockTabColumn(ctx context.Context, tx db.Database, tenantID tablecommon.TenantId, tabID, columnID uuid.UUID, exclusive bool) (*models.Column, apperrors.Error) {
	col, err := tx.LockColumn(ctx, tenantID, columnID, exclusive)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrColumnNotFound.Err(err)
		}
		return nil, err
	}
	if col.TabID != tabID {
		return nil, ErrColumnNotFound.Msg("column " + columnID.String() + " is not in tab " + tabID.String())
	}
	return col, nil
}

// resolveRecord returns the record with recordID in tabID, creating it when
// the id has not been seen. uuid.Nil always creates a new record.
func resolveRecord(ctx context.Context, tx db.Database, tenantID tablecommon.TenantId, tabID, recordID uuid.UUID) (*models.Record, apperrors.Error) {
	if recordID == uuid.Nil {
		recordID = uuid.New()
	} else {
		rec, err := tx.GetRecord(ctx, tenantID, recordID)
		if err == nil {
			if rec.TabID != tabID {
				return nil, ErrRecordNotFound.Msg("record " + recordID.String() + " is not in tab " + tabID.String())
			}
			return rec, nil
		}
		if !errors.Is(err, dberror.ErrNotFound) {
			return nil, err
		}
	}
	rec, err := tx.CreateRecord(ctx, tenantID, tabID, recordID)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Debug().
		Str("tab_id", tabID.String()).
		Str("record_id", recordID.String()).
		Int64("seq", rec.Seq).
		Msg("created record")
	return rec, nil
}

// discardBlobs deletes blobs best effort. Failures leave an orphan and are
// logged.
func (e *Engine) discardBlobs(ctx context.Context, paths []string) {
	if e.blobs == nil {
		return
	}
	for _, p := range paths {
		if err := e.blobs.Delete(ctx, p); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("path", p).Msg("failed to delete blob")
		}
	}
}
