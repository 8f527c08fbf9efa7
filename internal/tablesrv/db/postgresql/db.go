// Package postgresql implements the floorbook data access managers on
// PostgreSQL. Every query filters on tenant_id explicitly; row level
// security on the connection's tenant scope backs that up.
package postgresql

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog/log"

	"github.com/floorbook/floorbook/internal/common/apperrors"
	"github.com/floorbook/floorbook/internal/tablesrv/db/dberror"
	"github.com/floorbook/floorbook/internal/tablesrv/db/dbmanager"
)

// querier is satisfied by both *sql.Conn and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// session is the connection (and, inside Transact, the transaction) shared
// by a set of managers.
type session struct {
	c  dbmanager.ScopedConn
	tx *sql.Tx
}

func (s *session) q() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.c.Conn()
}

// Managers groups the managers bound to one session.
type Managers struct {
	Tenants *TenantManager
	Tables  *TableManager
	Cells   *CellManager
	Shares  *ShareManager
	Conn    *ConnectionManager
}

func newManagers(s *session) *Managers {
	return &Managers{
		Tenants: &TenantManager{s: s},
		Tables:  &TableManager{s: s},
		Cells:   &CellManager{s: s},
		Shares:  &ShareManager{s: s},
		Conn:    &ConnectionManager{s: s},
	}
}

// NewFloorbookDb binds a fresh set of managers to c.
func NewFloorbookDb(c dbmanager.ScopedConn) *Managers {
	return newManagers(&session{c: c})
}

type TenantManager struct{ s *session }
type TableManager struct{ s *session }
type CellManager struct{ s *session }
type ShareManager struct{ s *session }

func (m *TenantManager) conn() querier { return m.s.q() }
func (m *TableManager) conn() querier  { return m.s.q() }
func (m *CellManager) conn() querier   { return m.s.q() }
func (m *ShareManager) conn() querier  { return m.s.q() }

// ConnectionManager owns the scoped connection and its transaction.
type ConnectionManager struct {
	s *session
}

// InTx reports whether the managers run inside a transaction.
func (cm *ConnectionManager) InTx() bool {
	return cm.s.tx != nil
}

// Begin starts a transaction and returns managers bound to it.
func (cm *ConnectionManager) Begin(ctx context.Context) (*Managers, apperrors.Error) {
	if cm.s.tx != nil {
		return nil, dberror.ErrDatabase.Msg("transaction already in progress")
	}
	tx, err := cm.s.c.Conn().BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to start transaction")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return newManagers(&session{c: cm.s.c, tx: tx}), nil
}

func (cm *ConnectionManager) Commit(ctx context.Context) apperrors.Error {
	if cm.s.tx == nil {
		return dberror.ErrDatabase.Msg("no transaction in progress")
	}
	if err := cm.s.tx.Commit(); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to commit transaction")
		return mapError(err)
	}
	cm.s.tx = nil
	return nil
}

func (cm *ConnectionManager) Rollback(ctx context.Context) {
	if cm.s.tx == nil {
		return
	}
	if err := cm.s.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		log.Ctx(ctx).Error().Err(err).Msg("failed to roll back transaction")
	}
	cm.s.tx = nil
}

// Close returns the connection to the pool. Managers bound to a
// transaction do not own the connection; closing them rolls the transaction
// back if it is still open.
func (cm *ConnectionManager) Close(ctx context.Context) {
	if cm.s.tx != nil {
		cm.Rollback(ctx)
		return
	}
	cm.s.c.Close(ctx)
}
