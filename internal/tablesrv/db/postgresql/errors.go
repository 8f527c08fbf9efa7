package postgresql

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgconn"

	"github.com/floorbook/floorbook/internal/common/apperrors"
	"github.com/floorbook/floorbook/internal/tablesrv/db/dberror"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgNotNullViolation    = "23502"
	pgInvalidText         = "22P02"
	pgRowSecurity         = "42501"
)

// mapError translates driver errors into the dberror taxonomy.
func mapError(err error) apperrors.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return dberror.ErrNotFound.Err(err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return dberror.ErrAlreadyExists.MsgErr("already exists: "+pgErr.ConstraintName, err)
		case pgForeignKeyViolation:
			return dberror.ErrConstraint.MsgErr("referenced row does not exist: "+pgErr.ConstraintName, err)
		case pgCheckViolation, pgNotNullViolation:
			return dberror.ErrInvalidInput.MsgErr("constraint violated: "+pgErr.ConstraintName, err)
		case pgRowSecurity:
			// a row outside the connection's tenant
			return dberror.ErrNotFound.MsgErr(pgErr.Message, err)
		case pgInvalidText:
			return dberror.ErrInvalidInput.MsgErr(pgErr.Message, err)
		}
	}
	return dberror.ErrDatabase.Err(err)
}
