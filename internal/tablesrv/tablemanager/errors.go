package tablemanager

import (
	"errors"
	"net/http"

	"github.com/floorbook/floorbook/internal/common/apperrors"
	"github.com/floorbook/floorbook/internal/tablesrv/blobstore"
	"github.com/floorbook/floorbook/internal/tablesrv/db/dberror"
)

// Base engine error
var (
	ErrTableManager apperrors.Error = apperrors.New("table engine error").SetStatusCode(http.StatusInternalServerError)
)

// Taxonomy
var (
	ErrValidation   apperrors.Error = ErrTableManager.New("validation failed").SetClass(apperrors.ClassValidation).SetStatusCode(http.StatusBadRequest)
	ErrNotFound     apperrors.Error = ErrTableManager.New("not found").SetClass(apperrors.ClassNotFound).SetStatusCode(http.StatusNotFound)
	ErrConflict     apperrors.Error = ErrTableManager.New("conflict").SetClass(apperrors.ClassConflict).SetStatusCode(http.StatusConflict)
	ErrAccessDenied apperrors.Error = ErrTableManager.New("access denied").SetClass(apperrors.ClassAccessDenied).SetStatusCode(http.StatusForbidden)
	ErrStorage      apperrors.Error = ErrTableManager.New("storage failure").SetClass(apperrors.ClassStorage).SetStatusCode(http.StatusInternalServerError)
)

// Validation errors
var (
	ErrInvalidRequest  apperrors.Error = ErrValidation.New("invalid request").SetExpandError(true)
	ErrInvalidName     apperrors.Error = ErrValidation.New("invalid name")
	ErrInvalidActor    apperrors.Error = ErrValidation.New("tenant and user are required")
	ErrRaggedRow       apperrors.Error = ErrValidation.New("row length does not match column count")
	ErrTooManyRows     apperrors.Error = ErrValidation.New("too many rows")
	ErrDuplicateColumn apperrors.Error = ErrValidation.New("column listed more than once")
	ErrUploadNotFile   apperrors.Error = ErrValidation.New("file upload for a column that is not of kind file")
)

// Not found errors
var (
	ErrTableNotFound  apperrors.Error = ErrNotFound.New("table not found")
	ErrTabNotFound    apperrors.Error = ErrNotFound.New("tab not found")
	ErrColumnNotFound apperrors.Error = ErrNotFound.New("column not found")
	ErrRecordNotFound apperrors.Error = ErrNotFound.New("record not found")
)

// Access errors
var (
	ErrNotShared  apperrors.Error = ErrAccessDenied.New("table is not shared with user")
	ErrNotCreator apperrors.Error = ErrAccessDenied.New("only the table creator can delete the table")
)

// Storage errors
var (
	ErrNoBlobStore apperrors.Error = ErrStorage.New("blob store is not configured")
)

// engineError maps err into the engine taxonomy and prefixes the operation
// and the id it failed on. The cause stays reachable through errors.Is.
func engineError(op string, id any, err error) apperrors.Error {
	if err == nil {
		return nil
	}
	var base apperrors.Error
	switch {
	case errors.Is(err, ErrTableManager):
		var ae apperrors.Error
		if errors.As(err, &ae) {
			return ae.Op(op, id)
		}
		base = ErrStorage
	case errors.Is(err, dberror.ErrNotFound):
		base = ErrNotFound
	case errors.Is(err, dberror.ErrAlreadyExists), errors.Is(err, dberror.ErrConstraint):
		base = ErrConflict
	case errors.Is(err, dberror.ErrInvalidInput), errors.Is(err, blobstore.ErrInvalidName):
		base = ErrValidation
	default:
		switch apperrors.ClassOf(err) {
		case apperrors.ClassValidation:
			base = ErrValidation
		case apperrors.ClassNotFound:
			base = ErrNotFound
		case apperrors.ClassConflict:
			base = ErrConflict
		case apperrors.ClassAccessDenied:
			base = ErrAccessDenied
		default:
			base = ErrStorage
		}
	}
	return base.MsgErr(err.Error(), err).Op(op, id)
}
