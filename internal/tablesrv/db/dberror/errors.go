package dberror

import (
	"net/http"

	"github.com/floorbook/floorbook/internal/common/apperrors"
)

var (
	ErrDatabase apperrors.Error = apperrors.New("db error").
			SetClass(apperrors.ClassStorage).SetStatusCode(http.StatusInternalServerError)
	ErrAlreadyExists apperrors.Error = ErrDatabase.New("already exists").
				SetClass(apperrors.ClassConflict).SetStatusCode(http.StatusConflict)
	ErrConstraint apperrors.Error = ErrDatabase.New("constraint violation").
			SetClass(apperrors.ClassConflict).SetStatusCode(http.StatusConflict)
	ErrNotFound apperrors.Error = ErrDatabase.New("not found").
			SetClass(apperrors.ClassNotFound).SetStatusCode(http.StatusNotFound)
	ErrInvalidInput apperrors.Error = ErrDatabase.New("invalid input").
			SetClass(apperrors.ClassValidation).SetStatusCode(http.StatusBadRequest)
	ErrMissingTenantID apperrors.Error = ErrInvalidInput.New("missing tenant ID")
	ErrNotConnected    apperrors.Error = ErrDatabase.New("database pool not initialized")
)
