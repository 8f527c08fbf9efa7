package tablemanager

import (
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/floorbook/floorbook/internal/common/apperrors"
	"github.com/floorbook/floorbook/internal/common/uuid"
	"github.com/floorbook/floorbook/internal/tablesrv/blobstore"
	"github.com/floorbook/floorbook/internal/tablesrv/cellvalue"
	"github.com/floorbook/floorbook/internal/tablesrv/schemavalidator"
	"github.com/floorbook/floorbook/internal/tablesrv/tablecommon"
)

// CreateTableRequest describes a table, its tabs and optionally the rows of
// each tab.
type CreateTableRequest struct {
	Name string    `json:"name" validate:"required,nameValidator"`
	Tabs []TabSpec `json:"tabs" validate:"omitempty,dive"`
}

// TabSpec describes one tab. Rows, when present, are aligned to Columns.
type TabSpec struct {
	Name    string       `json:"name" validate:"required,nameValidator"`
	Columns []ColumnSpec `json:"columns" validate:"omitempty,dive"`
	Rows    [][]any      `json:"rows,omitempty"`
}

// ColumnSpec describes one column.
type ColumnSpec struct {
	Name string         `json:"name" validate:"required,nameValidator"`
	Kind cellvalue.Kind `json:"data_type" validate:"required,cellKind"`
}

// CellUpdate is one value written into a record. Value is a raw scalar, a
// cellvalue.Value, a stored file path or a *blobstore.Upload for file
// columns.
type CellUpdate struct {
	ColumnID uuid.UUID `json:"column_id"`
	Value    any       `json:"value"`
}

// normalizeName trims and NFC normalizes a user supplied name.
func normalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

func (r *CreateTableRequest) normalize() {
	r.Name = normalizeName(r.Name)
	for i := range r.Tabs {
		r.Tabs[i].normalize()
	}
}

func (s *TabSpec) normalize() {
	s.Name = normalizeName(s.Name)
	for i := range s.Columns {
		s.Columns[i].Name = normalizeName(s.Columns[i].Name)
	}
}

// Validate checks the request after normalization.
func (r *CreateTableRequest) Validate(maxRows int) apperrors.Error {
	if ves := schemavalidator.Check(r); ves != nil {
		return ErrInvalidRequest.MsgErr(ves.Error(), ves)
	}
	total := 0
	for i := range r.Tabs {
		if err := r.Tabs[i].validateRows(); err != nil {
			return err.Prefix("tab " + r.Tabs[i].Name)
		}
		total += len(r.Tabs[i].Rows)
	}
	if maxRows > 0 && total > maxRows {
		return ErrTooManyRows
	}
	return nil
}

// Validate checks the tab spec after normalization.
func (s *TabSpec) Validate(maxRows int) apperrors.Error {
	if ves := schemavalidator.Check(s); ves != nil {
		return ErrInvalidRequest.MsgErr(ves.Error(), ves)
	}
	if err := s.validateRows(); err != nil {
		return err
	}
	if maxRows > 0 && len(s.Rows) > maxRows {
		return ErrTooManyRows
	}
	return nil
}

func (s *TabSpec) validateRows() apperrors.Error {
	return checkRectangular(s.Rows, len(s.Columns))
}

func validateColumnSpec(c *ColumnSpec) apperrors.Error {
	c.Name = normalizeName(c.Name)
	if ves := schemavalidator.Check(c); ves != nil {
		return ErrInvalidRequest.MsgErr(ves.Error(), ves)
	}
	return nil
}

func validateName(name string) (string, apperrors.Error) {
	req := struct {
		Name string `json:"name" validate:"required,nameValidator"`
	}{Name: normalizeName(name)}
	if ves := schemavalidator.Check(req); ves != nil {
		return "", ErrInvalidName.MsgErr(ves.Error(), ves)
	}
	return req.Name, nil
}

func checkActor(actor tablecommon.Actor) apperrors.Error {
	if !actor.IsValid() {
		return ErrInvalidActor
	}
	return nil
}

// checkRectangular fails when a row does not have exactly width values.
func checkRectangular(rows [][]any, width int) apperrors.Error {
	for i, row := range rows {
		if len(row) != width {
			return ErrRaggedRow.Msg("row " + strconv.Itoa(i) + " has " + strconv.Itoa(len(row)) + " values, expected " + strconv.Itoa(width))
		}
	}
	return nil
}

// isUpload reports whether raw is a new file upload.
func isUpload(raw any) (*blobstore.Upload, bool) {
	u, ok := raw.(*blobstore.Upload)
	return u, ok && u != nil
}
