// Package csvimport turns a CSV document into a tab. The first record is the
// header; each column is typed number when every non-blank value in it
// parses as a finite number, and text otherwise.
package csvimport

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/floorbook/floorbook/internal/common/apperrors"
	"github.com/floorbook/floorbook/internal/common/uuid"
	"github.com/floorbook/floorbook/internal/tablesrv/cellvalue"
	"github.com/floorbook/floorbook/internal/tablesrv/db/models"
	"github.com/floorbook/floorbook/internal/tablesrv/tablecommon"
	"github.com/floorbook/floorbook/internal/tablesrv/tablemanager"
)

var (
	ErrImport apperrors.Error = apperrors.New("csv import failed").
			SetClass(apperrors.ClassValidation).SetStatusCode(http.StatusBadRequest)
	ErrEmpty           apperrors.Error = ErrImport.New("csv has no header row")
	ErrMalformed       apperrors.Error = ErrImport.New("malformed csv")
	ErrBlankHeader     apperrors.Error = ErrImport.New("blank column header")
	ErrDuplicateHeader apperrors.Error = ErrImport.New("duplicate column header")
	ErrTooManyRows     apperrors.Error = ErrImport.New("too many rows")
)

const utf8BOM = "\ufeff"

// Sheet is a parsed CSV document. Rows are aligned to Header and hold a
// string per field, or nil for a blank field.
type Sheet struct {
	Header []string
	Kinds  []cellvalue.Kind
	Rows   [][]any
}

type options struct {
	comma   rune
	maxRows int
}

// Option configures Parse and Import.
type Option func(*options)

// WithComma sets the field delimiter. The default is ','.
func WithComma(r rune) Option {
	return func(o *options) {
		o.comma = r
	}
}

// WithMaxRows limits the number of data rows. Zero means no limit.
func WithMaxRows(n int) Option {
	return func(o *options) {
		o.maxRows = n
	}
}

// Parse reads a CSV document. Every record must have as many fields as the
// header.
func Parse(r io.Reader, opts ...Option) (*Sheet, apperrors.Error) {
	o := options{comma: ','}
	for _, opt := range opts {
		opt(&o)
	}

	cr := csv.NewReader(r)
	cr.Comma = o.comma

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmpty
		}
		return nil, ErrMalformed.MsgErr(err.Error(), err)
	}
	header[0] = strings.TrimPrefix(header[0], utf8BOM)
	seen := make(map[string]struct{}, len(header))
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
		if header[i] == "" {
			return nil, ErrBlankHeader.Msg("blank header in column " + strconv.Itoa(i+1))
		}
		if _, dup := seen[header[i]]; dup {
			return nil, ErrDuplicateHeader.Msg("duplicate column header: " + header[i])
		}
		seen[header[i]] = struct{}{}
	}

	sheet := &Sheet{Header: header, Rows: [][]any{}}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, ErrMalformed.MsgErr(err.Error(), err)
		}
		if o.maxRows > 0 && len(sheet.Rows) == o.maxRows {
			return nil, ErrTooManyRows.Msg("more than " + strconv.Itoa(o.maxRows) + " rows")
		}
		row := make([]any, len(rec))
		for i, f := range rec {
			if strings.TrimSpace(f) != "" {
				row[i] = f
			}
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	sheet.Kinds = inferKinds(len(header), sheet.Rows)
	return sheet, nil
}

func inferKinds(width int, rows [][]any) []cellvalue.Kind {
	kinds := make([]cellvalue.Kind, width)
	for j := range kinds {
		kinds[j] = cellvalue.KindText
		seen := false
		numeric := true
		for _, row := range rows {
			s, ok := row[j].(string)
			if !ok {
				continue
			}
			seen = true
			if !isNumber(s) {
				numeric = false
				break
			}
		}
		if seen && numeric {
			kinds[j] = cellvalue.KindNumber
		}
	}
	return kinds
}

func isNumber(s string) bool {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
}

// TabSpec returns a tab named name with the sheet's columns and rows.
func (s *Sheet) TabSpec(name string) *tablemanager.TabSpec {
	cols := make([]tablemanager.ColumnSpec, len(s.Header))
	for i := range s.Header {
		cols[i] = tablemanager.ColumnSpec{Name: s.Header[i], Kind: s.Kinds[i]}
	}
	return &tablemanager.TabSpec{Name: name, Columns: cols, Rows: s.Rows}
}

// TabCreator creates a tab with its columns and rows in one operation.
// *tablemanager.Engine implements it.
type TabCreator interface {
	CreateTab(ctx context.Context, actor tablecommon.Actor, tableID uuid.UUID, spec *tablemanager.TabSpec) (*models.Tab, apperrors.Error)
}

// Import parses r and adds it to a table as a new tab named name. The tab,
// its columns and its rows are created together or not at all.
func Import(ctx context.Context, tc TabCreator, actor tablecommon.Actor, tableID uuid.UUID, name string, r io.Reader, opts ...Option) (*models.Tab, apperrors.Error) {
	sheet, err := Parse(r, opts...)
	if err != nil {
		return nil, err.Op("import csv", name)
	}
	tab, err := tc.CreateTab(ctx, actor, tableID, sheet.TabSpec(name))
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().
		Str("tenant_id", string(actor.TenantID)).
		Str("table_id", tableID.String()).
		Str("tab_id", tab.TabID.String()).
		Int("columns", len(sheet.Header)).
		Int("rows", len(sheet.Rows)).
		Msg("imported csv")
	return tab, nil
}
