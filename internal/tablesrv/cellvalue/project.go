package cellvalue

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/floorbook/floorbook/internal/common/apperrors"
)

// truthy is the fixed vocabulary read as true, compared case-insensitively
// after trimming. Everything else reads as false.
var truthy = []string{"true", "yes", "1"}

// dateLayouts are tried in order when a date is given as text.
var dateLayouts = []string{
	DateLayout,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"01/02/2006",
}

// Project turns a raw input value into the Value for a column of kind k.
//
// Raw values may be nil, string, bool, any Go integer or float type,
// json.Number, time.Time or an existing Value. Ingestion is permissive: text
// that does not parse as a number or date yields a nil Value (an empty
// cell) instead of an error. Errors are reserved for unknown kinds and raw
// types that have no text form.
func Project(k Kind, raw any) (Value, apperrors.Error) {
	if !k.IsValid() {
		return nil, ErrUnknownKind.Msg("unrecognized value kind: " + string(k))
	}
	if raw == nil {
		return nil, nil
	}

	switch k {
	case KindText, KindLongText:
		s, err := textForm(raw)
		if err != nil {
			return nil, err
		}
		return Text(s), nil

	case KindNumber:
		return projectNumber(raw)

	case KindBoolean:
		return projectBool(raw)

	case KindDate:
		return projectDate(raw)

	case KindFile:
		s, err := textForm(raw)
		if err != nil {
			return nil, err
		}
		if s = strings.TrimSpace(s); s == "" {
			return nil, nil
		}
		return FilePath(s), nil

	case KindSKU:
		s, err := textForm(raw)
		if err != nil {
			return nil, err
		}
		return SKU(s), nil

	case KindLotNumber:
		s, err := textForm(raw)
		if err != nil {
			return nil, err
		}
		return LotNumber(s), nil

	case KindUser:
		s, err := textForm(raw)
		if err != nil {
			return nil, err
		}
		if s = strings.TrimSpace(s); s == "" {
			return nil, nil
		}
		return UserRef(s), nil
	}
	return nil, ErrUnknownKind.Msg("unrecognized value kind: " + string(k))
}

// IsTruthy applies the boolean vocabulary to a value. A Number is truthy
// only when it equals 1, matching the "1" entry of the vocabulary.
func IsTruthy(v Value) bool {
	switch tv := v.(type) {
	case nil:
		return false
	case Bool:
		return bool(tv)
	case Number:
		return float64(tv) == 1
	default:
		return isTruthyText(tv.String())
	}
}

func isTruthyText(s string) bool {
	s = strings.TrimSpace(s)
	for _, t := range truthy {
		if strings.EqualFold(s, t) {
			return true
		}
	}
	return false
}

// Convert reprojects a value held by a column of kind from into kind to.
//
// Conversions to boolean use the truthy vocabulary and never produce nil.
// Booleans become 1 or 0 when converted to numbers. Every other pair goes
// through the value's text form, so number to text yields canonical decimal
// text and text to number parses or yields nil.
func Convert(v Value, from, to Kind) (Value, apperrors.Error) {
	if err := CanMigrate(from, to); err != nil {
		return nil, err
	}
	if from == to {
		return v, nil
	}
	if to == KindBoolean {
		return Bool(IsTruthy(v)), nil
	}
	if v == nil {
		return nil, nil
	}
	if b, ok := v.(Bool); ok && to == KindNumber {
		if b {
			return Number(1), nil
		}
		return Number(0), nil
	}
	return Project(to, v.String())
}

func projectNumber(raw any) (Value, apperrors.Error) {
	var f float64
	switch r := raw.(type) {
	case Number:
		f = float64(r)
	case float64:
		f = r
	case float32:
		f = float64(r)
	case int:
		f = float64(r)
	case int8:
		f = float64(r)
	case int16:
		f = float64(r)
	case int32:
		f = float64(r)
	case int64:
		f = float64(r)
	case uint:
		f = float64(r)
	case uint8:
		f = float64(r)
	case uint16:
		f = float64(r)
	case uint32:
		f = float64(r)
	case uint64:
		f = float64(r)
	case bool:
		if r {
			return Number(1), nil
		}
		return Number(0), nil
	case Bool:
		if r {
			return Number(1), nil
		}
		return Number(0), nil
	case time.Time, Date:
		return nil, nil
	default:
		s, err := textForm(raw)
		if err != nil {
			return nil, err
		}
		parsed, perr := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if perr != nil {
			return nil, nil
		}
		f = parsed
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, nil
	}
	return Number(f), nil
}

func projectBool(raw any) (Value, apperrors.Error) {
	switch r := raw.(type) {
	case bool:
		return Bool(r), nil
	case Value:
		return Bool(IsTruthy(r)), nil
	case string:
		return Bool(isTruthyText(r)), nil
	case []byte:
		return Bool(isTruthyText(string(r))), nil
	case time.Time:
		return Bool(false), nil
	}
	n, err := projectNumber(raw)
	if err != nil {
		return nil, err
	}
	return Bool(IsTruthy(n)), nil
}

func projectDate(raw any) (Value, apperrors.Error) {
	switch r := raw.(type) {
	case time.Time:
		if r.IsZero() {
			return nil, nil
		}
		return NewDate(r), nil
	case Date:
		return NewDate(r.Time()), nil
	}
	s, err := textForm(raw)
	if err != nil {
		return nil, err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, perr := time.Parse(layout, s); perr == nil {
			return NewDate(t), nil
		}
	}
	return nil, nil
}

// textForm renders a raw scalar as text.
func textForm(raw any) (string, apperrors.Error) {
	switch r := raw.(type) {
	case string:
		return r, nil
	case Value:
		return r.String(), nil
	case []byte:
		return string(r), nil
	case bool:
		return strconv.FormatBool(r), nil
	case float64:
		return FormatNumber(r), nil
	case float32:
		return FormatNumber(float64(r)), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(r), nil
	case json.Number:
		return r.String(), nil
	case time.Time:
		return r.Format(DateLayout), nil
	case fmt.Stringer:
		return r.String(), nil
	}
	return "", ErrUnsupportedValue.Msg(fmt.Sprintf("unsupported raw value of type %T", raw))
}
