package cellvalue

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the canonical text form of a date value.
const DateLayout = "2006-01-02"

// Value is a typed cell value. The set of implementations is closed: Text,
// Number, Bool, Date, FilePath, UserRef, SKU and LotNumber. A nil Value is
// an empty cell.
type Value interface {
	// Slot is the storage slot the value lives in.
	Slot() Slot
	// String is the value's text form, used by migrations and text columns.
	String() string
	isValue()
}

type (
	Text      string
	Number    float64
	Bool      bool
	Date      time.Time
	FilePath  string
	UserRef   string
	SKU       string
	LotNumber string
)

func (Text) Slot() Slot      { return SlotText }
func (Number) Slot() Slot    { return SlotNum }
func (Bool) Slot() Slot      { return SlotBool }
func (Date) Slot() Slot      { return SlotDate }
func (FilePath) Slot() Slot  { return SlotFilePath }
func (UserRef) Slot() Slot   { return SlotUser }
func (SKU) Slot() Slot       { return SlotSKU }
func (LotNumber) Slot() Slot { return SlotLotNumber }

func (Text) isValue()      {}
func (Number) isValue()    {}
func (Bool) isValue()      {}
func (Date) isValue()      {}
func (FilePath) isValue()  {}
func (UserRef) isValue()   {}
func (SKU) isValue()       {}
func (LotNumber) isValue() {}

func (v Text) String() string      { return string(v) }
func (v Number) String() string    { return FormatNumber(float64(v)) }
func (v Bool) String() string      { return strconv.FormatBool(bool(v)) }
func (v Date) String() string      { return time.Time(v).Format(DateLayout) }
func (v FilePath) String() string  { return string(v) }
func (v UserRef) String() string   { return string(v) }
func (v SKU) String() string       { return string(v) }
func (v LotNumber) String() string { return string(v) }

// NewDate truncates t to its calendar day in UTC.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

// Time returns the date as midnight UTC.
func (v Date) Time() time.Time {
	return time.Time(v)
}

// FormatNumber renders a number as canonical decimal text. Integral values
// keep a trailing ".0" so the text still reads as a number column value
// ("10.0", "7.5", "-3.0").
func FormatNumber(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Render returns the displayable form of a value: string for text-like
// kinds and dates, float64 for numbers, bool for booleans, nil for an empty
// cell.
func Render(v Value) any {
	switch tv := v.(type) {
	case nil:
		return nil
	case Number:
		return float64(tv)
	case Bool:
		return bool(tv)
	default:
		return tv.String()
	}
}

// Equal reports whether two values have the same slot and text form.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Slot() != b.Slot() {
		return false
	}
	if an, ok := a.(Number); ok {
		return float64(an) == float64(b.(Number))
	}
	return a.String() == b.String()
}
