// Package cellvalue defines the value kinds a column can declare, the typed
// cell values that go with them, and the rules that move raw input, stored
// slots and values between each other.
//
// A cell is persisted as a row with one nullable slot per kind family. Kind
// decides which slot is authoritative; Project turns raw input into a Value,
// ToSlots/FromSlots move a Value in and out of its slot, and Convert moves a
// Value from one kind to another during column migration.
package cellvalue

import (
	"net/http"

	"github.com/floorbook/floorbook/internal/common/apperrors"
)

// Kind is the declared value type of a column.
type Kind string

const (
	KindText      Kind = "text"
	KindLongText  Kind = "long-text"
	KindNumber    Kind = "number"
	KindBoolean   Kind = "boolean"
	KindDate      Kind = "date"
	KindFile      Kind = "file"
	KindSKU       Kind = "sku"
	KindLotNumber Kind = "lot-number"
	KindUser      Kind = "user"
)

var allKinds = []Kind{
	KindText,
	KindLongText,
	KindNumber,
	KindBoolean,
	KindDate,
	KindFile,
	KindSKU,
	KindLotNumber,
	KindUser,
}

// Kinds returns every recognised kind.
func Kinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// IsValid reports whether k is a recognised kind.
func (k Kind) IsValid() bool {
	for _, known := range allKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Terminal kinds hold binary or identity data. No migration leads into or
// out of them.
func (k Kind) Terminal() bool {
	return k == KindFile || k == KindUser
}

// Slot returns the storage slot authoritative for k.
func (k Kind) Slot() Slot {
	switch k {
	case KindText, KindLongText:
		return SlotText
	case KindNumber:
		return SlotNum
	case KindBoolean:
		return SlotBool
	case KindDate:
		return SlotDate
	case KindFile:
		return SlotFilePath
	case KindSKU:
		return SlotSKU
	case KindLotNumber:
		return SlotLotNumber
	case KindUser:
		return SlotUser
	}
	return SlotNone
}

func (k Kind) String() string {
	return string(k)
}

// Slot names one nullable value column of a stored cell.
type Slot int

const (
	SlotNone Slot = iota
	SlotText
	SlotNum
	SlotBool
	SlotDate
	SlotFilePath
	SlotSKU
	SlotLotNumber
	SlotUser
)

var (
	ErrCellValue apperrors.Error = apperrors.New("invalid cell value").
			SetClass(apperrors.ClassValidation).SetStatusCode(http.StatusBadRequest)
	ErrUnknownKind        apperrors.Error = ErrCellValue.New("unrecognized value kind")
	ErrForbiddenMigration apperrors.Error = ErrCellValue.New("forbidden kind migration")
	ErrUnsupportedValue   apperrors.Error = ErrCellValue.New("unsupported raw value")
	ErrSlotMismatch       apperrors.Error = ErrCellValue.New("cell slots do not match column kind")
)

// CanMigrate returns nil when a column of kind from may be retyped to kind
// to. Equal kinds are always allowed (the migration is a no-op).
func CanMigrate(from, to Kind) apperrors.Error {
	if !from.IsValid() {
		return ErrUnknownKind.Msg("unrecognized value kind: " + string(from))
	}
	if !to.IsValid() {
		return ErrUnknownKind.Msg("unrecognized value kind: " + string(to))
	}
	if from == to {
		return nil
	}
	if from.Terminal() {
		return ErrForbiddenMigration.Msg("cannot convert a column of kind '" + string(from) + "' to another kind")
	}
	if to.Terminal() {
		return ErrForbiddenMigration.Msg("cannot convert an existing column to kind '" + string(to) + "'")
	}
	return nil
}
