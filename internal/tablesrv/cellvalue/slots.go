package cellvalue

import (
	"database/sql"
	"fmt"
)

// Slots is the stored shape of a cell: one nullable column per slot. At
// most one slot is valid at a time and it is the slot of the owning
// column's kind.
type Slots struct {
	Text      sql.NullString
	Num       sql.NullFloat64
	Bool      sql.NullBool
	Date      sql.NullTime
	FilePath  sql.NullString
	SKU       sql.NullString
	LotNumber sql.NullString
	UserID    sql.NullString
}

// ToSlots stores v in its slot and leaves every other slot null. A nil
// Value yields all-null slots.
func ToSlots(v Value) Slots {
	var s Slots
	switch tv := v.(type) {
	case Text:
		s.Text = sql.NullString{String: string(tv), Valid: true}
	case Number:
		s.Num = sql.NullFloat64{Float64: float64(tv), Valid: true}
	case Bool:
		s.Bool = sql.NullBool{Bool: bool(tv), Valid: true}
	case Date:
		s.Date = sql.NullTime{Time: tv.Time(), Valid: true}
	case FilePath:
		s.FilePath = sql.NullString{String: string(tv), Valid: true}
	case SKU:
		s.SKU = sql.NullString{String: string(tv), Valid: true}
	case LotNumber:
		s.LotNumber = sql.NullString{String: string(tv), Valid: true}
	case UserRef:
		s.UserID = sql.NullString{String: string(tv), Valid: true}
	}
	return s
}

// FromSlots reads the value authoritative for kind k. Other slots are
// ignored, so a stale slot left by a foreign writer never surfaces.
func FromSlots(k Kind, s Slots) Value {
	switch k.Slot() {
	case SlotText:
		if s.Text.Valid {
			return Text(s.Text.String)
		}
	case SlotNum:
		if s.Num.Valid {
			return Number(s.Num.Float64)
		}
	case SlotBool:
		if s.Bool.Valid {
			return Bool(s.Bool.Bool)
		}
	case SlotDate:
		if s.Date.Valid {
			return NewDate(s.Date.Time)
		}
	case SlotFilePath:
		if s.FilePath.Valid {
			return FilePath(s.FilePath.String)
		}
	case SlotSKU:
		if s.SKU.Valid {
			return SKU(s.SKU.String)
		}
	case SlotLotNumber:
		if s.LotNumber.Valid {
			return LotNumber(s.LotNumber.String)
		}
	case SlotUser:
		if s.UserID.Valid {
			return UserRef(s.UserID.String)
		}
	}
	return nil
}

// Populated returns the slots that hold a value.
func (s Slots) Populated() []Slot {
	var out []Slot
	if s.Text.Valid {
		out = append(out, SlotText)
	}
	if s.Num.Valid {
		out = append(out, SlotNum)
	}
	if s.Bool.Valid {
		out = append(out, SlotBool)
	}
	if s.Date.Valid {
		out = append(out, SlotDate)
	}
	if s.FilePath.Valid {
		out = append(out, SlotFilePath)
	}
	if s.SKU.Valid {
		out = append(out, SlotSKU)
	}
	if s.LotNumber.Valid {
		out = append(out, SlotLotNumber)
	}
	if s.UserID.Valid {
		out = append(out, SlotUser)
	}
	return out
}

// Check verifies slot exclusivity for a cell of a column of kind k: zero or
// one slot populated, and that slot is the kind's slot.
func (s Slots) Check(k Kind) error {
	p := s.Populated()
	switch {
	case len(p) == 0:
		return nil
	case len(p) > 1:
		return ErrSlotMismatch.Msg(fmt.Sprintf("%d slots populated", len(p)))
	case p[0] != k.Slot():
		return ErrSlotMismatch.Msg("populated slot does not belong to kind " + string(k))
	}
	return nil
}
