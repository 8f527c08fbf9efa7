// Package uuid provides the row identifiers used by floorbook. All engine ids
// are UUIDv7, so ids generated in sequence sort in generation order.
// It wraps github.com/google/uuid.
package uuid

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// UUID represents a UUID, aliased from github.com/google/uuid.UUID
type UUID = uuid.UUID

// Nil is the zero UUID value.
var Nil = uuid.Nil

// New returns a new UUIDv7. Panics if UUID generation fails.
func New() UUID {
	uuidv7, err := uuid.NewV7()
	if err != nil {
		panic(err)
	}
	return uuidv7
}

// NewBatch returns n UUIDv7 values in strictly increasing order. Bulk paths
// use it so that generated row ids follow input row order.
func NewBatch(n int) []UUID {
	ids := make([]UUID, n)
	for i := range ids {
		ids[i] = New()
		if i > 0 && CompareUUIDv7(ids[i-1], ids[i]) >= 0 {
			// the generator is monotonic, this only guards against clock steps
			ids[i] = next(ids[i-1])
		}
	}
	return ids
}

// next returns the smallest v7 UUID greater than u, keeping version and
// variant bits intact.
func next(u UUID) UUID {
	r := u
	for i := len(r) - 1; i >= 0; i-- {
		switch i {
		case 6:
			// low nibble belongs to rand_a, high nibble is the version
			if r[i]&0x0f != 0x0f {
				r[i]++
				return r
			}
			r[i] &= 0xf0
			continue
		case 8:
			// low six bits belong to rand_b, high two bits are the variant
			if r[i]&0x3f != 0x3f {
				r[i]++
				return r
			}
			r[i] &= 0xc0
			continue
		}
		if r[i] != 0xff {
			r[i]++
			return r
		}
		r[i] = 0
	}
	return r
}

// Parse parses a UUID string into a UUID value.
func Parse(s string) (UUID, error) {
	return uuid.Parse(s)
}

// MustParse parses a UUID string and panics if the string is not a valid UUID.
func MustParse(s string) UUID {
	return uuid.MustParse(s)
}

// IsUUIDv7 reports whether the given UUID is a valid UUIDv7.
func IsUUIDv7(id UUID) bool {
	return id.Version() == uuid.Version(7)
}

// GetTimestampFromUUID extracts the timestamp from the top 48 bits of a UUIDv7.
func GetTimestampFromUUID(u UUID) time.Time {
	tsMillis := binary.BigEndian.Uint64(u[0:8]) >> 16
	if tsMillis > uint64(1<<63-1) {
		return time.UnixMilli(1<<63 - 1)
	}
	return time.UnixMilli(int64(tsMillis))
}

// CompareUUIDv7 compares two UUIDv7 values byte-wise.
// Returns -1 if a sorts before b, 0 if equal, +1 otherwise.
func CompareUUIDv7(a, b UUID) int {
	for i := range a {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	return 0
}

// Strings renders ids for use as SQL array parameters.
func Strings(ids []UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
