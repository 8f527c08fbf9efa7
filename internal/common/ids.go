// Package common holds helpers shared by every floorbook package.
package common

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// IdType is the kind of short identifier to generate.
type IdType int

const (
	ID_TYPE_GENERIC IdType = iota
	ID_TYPE_TENANT
	ID_TYPE_USER
)

const (
	AIRLINE_CODE_LEN = 6 // length of the code after the type prefix

	LETTERS = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	DIGITS  = "0123456789"
	CHARS   = LETTERS + DIGITS
)

func prefixFor(t IdType) string {
	switch t {
	case ID_TYPE_TENANT:
		return "T"
	case ID_TYPE_USER:
		return "U"
	}
	return ""
}

// secureRandomInt returns a uniformly distributed value in [0, max).
func secureRandomInt(max int) (int, error) {
	if max <= 0 {
		return 0, fmt.Errorf("max must be positive, got %d", max)
	}
	if max > math.MaxInt32 {
		return 0, fmt.Errorf("max too large: %d", max)
	}

	// largest multiple of max within uint64, avoids modulo bias
	limit := (math.MaxUint64 / uint64(max)) * uint64(max)

	for {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("failed to generate random bytes: %w", err)
		}
		n := binary.BigEndian.Uint64(buf[:])
		if n < limit {
			return int(n % uint64(max)), nil
		}
	}
}

// GetUniqueId generates a short id: a type prefix ("T" for tenants, "U" for
// users) followed by an airline-style code. Ids are random, callers that
// persist them rely on the primary key to reject the rare collision.
func GetUniqueId(t IdType) (string, error) {
	code, err := airlineCode(AIRLINE_CODE_LEN)
	if err != nil {
		return "", fmt.Errorf("failed to generate unique ID: %w", err)
	}
	return prefixFor(t) + code, nil
}

// IsValidId reports whether s has the shape GetUniqueId produces for t.
func IsValidId(t IdType, s string) bool {
	p := prefixFor(t)
	if !strings.HasPrefix(s, p) {
		return false
	}
	code := s[len(p):]
	if len(code) != AIRLINE_CODE_LEN {
		return false
	}
	if !strings.ContainsRune(LETTERS, rune(code[0])) {
		return false
	}
	for _, c := range code[1:] {
		if !strings.ContainsRune(CHARS, c) {
			return false
		}
	}
	return true
}

// airlineCode generates a random code of the given length whose first
// character is always a letter.
func airlineCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive, got %d", length)
	}

	result := make([]byte, length)

	letterIdx, err := secureRandomInt(len(LETTERS))
	if err != nil {
		return "", fmt.Errorf("failed to generate first character: %w", err)
	}
	result[0] = LETTERS[letterIdx]

	for i := 1; i < length; i++ {
		idx, err := secureRandomInt(len(CHARS))
		if err != nil {
			return "", fmt.Errorf("failed to generate character at position %d: %w", i, err)
		}
		result[i] = CHARS[idx]
	}

	return string(result), nil
}
