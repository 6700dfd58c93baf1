package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// KeyLength is the length of a derived Key in hex characters.
const KeyLength = 64

// keyDelimiter joins the normalized fields. U+001F (unit separator) does not
// occur in user-typed locations or cuisines.
const keyDelimiter = "\x1f"

// Key identifies one (location, cuisine, mealtime) query.
type Key string

// DeriveKey normalizes the query triple (trim + lower-case) and hashes it with
// SHA-256. Inputs that differ only in case or surrounding whitespace produce
// the same key.
//
// Example:
//
//	DeriveKey(" 94105 ", "Italian", "DINNER") == DeriveKey("94105", "italian", "dinner")
func DeriveKey(location, cuisine, mealtime string) Key {
	joined := strings.Join([]string{
		normalize(location),
		normalize(cuisine),
		normalize(mealtime),
	}, keyDelimiter)

	sum := sha256.Sum256([]byte(joined))
	return Key(hex.EncodeToString(sum[:])[:KeyLength])
}

// String returns the hex digest.
func (k Key) String() string {
	return string(k)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
