package cache

import (
	"time"
)

// Entry points a query key at a previously completed search.
type Entry struct {
	// Key is the derived query key.
	Key Key `json:"key"`

	// ReferenceID is the search ID of the stored result.
	ReferenceID string `json:"reference_id"`

	// ExpiresAt is when the entry stops being served. Expired entries stay in
	// the backend until overwritten; Gate.Lookup ignores them.
	ExpiresAt time.Time `json:"expires_at"`

	// CachedAt is when the entry was last written.
	CachedAt time.Time `json:"cached_at"`
}

// IsExpiredAt reports whether the entry is stale at the given instant.
// An entry expiring exactly at now is stale.
func (e *Entry) IsExpiredAt(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.ExpiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}
