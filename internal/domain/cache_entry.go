package domain

import "time"

// CacheEntry wraps a FlagState with the bookkeeping the Flag Store needs for
// TTL expiry, stale reads and FIFO eviction. Invariant: ExpiresAt >=
// FetchedAt always holds; a present entry stays readable via the stale path
// even after ExpiresAt.
type CacheEntry struct {
	Flag           FlagState
	FetchedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
}

// NewCacheEntry constructs an entry with the given TTL. A zero or negative
// ttl is treated as "effectively non-expiring" (the Streaming Manager stores
// pushed flags this way).
func NewCacheEntry(flag FlagState, ttl time.Duration, now time.Time) CacheEntry {
	expires := now.Add(ttl)
	if ttl <= 0 {
		expires = now.AddDate(100, 0, 0)
	}
	return CacheEntry{
		Flag:           flag,
		FetchedAt:      now,
		ExpiresAt:      expires,
		LastAccessedAt: now,
	}
}

// Expired reports whether the entry is past its ExpiresAt at the given time.
func (e CacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}
