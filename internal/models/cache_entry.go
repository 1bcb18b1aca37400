package models

import "time"

// CacheEntry is a key/value row backing the database cache store.
type CacheEntry struct {
	Key       string    `gorm:"column:cache_key;primaryKey;size:191"`
	Value     []byte
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the entry is past its expiry at now. A zero expiry never expires.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}
