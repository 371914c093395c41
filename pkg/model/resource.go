package model

import "time"

// CachedResource is the last downloaded payload for a resource path, keyed by URL.
type CachedResource struct {
	URL       string    `json:"url"`
	Payload   string    `json:"payload"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Stale reports whether the entry's time-to-live has elapsed at now.
func (r *CachedResource) Stale(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}
