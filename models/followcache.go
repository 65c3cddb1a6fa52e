package models

import "time"

// FollowCacheEntry is a point-in-time snapshot of who a seed follows.
// Entries are never expired automatically.
type FollowCacheEntry struct {
	DID       string    `json:"did,omitempty"`
	Follows   []string  `json:"follows"`
	CrawledAt time.Time `json:"crawled_at"`
}
