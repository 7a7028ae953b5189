package types

import "time"

// PoolStats represents channel cache pool statistics
type PoolStats struct {
	Hits           uint64  `json:"hits"`
	Misses         uint64  `json:"misses"`
	Builds         uint64  `json:"builds"`
	BuildFailures  uint64  `json:"build_failures"`
	Cancellations  uint64  `json:"cancellations"`
	Evictions      uint64  `json:"evictions"`
	StaleEvictions uint64  `json:"stale_evictions"`
	Invalidations  uint64  `json:"invalidations"`
	Entries        int     `json:"entries"`
	Capacity       int     `json:"capacity"`
	Bytes          int64   `json:"bytes"`
	HitRate        float64 `json:"hit_rate"`
}

// EntryInfo describes one cached file version.
type EntryInfo struct {
	Path       string        `json:"path"`
	ModTime    time.Time     `json:"mod_time"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	Channels   []string      `json:"channels"`
	Bytes      int64         `json:"bytes"`
	LastAccess time.Time     `json:"last_access"`
	Age        time.Duration `json:"age"`
}

// EvictionReason labels why an entry left the pool.
type EvictionReason string

const (
	EvictCapacity   EvictionReason = "capacity"
	EvictStale      EvictionReason = "stale"
	EvictInvalidate EvictionReason = "invalidate"
	EvictPurge      EvictionReason = "purge"
)

// ProgressFunc receives the number of decoded rows out of total after
// every scanline block.
type ProgressFunc func(done, total int)
