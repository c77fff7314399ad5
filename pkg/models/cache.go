package models

import (
	"net/http"
	"time"
)

// Strategy names how a cache chooses between storage and the network.
type Strategy string

const (
	CacheFirst           Strategy = "CacheFirst"
	NetworkFirst         Strategy = "NetworkFirst"
	StaleWhileRevalidate Strategy = "StaleWhileRevalidate"
	CacheOnly            Strategy = "CacheOnly"
	NetworkOnly          Strategy = "NetworkOnly"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case CacheFirst, NetworkFirst, StaleWhileRevalidate, CacheOnly, NetworkOnly:
		return true
	}
	return false
}

// StrategyOptions tunes a strategy. Zero values mean no limit.
type StrategyOptions struct {
	MaxEntries            int `yaml:"max_entries" json:"max_entries,omitempty"`
	MaxAgeSeconds         int `yaml:"max_age_seconds" json:"max_age_seconds,omitempty"`
	NetworkTimeoutSeconds int `yaml:"network_timeout_seconds" json:"network_timeout_seconds,omitempty"`
}

// MaxAge returns MaxAgeSeconds as a duration.
func (o StrategyOptions) MaxAge() time.Duration {
	return time.Duration(o.MaxAgeSeconds) * time.Second
}

// NetworkTimeout returns NetworkTimeoutSeconds as a duration.
func (o StrategyOptions) NetworkTimeout() time.Duration {
	return time.Duration(o.NetworkTimeoutSeconds) * time.Second
}

// CacheDescriptor configures one named, versioned cache. A partitioned
// cache keeps separate entries per client, so responses built for one
// browser are never served to another.
type CacheDescriptor struct {
	Name        string          `yaml:"name" json:"name"`
	Version     string          `yaml:"-" json:"version"`
	Strategy    Strategy        `yaml:"strategy" json:"strategy"`
	Partitioned bool            `yaml:"partitioned" json:"partitioned"`
	Options     StrategyOptions `yaml:",inline" json:"options"`
}

// VersionedName is the storage name of the cache, e.g. "asset-cache-v2".
func (d CacheDescriptor) VersionedName() string {
	return VersionedCacheName(d.Name, d.Version)
}

// VersionedCacheName joins a cache name and a version tag.
func VersionedCacheName(name, version string) string {
	if version == "" {
		return name
	}
	return name + "-" + version
}

// CachedResponse is a response stored in a named cache.
type CachedResponse struct {
	CacheName  string      `json:"cache_name"`
	URL        string      `json:"url"`
	Status     int         `json:"status"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	CreatedAt  time.Time   `json:"created_at"`
	AccessedAt time.Time   `json:"accessed_at"`
}

// Age returns how long ago the entry was stored.
func (c *CachedResponse) Age(now time.Time) time.Duration {
	return now.Sub(c.CreatedAt)
}

// CacheStats reports per-cache metrics.
type CacheStats struct {
	Name    string `json:"name"`
	Entries int64  `json:"entries"`
	Bytes   int64  `json:"bytes"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
}
