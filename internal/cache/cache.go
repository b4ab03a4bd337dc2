// Package cache stores model listings between runs.
// Supports a local file backend and Redis for shared deployments.
package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"oaistream/internal/core"
)

// CurrentVersion is the ModelCache schema version written by this package.
const CurrentVersion = 1

// ModelCache is the cached model listing for one API base URL.
type ModelCache struct {
	Version   int          `json:"version"`
	UpdatedAt time.Time    `json:"updated_at"`
	BaseURL   string       `json:"base_url"`
	Models    []core.Model `json:"models"`
}

// Fresh reports whether the entry is usable at now for the given ttl.
// Entries from another schema version are never fresh.
func (m *ModelCache) Fresh(ttl time.Duration, now time.Time) bool {
	if m == nil || m.Version != CurrentVersion {
		return false
	}
	return now.Sub(m.UpdatedAt) < ttl
}

// Cache defines the interface for model cache storage.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get retrieves the entry stored under key.
	// Returns nil, nil if no entry exists yet.
	Get(ctx context.Context, key string) (*ModelCache, error)

	// Set stores the entry under key.
	Set(ctx context.Context, key string, cache *ModelCache) error

	// Close releases any resources held by the cache.
	Close() error
}

// KeyFor returns the cache key for an API base URL. Trailing slashes and
// letter case of the URL do not change the key.
func KeyFor(baseURL string) string {
	normalized := strings.ToLower(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	return strconv.FormatUint(xxhash.Sum64String(normalized), 16)
}
