// Package cache provides the byte caches behind the bar cache decorator:
// Redis for shared deployments and an in-process TTL cache for single runs.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque values with a time-to-live. A miss is (nil, false, nil);
// errors are reserved for backend failures.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Stats provides cache performance counters
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Sets      int64   `json:"sets"`
	ItemCount int     `json:"item_count"`
	HitRate   float64 `json:"hit_rate"`
}
