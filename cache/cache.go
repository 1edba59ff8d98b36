// Package cache keeps the last formatted responses so handlers can answer
// without calling Helix, and can fall back to stale data when Helix fails.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is a cached response body and the time it was produced.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Store is a keyed set of cache slots.
type Store interface {
	// Get returns the entry for key if it is younger than the TTL.
	Get(ctx context.Context, key string) (Entry, bool)
	// GetStale returns the entry for key regardless of age.
	GetStale(ctx context.Context, key string) (Entry, bool)
	// Set replaces the entry for key, stamping it with the current time.
	Set(ctx context.Context, key string, data []byte)
}
