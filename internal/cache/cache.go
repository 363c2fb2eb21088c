// Package cache stores finished answers keyed by the exact question text.
package cache

import (
	"context"
	"errors"
)

// ErrUnavailable wraps every failure of the cache backend. Callers treat it
// as a miss and continue uncached.
var ErrUnavailable = errors.New("cache unavailable")

const keyPrefix = "qa:"

// Key returns the cache key for a question. Text is used verbatim with no
// normalisation, so questions differing only in case or spacing miss.
func Key(text string) string {
	return keyPrefix + text
}

// Stats reports cache size and effectiveness since process start.
type Stats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Cache is a TTL key/value store with first-writer-wins semantics.
type Cache interface {
	// Get returns the live value for key. ok is false on a miss or expiry.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// PutIfAbsent stores value unless a live entry already exists. stored
	// reports whether this call wrote the entry.
	PutIfAbsent(ctx context.Context, key, value string) (stored bool, err error)
	Stats(ctx context.Context) (Stats, error)
	Clear(ctx context.Context, expiredOnly bool) (int, error)
	Close() error
}
