// Package store defines the contract every cache tier implements.
//
// A tier owns its own values: Set builds a fresh ttl.Value and keeps it (or its
// serialized form); no two tiers share a Value. A tier may drop entries on its
// own (size or recency bound) and callers learn about it only through misses.
//
// Get semantics:
//   - (v, true, nil) when an entry exists, even if expired. The caller decides
//     what to do with expired or stale values.
//   - (nil, false, nil) on a miss, including a payload that failed to decode.
//   - (nil, false, err) on a backend failure (network, closed client...).
//
// Every Get increments the tier's get counter; the hit counter is incremented
// only when the entry found is usable (fresh, or not yet stale).
package store

import (
	"context"

	"github.com/unkn0wn-root/tiercache/ttl"
)

// Store is one cache tier. Implementations must be safe for concurrent use.
type Store[V any] interface {
	Get(ctx context.Context, key string) (*ttl.Value[V], bool, error)
	Set(ctx context.Context, key string, value V, opts ttl.Options) (*ttl.Value[V], error)
	Delete(ctx context.Context, key string) error
	// Clear drops every entry. Concurrent readers may observe a partially
	// cleared tier.
	Clear(ctx context.Context) error
	Size(ctx context.Context) (int, error)

	Stats() Stats
	ResetStats() Stats
}

// ErrorReporter is implemented by tiers that can fail outside of a call, e.g.
// a network tier losing its connection. Handlers are invoked from the tier's
// own goroutines and must not block.
type ErrorReporter interface {
	RegisterErrorHandler(h func(error)) (unregister func())
}

// Namer lets a tier pick the name used in logs, errors and metrics.
type Namer interface {
	Name() string
}

// Closer is implemented by tiers holding resources.
type Closer interface {
	Close(ctx context.Context) error
}
