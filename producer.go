package tiercache

import (
	"context"

	"github.com/unkn0wn-root/tiercache/ttl"
)

// Result is what a Producer returns. When Options is set it replaces the
// options passed to Refresh or Wrap for this value only.
type Result[V any] struct {
	Value   V
	Options *ttl.Options
}

// Producer computes the value for key.
type Producer[V any] func(ctx context.Context, key string) (Result[V], error)

// Func adapts a plain loader that never overrides options.
func Func[V any](fn func(ctx context.Context, key string) (V, error)) Producer[V] {
	return func(ctx context.Context, key string) (Result[V], error) {
		v, err := fn(ctx, key)
		return Result[V]{Value: v}, err
	}
}

// WithOptions returns a Result that overrides the caller's options.
func WithOptions[V any](v V, opts ttl.Options) Result[V] {
	return Result[V]{Value: v, Options: &opts}
}
