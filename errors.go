package tiercache

import (
	"errors"
	"fmt"
)

// ErrNoStores is returned by New when Options.Stores is empty.
var ErrNoStores = errors.New("tiercache: at least one store is required")

// ErrNilStore is returned by New when Options.Stores holds a nil entry.
var ErrNilStore = errors.New("tiercache: nil store in Stores")

// TierError is one tier's failure during a fan-out (set, delete, clear).
type TierError struct {
	Op   string
	Tier string
	Key  string // empty for clear
	Err  error
}

func (e *TierError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s on tier %s: %v", e.Op, e.Tier, e.Err)
	}
	return fmt.Sprintf("%s %q on tier %s: %v", e.Op, e.Key, e.Tier, e.Err)
}

func (e *TierError) Unwrap() error { return e.Err }

// NonCacheableError marks a producer failure that Wrap must return even when
// an older value could be served instead.
type NonCacheableError struct {
	Err error
}

func (e *NonCacheableError) Error() string { return "non-cacheable: " + e.Err.Error() }

func (e *NonCacheableError) Unwrap() error { return e.Err }

// NonCacheable tags err so that Wrap never masks it with a stale value.
// It returns nil for a nil err.
func NonCacheable(err error) error {
	if err == nil {
		return nil
	}
	return &NonCacheableError{Err: err}
}

// IsNonCacheable reports whether err, or anything it wraps, was tagged with
// NonCacheable.
func IsNonCacheable(err error) bool {
	var nc *NonCacheableError
	return errors.As(err, &nc)
}
