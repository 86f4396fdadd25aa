package tiercache

import (
	"time"

	"github.com/unkn0wn-root/tiercache/store"
)

// Options configure a Cache. Only Stores is required.
type Options[V any] struct {
	// Stores in probe order. Must not be empty.
	Stores []store.Store[V]

	Timeout time.Duration // per tier Get; 0 => wait as long as the tier takes
	Logger  Logger        // if nil, NopLogger is used
	Hooks   Hooks         // if nil, NopHooks is used

	// Coalesce makes concurrent Refresh calls for one key share a single
	// producer call. Default false: every caller runs the producer.
	Coalesce bool

	// AsyncPopulate makes Refresh return before the produced value has been
	// written to the tiers. Flush waits for pending writes.
	AsyncPopulate bool
}
