package tiercache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// A tier failed a get (or timed out) and was skipped, or reported an
	// out-of-band failure. key is empty for out-of-band reports.
	TierError(tier, key string, err error)

	// Recomputing failed and the previous, not yet stale, value was served.
	StaleServed(key string, err error)

	// The resolved options were not cacheable; nothing was written.
	PopulateSkipped(key string)

	// Writing a produced value to one tier failed.
	PopulateFailed(tier, key string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) TierError(string, string, error)      {}
func (NopHooks) StaleServed(string, error)            {}
func (NopHooks) PopulateSkipped(string)               {}
func (NopHooks) PopulateFailed(string, string, error) {}
