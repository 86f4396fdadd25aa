package ttl

import "time"

// Options configures a value's lifetime.
type Options struct {
	// Expire is how long after creation the value expires. Zero: never.
	Expire time.Duration
	// Stale is how long after creation the value goes stale. Zero: never.
	Stale time.Duration
	// CreatedAt overrides the creation instant; zero means "now".
	// Used to rebuild a value from serialized state without resetting its clock.
	CreatedAt time.Time
}

// Cacheable reports whether either axis resolves to a positive duration.
// Values produced with non-cacheable options are returned but never stored.
func (o Options) Cacheable() bool {
	return o.Expire > 0 || o.Stale > 0
}
