package ttl

import "time"

// Value is one cached payload with its lifetime bookkeeping.
// Every tier owns its own Value; they are never shared across tiers.
type Value[V any] struct {
	Value     V
	CreatedAt time.Time
	ExpireAt  time.Time // zero => never expires
	StaleAt   time.Time // zero => never stale
	Options   Options

	clock Clock
}

// New stamps v with opts. A nil clock means the system clock.
func New[V any](v V, opts Options, clock Clock) *Value[V] {
	val := &Value[V]{Value: v, clock: OrSystem(clock)}
	val.Refresh(opts)
	return val
}

// Clone returns a shallow copy. Tiers hand out clones so callers never share
// the value a tier holds.
func (v *Value[V]) Clone() *Value[V] {
	cp := *v
	return &cp
}

// Refresh recomputes CreatedAt, ExpireAt and StaleAt from opts.
// The base instant is opts.CreatedAt when set, otherwise the clock's now.
func (v *Value[V]) Refresh(opts Options) {
	if v.clock == nil {
		v.clock = SystemClock{}
	}
	base := opts.CreatedAt
	if base.IsZero() {
		base = v.clock.Now()
	}

	v.Options = opts
	v.CreatedAt = base
	v.ExpireAt = time.Time{}
	v.StaleAt = time.Time{}

	if opts.Expire != 0 {
		v.ExpireAt = base.Add(opts.Expire)
	}
	if opts.Stale != 0 {
		v.StaleAt = base.Add(opts.Stale)
	}
}

// IsExpired is true at or after ExpireAt. An unset expiry never expires.
func (v *Value[V]) IsExpired() bool {
	return reached(v.ExpireAt, v.clock)
}

// IsStale is true at or after StaleAt. An unset stale threshold never triggers.
func (v *Value[V]) IsStale() bool {
	return reached(v.StaleAt, v.clock)
}

// Usable reports whether the value may still be served in some form:
// it is either fresh or not yet stale.
func (v *Value[V]) Usable() bool {
	return !(v.IsExpired() && v.IsStale())
}

func reached(at time.Time, c Clock) bool {
	if at.IsZero() {
		return false
	}
	return !OrSystem(c).Now().Before(at)
}
