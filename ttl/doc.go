// Package ttl implements the cached value model: a payload plus the instants at
// which it goes stale and expires.
//
// Staleness and expiry are independent axes. An axis whose duration is unset
// (zero) never triggers: a value with no Expire never expires and a value with
// no Stale never goes stale.
//
//	createdAt ───────── staleAt ───────── expireAt ─────────▶
//	   fresh, not stale     fresh, stale       expired (+stale)
//
// Stale may also be configured later than Expire, in which case a value is
// expired but still usable as a fallback until staleAt passes.
package ttl
