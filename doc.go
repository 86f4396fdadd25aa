// Package tiercache puts a slow or failing computation (a Producer) behind an
// ordered list of cache tiers.
//
// Components:
//   - ttl.Value: a payload stamped with expiry and staleness instants.
//   - store.Store[V]: one tier (memory, LRU, ristretto, bigcache, redis...).
//   - Cache[V]: probes tiers in order, writes through all of them, and runs
//     the stale-while-revalidate policy in Wrap.
//
// Lifetime axes:
//
//	expire: past it, Wrap recomputes the value
//	stale:  past it, a value may no longer be served when recomputing fails
//
// An axis that is not set never triggers.
//
// Wrap:
//
//	v, err := cache.Wrap(ctx, "user:42", tiercache.Func(loadUser), ttl.Options{
//	    Expire: time.Minute,     // recompute after a minute
//	    Stale:  10 * time.Minute, // serve the old value for up to 10m if loading fails
//	})
//
// A producer may override the options for the value it returns (see WithOptions)
// or force a failure through even when an old value exists (see NonCacheable).
package tiercache
