package tiercache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/tiercache/store"
	"github.com/unkn0wn-root/tiercache/timeout"
	"github.com/unkn0wn-root/tiercache/ttl"
)

type tier[V any] struct {
	name string
	s    store.Store[V]
}

// Cache composes an ordered list of tiers into one logical cache.
// It is safe for concurrent use and holds no lock of its own around tier calls.
type Cache[V any] struct {
	tiers         []tier[V]
	timeout       time.Duration
	log           Logger
	hooks         Hooks
	coalesce      bool
	asyncPopulate bool

	subs       subscribers
	sf         singleflight.Group
	pending    sync.WaitGroup
	mu         sync.Mutex // guards closed and pending.Add
	closed     bool
	unregister []func()
	closeOnce  sync.Once
	closeErr   error
}

// TierStats is one tier's counters as reported by Cache.TierStats.
type TierStats struct {
	Name  string
	Stats store.Stats
}

func New[V any](opts Options[V]) (*Cache[V], error) {
	if len(opts.Stores) == 0 {
		return nil, ErrNoStores
	}

	c := &Cache[V]{
		timeout:       opts.Timeout,
		coalesce:      opts.Coalesce,
		asyncPopulate: opts.AsyncPopulate,
	}
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.subs.log = c.log

	// validate before registering on any tier
	for i, s := range opts.Stores {
		if s == nil {
			return nil, fmt.Errorf("%w (index %d)", ErrNilStore, i)
		}
	}

	seen := make(map[string]bool, len(opts.Stores))
	c.tiers = make([]tier[V], 0, len(opts.Stores))
	for i, s := range opts.Stores {
		t := tier[V]{name: tierName(i, s, seen), s: s}
		c.tiers = append(c.tiers, t)

		if r, ok := s.(store.ErrorReporter); ok {
			name := t.name
			c.unregister = append(c.unregister, r.RegisterErrorHandler(func(err error) {
				c.log.Warn("tier reported an error", Fields{"tier": name, "err": err})
				c.hooks.TierError(name, "", err)
				c.subs.emit(ErrorEvent{Message: msgTierReported, Tier: name, Err: err})
			}))
		}
	}
	return c, nil
}

// OnError subscribes h to the error channel. A panicking handler is recovered
// and logged; it never affects the operation that raised the event.
func (c *Cache[V]) OnError(h ErrorHandler) (unregister func()) {
	return c.subs.add(h)
}

// Get probes the tiers in order and returns the first usable value.
// A tier that fails or exceeds Options.Timeout is reported on the error
// channel and skipped.
func (c *Cache[V]) Get(ctx context.Context, key string) (*ttl.Value[V], bool) {
	for _, t := range c.tiers {
		v, ok, err := c.getFrom(ctx, t, key)
		if err != nil {
			c.log.Warn("tier get failed", Fields{"key": key, "tier": t.name, "err": err})
			c.hooks.TierError(t.name, key, err)
			c.subs.emit(ErrorEvent{Message: msgGetFailed, Key: key, Tier: t.name, Err: err})
			continue
		}
		if ok && v.Usable() {
			return v, true
		}
	}
	return nil, false
}

type lookup[V any] struct {
	v  *ttl.Value[V]
	ok bool
}

func (c *Cache[V]) getFrom(ctx context.Context, t tier[V], key string) (*ttl.Value[V], bool, error) {
	r, err := timeout.Do(ctx, c.timeout, func(ctx context.Context) (lookup[V], error) {
		v, ok, err := t.s.Get(ctx, key)
		return lookup[V]{v: v, ok: ok}, err
	})
	if err != nil {
		return nil, false, err
	}
	return r.v, r.ok && r.v != nil, nil
}

// Set writes value to every tier concurrently and returns once all writes
// have settled. Failed tiers are reported as joined *TierError values; a
// failing tier never prevents the others from being written.
func (c *Cache[V]) Set(ctx context.Context, key string, value V, opts ttl.Options) error {
	return errors.Join(c.fanOut(ctx, "set", key, func(ctx context.Context, s store.Store[V]) error {
		_, err := s.Set(ctx, key, value, opts)
		return err
	})...)
}

// Delete removes key from every tier.
func (c *Cache[V]) Delete(ctx context.Context, key string) error {
	return errors.Join(c.fanOut(ctx, "delete", key, func(ctx context.Context, s store.Store[V]) error {
		return s.Delete(ctx, key)
	})...)
}

// Clear empties every tier. There is no ordering across tiers.
func (c *Cache[V]) Clear(ctx context.Context) error {
	return errors.Join(c.fanOut(ctx, "clear", "", func(ctx context.Context, s store.Store[V]) error {
		return s.Clear(ctx)
	})...)
}

func (c *Cache[V]) fanOut(ctx context.Context, op, key string, fn func(context.Context, store.Store[V]) error) []error {
	errs := make([]error, len(c.tiers))
	var g errgroup.Group
	for i, t := range c.tiers {
		i, t := i, t
		g.Go(func() error {
			if err := fn(ctx, t.s); err != nil {
				errs[i] = &TierError{Op: op, Tier: t.name, Key: key, Err: err}
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// Refresh runs produce and writes its value to every tier when the resolved
// options are cacheable (expire or stale positive). Options returned by the
// producer replace opts. Producer failures are returned unchanged.
//
// Tier write failures do not fail Refresh: they are logged and reported on
// the error channel.
func (c *Cache[V]) Refresh(ctx context.Context, key string, produce Producer[V], opts ttl.Options) (V, error) {
	if !c.coalesce {
		return c.refresh(ctx, key, produce, opts)
	}
	r, err, shared := c.sf.Do(key, func() (any, error) {
		return c.refresh(ctx, key, produce, opts)
	})
	if shared {
		c.log.Debug("refresh shared with concurrent caller", Fields{"key": key})
	}
	if err != nil {
		var zero V
		return zero, err
	}
	v, _ := r.(V)
	return v, nil
}

func (c *Cache[V]) refresh(ctx context.Context, key string, produce Producer[V], opts ttl.Options) (V, error) {
	c.log.Debug("refreshing", Fields{"key": key})
	res, err := produce(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}

	resolved := opts
	if res.Options != nil {
		resolved = *res.Options
	}
	if !resolved.Cacheable() {
		c.log.Debug("population skipped: options not cacheable", Fields{"key": key})
		c.hooks.PopulateSkipped(key)
		return res.Value, nil
	}

	if c.asyncPopulate {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			c.log.Debug("population skipped: cache closed", Fields{"key": key})
			return res.Value, nil
		}
		c.pending.Add(1)
		c.mu.Unlock()
		go func() {
			defer c.pending.Done()
			c.populate(context.WithoutCancel(ctx), key, res.Value, resolved)
		}()
		return res.Value, nil
	}
	c.populate(ctx, key, res.Value, resolved)
	return res.Value, nil
}

func (c *Cache[V]) populate(ctx context.Context, key string, value V, opts ttl.Options) {
	errs := c.fanOut(ctx, "set", key, func(ctx context.Context, s store.Store[V]) error {
		_, err := s.Set(ctx, key, value, opts)
		return err
	})
	for _, err := range errs {
		var te *TierError
		if !errors.As(err, &te) {
			continue
		}
		c.log.Error("population failed", Fields{"key": key, "tier": te.Tier, "err": te.Err})
		c.hooks.PopulateFailed(te.Tier, key, te.Err)
		c.subs.emit(ErrorEvent{Message: msgSetFailed, Key: key, Tier: te.Tier, Err: te.Err})
	}
}

// Wrap returns the cached value for key, computing it with produce when it is
// missing or expired.
//
//   - fresh hit: returned as is, produce is not called.
//   - miss or expired: produce runs through Refresh. On failure, a cached
//     value that is not yet stale is returned instead, unless the failure was
//     tagged with NonCacheable.
func (c *Cache[V]) Wrap(ctx context.Context, key string, produce Producer[V], opts ttl.Options) (V, error) {
	cached, ok := c.Get(ctx, key)
	if ok && !cached.IsExpired() {
		return cached.Value, nil
	}

	v, err := c.Refresh(ctx, key, produce, opts)
	if err == nil {
		return v, nil
	}
	if !ok || cached.IsStale() || IsNonCacheable(err) {
		var zero V
		return zero, err
	}

	c.log.Info("serving previous value after refresh failure", Fields{"key": key, "err": err})
	c.hooks.StaleServed(key, err)
	return cached.Value, nil
}

// Stats sums the counters of every tier.
func (c *Cache[V]) Stats() store.Stats {
	var sum store.Stats
	for _, t := range c.tiers {
		sum = sum.Add(t.s.Stats())
	}
	return sum
}

// ResetStats resets every tier and returns the aggregate after the reset.
func (c *Cache[V]) ResetStats() store.Stats {
	for _, t := range c.tiers {
		t.s.ResetStats()
	}
	return c.Stats()
}

// TierStats returns each tier's counters in probe order.
func (c *Cache[V]) TierStats() []TierStats {
	out := make([]TierStats, len(c.tiers))
	for i, t := range c.tiers {
		out[i] = TierStats{Name: t.name, Stats: t.s.Stats()}
	}
	return out
}

// Flush waits for writes started by AsyncPopulate. Refresh calls that want
// to start a write block until Flush returns.
func (c *Cache[V]) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending.Wait()
}

// Close stops listening to tier error reports, waits for pending writes and
// closes every tier that holds resources. Later AsyncPopulate writes are
// dropped. Safe to call multiple times.
func (c *Cache[V]) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		for _, un := range c.unregister {
			un()
		}
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.Flush()

		var errs []error
		for _, t := range c.tiers {
			if cl, ok := t.s.(store.Closer); ok {
				if err := cl.Close(ctx); err != nil {
					errs = append(errs, &TierError{Op: "close", Tier: t.name, Err: err})
				}
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
