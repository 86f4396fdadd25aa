package tiercache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/tiercache/store"
	"github.com/unkn0wn-root/tiercache/store/memory"
	"github.com/unkn0wn-root/tiercache/timeout"
	"github.com/unkn0wn-root/tiercache/ttl"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// failingStore fails every call.
type failingStore struct {
	*memory.Store[string]
	err error
}

func (s *failingStore) Name() string { return "failing" }

func (s *failingStore) Get(context.Context, string) (*ttl.Value[string], bool, error) {
	return nil, false, s.err
}

func (s *failingStore) Set(context.Context, string, string, ttl.Options) (*ttl.Value[string], error) {
	return nil, s.err
}

// slowStore blocks Get until release is closed.
type slowStore struct {
	*memory.Store[string]
	release chan struct{}
}

func (s *slowStore) Name() string { return "slow" }

func (s *slowStore) Get(ctx context.Context, key string) (*ttl.Value[string], bool, error) {
	<-s.release
	return s.Store.Get(ctx, key)
}

// reportingStore reports out-of-band failures and tracks Close.
type reportingStore struct {
	*memory.Store[string]
	handlers store.Handlers
	closed   atomic.Int32
}

func (s *reportingStore) Name() string { return "remote" }

func (s *reportingStore) RegisterErrorHandler(h func(error)) func() {
	return s.handlers.RegisterErrorHandler(h)
}

func (s *reportingStore) Close(context.Context) error {
	s.closed.Add(1)
	return nil
}

type countingHooks struct {
	NopHooks
	tierErrors atomic.Int32
	stale      atomic.Int32
	skipped    atomic.Int32
	popFailed  atomic.Int32
}

func (h *countingHooks) TierError(string, string, error)      { h.tierErrors.Add(1) }
func (h *countingHooks) StaleServed(string, error)            { h.stale.Add(1) }
func (h *countingHooks) PopulateSkipped(string)               { h.skipped.Add(1) }
func (h *countingHooks) PopulateFailed(string, string, error) { h.popFailed.Add(1) }

func newTestCache(t *testing.T, opts Options[string]) *Cache[string] {
	t.Helper()
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

// counter returns a producer yielding v and the number of times it ran.
func counter(v string, err error) (Producer[string], *atomic.Int32) {
	var n atomic.Int32
	return Func(func(context.Context, string) (string, error) {
		n.Add(1)
		return v, err
	}), &n
}

func collectEvents(c *Cache[string]) func() []ErrorEvent {
	var mu sync.Mutex
	var evs []ErrorEvent
	c.OnError(func(ev ErrorEvent) {
		mu.Lock()
		evs = append(evs, ev)
		mu.Unlock()
	})
	return func() []ErrorEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]ErrorEvent(nil), evs...)
	}
}

func TestNewRequiresStores(t *testing.T) {
	if _, err := New(Options[string]{}); !errors.Is(err, ErrNoStores) {
		t.Fatalf("err=%v want ErrNoStores", err)
	}
	if _, err := New(Options[string]{Stores: []store.Store[string]{}}); !errors.Is(err, ErrNoStores) {
		t.Fatalf("err=%v want ErrNoStores", err)
	}
}

func TestStatsAcrossTiers(t *testing.T) {
	ctx := context.Background()
	a, b := memory.New[string](nil), memory.New[string](nil)
	c := newTestCache(t, Options[string]{Stores: []store.Store[string]{a, b}})

	if _, err := b.Set(ctx, "k", "v", ttl.Options{Expire: 100 * time.Millisecond}); err != nil {
		t.Fatal(err)
	}

	for round := 1; round <= 2; round++ {
		v, ok := c.Get(ctx, "k")
		if !ok || v.Value != "v" {
			t.Fatalf("round %d: ok=%v v=%v", round, ok, v)
		}
		want := store.Stats{GetCount: uint64(round), HitCount: 0}
		if got := a.Stats(); got != want {
			t.Fatalf("round %d: A stats=%+v want %+v", round, got, want)
		}
		want.HitCount = uint64(round)
		if got := b.Stats(); got != want {
			t.Fatalf("round %d: B stats=%+v want %+v", round, got, want)
		}
	}

	if got := c.Stats(); got != (store.Stats{GetCount: 4, HitCount: 2}) {
		t.Fatalf("aggregate=%+v", got)
	}
	if got := c.ResetStats(); got != (store.Stats{}) {
		t.Fatalf("after reset=%+v", got)
	}
	if a.Stats() != (store.Stats{}) || b.Stats() != (store.Stats{}) {
		t.Fatalf("tiers not reset")
	}
}

func TestGetStopsAtFirstUsableTier(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	a, b := memory.New[string](clock), memory.New[string](clock)
	c := newTestCache(t, Options[string]{Stores: []store.Store[string]{a, b}})

	_, _ = a.Set(ctx, "k", "from-a", ttl.Options{})
	_, _ = b.Set(ctx, "k", "from-b", ttl.Options{})
	if v, _ := c.Get(ctx, "k"); v == nil || v.Value != "from-a" {
		t.Fatalf("got %v want from-a", v)
	}
	if b.Stats().GetCount != 0 {
		t.Fatalf("second tier probed after a hit")
	}

	// expired and stale in A: not usable, probing continues
	_, _ = a.Set(ctx, "k", "from-a", ttl.Options{Expire: time.Second, Stale: time.Second})
	clock.Advance(2 * time.Second)
	if v, _ := c.Get(ctx, "k"); v == nil || v.Value != "from-b" {
		t.Fatalf("got %v want from-b", v)
	}

	if _, ok := c.Get(ctx, "missing"); ok {
		t.Fatalf("missing key reported present")
	}
}

func TestWrapFreshHitSkipsProducer(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, Options[string]{Stores: []store.Store[string]{memory.New[string](nil)}})
	_ = c.Set(ctx, "k", "cached", ttl.Options{Expire: time.Hour})

	produce, calls := counter("fresh", nil)
	v, err := c.Wrap(ctx, "k", produce, ttl.Options{Expire: time.Hour})
	if err != nil || v != "cached" {
		t.Fatalf("v=%q err=%v", v, err)
	}
	if calls.Load() != 0 {
		t.Fatalf("producer called %d times", calls.Load())
	}
}

func TestWrapMissPopulatesEveryTier(t *testing.T) {
	ctx := context.Background()
	a, b := memory.New[string](nil), memory.New[string](nil)
	c := newTestCache(t, Options[string]{Stores: []store.Store[string]{a, b}})

	produce, calls := counter("computed", nil)
	opts := ttl.Options{Expire: time.Minute, Stale: time.Hour}
	v, err := c.Wrap(ctx, "k", produce, opts)
	if err != nil || v != "computed" || calls.Load() != 1 {
		t.Fatalf("v=%q err=%v calls=%d", v, err, calls.Load())
	}

	for name, s := range map[string]*memory.Store[string]{"a": a, "b": b} {
		got, ok, _ := s.Get(ctx, "k")
		if !ok || got.Value != "computed" || got.Options.Expire != opts.Expire || got.Options.Stale != opts.Stale {
			t.Fatalf("tier %s: ok=%v got=%+v", name, ok, got)
		}
	}

	if v, err := c.Wrap(ctx, "k", produce, opts); err != nil || v != "computed" || calls.Load() != 1 {
		t.Fatalf("second wrap: v=%q err=%v calls=%d", v, err, calls.Load())
	}
}

func TestProducerOptionsOverrideCallerOptions(t *testing.T) {
	ctx := context.Background()
	m := memory.New[string](nil)
	c := newTestCache(t, Options[string]{Stores: []store.Store[string]{m}})

	produce := Producer[string](func(context.Context, string) (Result[string], error) {
		return WithOptions("v", ttl.Options{Expire: 10 * time.Millisecond, Stale: 5 * time.Millisecond}), nil
	})
	if _, err := c.Wrap(ctx, "k", produce, ttl.Options{Expire: time.Hour, Stale: time.Hour}); err != nil {
		t.Fatal(err)
	}

	got, ok, _ := m.Get(ctx, "k")
	if !ok {
		t.Fatalf("value not stored")
	}
	if got.Options.Expire != 10*time.Millisecond || got.Options.Stale != 5*time.Millisecond {
		t.Fatalf("stored options=%+v", got.Options)
	}
}

func TestNonCacheableOptionsSkipPopulation(t *testing.T) {
	ctx := context.Background()
	m := memory.New[string](nil)
	hooks := &countingHooks{}
	c := newTestCache(t, Options[string]{Stores: []store.Store[string]{m}, Hooks: hooks})

	produce, calls := counter("v", nil)
	for i := 0; i < 2; i++ {
		if v, err := c.Wrap(ctx, "k", produce, ttl.Options{}); err != nil || v != "v" {
			t.Fatalf("v=%q err=%v", v, err)
		}
	}
	if n, _ := m.Size(ctx); n != 0 {
		t.Fatalf("size=%d want 0", n)
	}
	if calls.Load() != 2 || hooks.skipped.Load() != 2 {
		t.Fatalf("calls=%d skipped=%d", calls.Load(), hooks.skipped.Load())
	}

	override := Producer[string](func(context.Context, string) (Result[string], error) {
		return WithOptions("v", ttl.Options{Expire: -time.Second}), nil
	})
	if _, err := c.Refresh(ctx, "k", override, ttl.Options{Expire: time.Hour}); err != nil {
		t.Fatal(err)
	}
	if n, _ := m.Size(ctx); n != 0 {
		t.Fatalf("override with non-positive expire must not populate")
	}
}

func TestWrapStaleFallback(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	boom := errors.New("upstream down")

	cases := []struct {
		name    string
		opts    ttl.Options
		advance time.Duration
		err     error
		want    string
		wantErr error
	}{
		{"expired not stale serves previous", ttl.Options{Expire: 10 * time.Second, Stale: time.Minute}, 20 * time.Second, boom, "old", nil},
		{"stale unset serves previous", ttl.Options{Expire: 10 * time.Second}, time.Hour, boom, "old", nil},
		{"expired and stale propagates", ttl.Options{Expire: 10 * time.Second, Stale: 5 * time.Second}, 20 * time.Second, boom, "", boom},
		{"non-cacheable propagates", ttl.Options{Expire: 10 * time.Second, Stale: time.Minute}, 20 * time.Second, NonCacheable(boom), "", boom},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hooks := &countingHooks{}
			c := newTestCache(t, Options[string]{Stores: []store.Store[string]{memory.New[string](clock)}, Hooks: hooks})
			_ = c.Set(ctx, "k", "old", tc.opts)
			clock.Advance(tc.advance)

			produce, calls := counter("", tc.err)
			v, err := c.Wrap(ctx, "k", produce, tc.opts)
			if calls.Load() != 1 {
				t.Fatalf("producer calls=%d", calls.Load())
			}
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err=%v want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil || v != tc.want {
				t.Fatalf("v=%q err=%v", v, err)
			}
			if hooks.stale.Load() != 1 {
				t.Fatalf("StaleServed not reported")
			}
		})
	}
}

func TestWrapMissPropagatesFailure(t *testing.T) {
	c := newTestCache(t, Options[string]{Stores: []store.Store[string]{memory.New[string](nil)}})
	boom := errors.New("boom")
	produce, _ := counter("", boom)
	if _, err := c.Wrap(context.Background(), "k", produce, ttl.Options{Expire: time.Second}); !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	if IsNonCacheable(boom) {
		t.Fatalf("plain error reported as non-cacheable")
	}
}

func TestNonCacheableDoesNotAffectFreshHits(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, Options[string]{Stores: []store.Store[string]{memory.New[string](nil)}})
	_ = c.Set(ctx, "k", "cached", ttl.Options{Expire: time.Hour})

	produce, calls := counter("", NonCacheable(errors.New("nope")))
	if v, err := c.Wrap(ctx, "k", produce, ttl.Options{}); err != nil || v != "cached" || calls.Load() != 0 {
		t.Fatalf("v=%q err=%v calls=%d", v, err, calls.Load())
	}
}

func TestFailingTierIsIsolated(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection refused")
	bad := &failingStore{Store: memory.New[string](nil), err: boom}
	good := memory.New[string](nil)
	hooks := &countingHooks{}
	c := newTestCache(t, Options[string]{Stores: []store.Store[string]{bad, good}, Hooks: hooks})
	events := collectEvents(c)

	_, _ = good.Set(ctx, "k", "v", ttl.Options{})
	v, ok := c.Get(ctx, "k")
	if !ok || v.Value != "v" {
		t.Fatalf("ok=%v v=%v", ok, v)
	}

	evs := events()
	if len(evs) != 1 {
		t.Fatalf("events=%d want 1", len(evs))
	}
	ev := evs[0]
	if ev.Message != "Failed to get an item from store" || ev.Key != "k" || ev.Tier != "failing" || !errors.Is(ev.Err, boom) {
		t.Fatalf("event=%+v", ev)
	}
	if hooks.tierErrors.Load() != 1 {
		t.Fatalf("TierError hook not called")
	}
}

func TestSetReportsEveryFailedTier(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("read only")
	bad := &failingStore{Store: memory.New[string](nil), err: boom}
	good := memory.New[string](nil)
	c := newTestCache(t, Options[string]{Stores: []store.Store[string]{bad, good}})

	err := c.Set(ctx, "k", "v", ttl.Options{})
	var te *TierError
	if !errors.As(err, &te) || te.Tier != "failing" || te.Op != "set" || !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	if _, ok, _ := good.Get(ctx, "k"); !ok {
		t.Fatalf("healthy tier not written")
	}
}

func TestPopulationFailureDoesNotFailRefresh(t *testing.T) {
	ctx := context.Background()
	bad := &failingStore{Store: memory.New[string](nil), err: errors.New("oom")}
	good := memory.New[string](nil)
	hooks := &countingHooks{}
	c := newTestCache(t, Options[string]{Stores: []store.Store[string]{bad, good}, Hooks: hooks})
	events := collectEvents(c)

	produce, _ := counter("v", nil)
	if v, err := c.Refresh(ctx, "k", produce, ttl.Options{Expire: time.Minute}); err != nil || v != "v" {
		t.Fatalf("v=%q err=%v", v, err)
	}
	if hooks.popFailed.Load() != 1 {
		t.Fatalf("PopulateFailed=%d", hooks.popFailed.Load())
	}
	if evs := events(); len(evs) != 1 || evs[0].Tier != "failing" {
		t.Fatalf("events=%+v", evs)
	}
	if _, ok, _ := good.Get(ctx, "k"); !ok {
		t.Fatalf("healthy tier not populated")
	}
}

func TestTierTimeout(t *testing.T) {
	ctx := context.Background()
	slow := &slowStore{Store: memory.New[string](nil), release: make(chan struct{})}
	defer close(slow.release)
	fast := memory.New[string](nil)
	c := newTestCache(t, Options[string]{Stores: []store.Store[string]{slow, fast}, Timeout: 10 * time.Millisecond})
	events := collectEvents(c)

	_, _ = fast.Set(ctx, "k", "v", ttl.Options{})
	v, ok := c.Get(ctx, "k")
	if !ok || v.Value != "v" {
		t.Fatalf("ok=%v v=%v", ok, v)
	}

	evs := events()
	if len(evs) != 1 || evs[0].Tier != "slow" || !timeout.Is(evs[0].Err) {
		t.Fatalf("events=%+v", evs)
	}
}

func TestPanickingSubscriber(t *testing.T) {
	ctx := context.Background()
	bad := &failingStore{Store: memory.New[string](nil), err: errors.New("x")}
	c := newTestCache(t, Options[string]{Stores: []store.Store[string]{bad}})

	c.OnError(func(ErrorEvent) { panic("subscriber bug") })
	events := collectEvents(c)

	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatalf("unexpected hit")
	}
	if len(events()) != 1 {
		t.Fatalf("other subscribers must still be notified")
	}
}

func TestUnregisterSubscriber(t *testing.T) {
	bad := &failingStore{Store: memory.New[string](nil), err: errors.New("x")}
	c := newTestCache(t, Options[string]{Stores: []store.Store[string]{bad}})

	var n atomic.Int32
	unregister := c.OnError(func(ErrorEvent) { n.Add(1) })
	c.Get(context.Background(), "k")
	unregister()
	unregister()
	c.Get(context.Background(), "k")
	if n.Load() != 1 {
		t.Fatalf("handler calls=%d want 1", n.Load())
	}
}

func TestOutOfBandTierReports(t *testing.T) {
	remote := &reportingStore{Store: memory.New[string](nil)}
	c, err := New(Options[string]{Stores: []store.Store[string]{remote}})
	if err != nil {
		t.Fatal(err)
	}
	events := collectEvents(c)

	boom := errors.New("socket closed")
	remote.handlers.Report(boom)
	evs := events()
	if len(evs) != 1 || evs[0].Message != "Store reported an error" || evs[0].Tier != "remote" || !errors.Is(evs[0].Err, boom) {
		t.Fatalf("events=%+v", evs)
	}

	if err := c.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	_ = c.Close(context.Background())
	if remote.closed.Load() != 1 {
		t.Fatalf("tier closed %d times", remote.closed.Load())
	}
	if remote.handlers.Len() != 0 {
		t.Fatalf("cache still registered on tier after Close")
	}
}

func TestAsyncPopulate(t *testing.T) {
	ctx := context.Background()
	m := memory.New[string](nil)
	c := newTestCache(t, Options[string]{Stores: []store.Store[string]{m}, AsyncPopulate: true})

	produce, _ := counter("v", nil)
	if v, err := c.Refresh(ctx, "k", produce, ttl.Options{Expire: time.Minute}); err != nil || v != "v" {
		t.Fatalf("v=%q err=%v", v, err)
	}
	c.Flush()
	if _, ok, _ := m.Get(ctx, "k"); !ok {
		t.Fatalf("value not written after Flush")
	}
}

func TestCoalesceSharesProducer(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, Options[string]{Stores: []store.Store[string]{memory.New[string](nil)}, Coalesce: true})

	release := make(chan struct{})
	var calls atomic.Int32
	produce := Func(func(context.Context, string) (string, error) {
		calls.Add(1)
		<-release
		return "v", nil
	})

	const n = 8
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = c.Refresh(ctx, "k", produce, ttl.Options{Expire: time.Minute})
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("producer calls=%d want 1", calls.Load())
	}
	for i, r := range results {
		if r != "v" {
			t.Fatalf("result[%d]=%q", i, r)
		}
	}
}

func TestTierNames(t *testing.T) {
	c := newTestCache(t, Options[string]{Stores: []store.Store[string]{
		memory.New[string](nil),
		memory.New[string](nil),
		&reportingStore{Store: memory.New[string](nil)},
	}})

	var names []string
	for _, ts := range c.TierStats() {
		names = append(names, ts.Name)
	}
	want := []string{"memory", "memory-1", "remote"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names=%v want %v", names, want)
		}
	}
}

func TestDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	a, b := memory.New[string](nil), memory.New[string](nil)
	c := newTestCache(t, Options[string]{Stores: []store.Store[string]{a, b}})

	_ = c.Set(ctx, "k1", "v", ttl.Options{})
	_ = c.Set(ctx, "k2", "v", ttl.Options{})
	if err := c.Delete(ctx, "k1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(ctx, "k1"); ok {
		t.Fatalf("k1 still cached")
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	na, _ := a.Size(ctx)
	nb, _ := b.Size(ctx)
	if na != 0 || nb != 0 {
		t.Fatalf("sizes after clear: %d %d", na, nb)
	}
}

func TestNewRejectsNilStoreWithoutRegistering(t *testing.T) {
	remote := &reportingStore{Store: memory.New[string](nil)}
	_, err := New(Options[string]{Stores: []store.Store[string]{remote, nil}})
	if !errors.Is(err, ErrNilStore) {
		t.Fatalf("err=%v want ErrNilStore", err)
	}
	if remote.handlers.Len() != 0 {
		t.Fatalf("failed New left %d handlers registered", remote.handlers.Len())
	}
}

func TestAsyncPopulateAfterClose(t *testing.T) {
	ctx := context.Background()
	m := memory.New[string](nil)
	c, err := New(Options[string]{Stores: []store.Store[string]{m}, AsyncPopulate: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(ctx); err != nil {
		t.Fatal(err)
	}

	produce, _ := counter("v", nil)
	if v, err := c.Refresh(ctx, "k", produce, ttl.Options{Expire: time.Minute}); err != nil || v != "v" {
		t.Fatalf("v=%q err=%v", v, err)
	}
	c.Flush()
	if n, _ := m.Size(ctx); n != 0 {
		t.Fatalf("write started after Close")
	}
}

func TestAsyncPopulateConcurrentWithClose(t *testing.T) {
	ctx := context.Background()
	c, err := New(Options[string]{Stores: []store.Store[string]{memory.New[string](nil)}, AsyncPopulate: true})
	if err != nil {
		t.Fatal(err)
	}
	produce, _ := counter("v", nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := c.Refresh(ctx, "k", produce, ttl.Options{Expire: time.Minute}); err != nil {
					t.Errorf("Refresh: %v", err)
					return
				}
			}
		}()
	}
	for i := 0; i < 5; i++ {
		c.Flush()
	}
	if err := c.Close(ctx); err != nil {
		t.Fatal(err)
	}
	wg.Wait()
}
