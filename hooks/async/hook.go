// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    StaleServedEvery: 10, // sample logs: ~every 10th stale fallback
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := tiercache.New[User](tiercache.Options[User]{
//	    Stores: []store.Store[User]{memory.New[User](nil), redisStore},
//	    Hooks:  hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/tiercache"
)

type Hooks struct {
	inner   tiercache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

var _ tiercache.Hooks = (*Hooks)(nil)

func New(inner tiercache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events arriving after
// Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped is the number of events discarded because the queue was full.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	defer func() {
		// send on closed queue
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) TierError(tier, key string, err error) {
	h.try(func() { h.inner.TierError(tier, key, err) })
}
func (h *Hooks) StaleServed(key string, err error) { h.try(func() { h.inner.StaleServed(key, err) }) }
func (h *Hooks) PopulateSkipped(key string)        { h.try(func() { h.inner.PopulateSkipped(key) }) }
func (h *Hooks) PopulateFailed(tier, key string, err error) {
	h.try(func() { h.inner.PopulateFailed(tier, key, err) })
}
