// Package ristretto is a bounded in-process tier whose capacity is a total
// weight (cost) rather than an entry count. Admission and eviction are left to
// ristretto's TinyLFU policy: a Set may be refused when the tier is full of
// more valuable entries.
package ristretto

import (
	"context"
	"errors"
	"sync"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/tiercache/store"
	"github.com/unkn0wn-root/tiercache/ttl"
)

// ErrRejected is returned by Set when ristretto drops the write.
var ErrRejected = errors.New("ristretto store: set rejected")

type Config[V any] struct {
	NumCounters int64 // keys tracked for admission; ~10x expected entries
	MaxCost     int64 // total weight capacity
	BufferItems int64 // 0 => 64
	Metrics     bool
	// Cost weighs one entry. nil => every entry weighs 1, making MaxCost an
	// entry count.
	Cost  func(key string, value V) int64
	Clock ttl.Clock
}

type entry[V any] struct {
	key string
	val *ttl.Value[V]
}

// Compile-time check that Store implements store.Store.
var _ store.Store[struct{}] = (*Store[struct{}])(nil)

type Store[V any] struct {
	c     *rc.Cache
	cost  func(string, V) int64
	clock ttl.Clock
	stats store.Counter

	// live keys, kept in sync through ristretto's evict/reject callbacks
	mu   sync.Mutex
	live map[string]*entry[V]
}

func New[V any](cfg Config[V]) (*Store[V], error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 {
		return nil, errors.New("ristretto store: invalid config")
	}
	s := &Store[V]{
		cost:  cfg.Cost,
		clock: ttl.OrSystem(cfg.Clock),
		live:  make(map[string]*entry[V]),
	}
	if s.cost == nil {
		s.cost = func(string, V) int64 { return 1 }
	}

	c, err := rc.NewCache(&rc.Config{
		NumCounters:        cfg.NumCounters,
		MaxCost:            cfg.MaxCost,
		BufferItems:        coalesce(cfg.BufferItems, 64),
		Metrics:            cfg.Metrics,
		IgnoreInternalCost: true,
		OnEvict:            s.drop,
		OnReject:           s.drop,
	})
	if err != nil {
		return nil, err
	}
	s.c = c
	return s, nil
}

func (s *Store[V]) Name() string { return "ristretto" }

func (s *Store[V]) Get(_ context.Context, key string) (*ttl.Value[V], bool, error) {
	raw, ok := s.c.Get(key)
	e, _ := raw.(*entry[V])
	if !ok || e == nil {
		s.stats.Record(false)
		return nil, false, nil
	}
	s.stats.Record(e.val.Usable())
	return e.val.Clone(), true, nil
}

// Set waits for ristretto to apply the write so the value is readable on return.
// No ristretto TTL is used: expired values are kept for stale fallback and only
// leave the tier by eviction, Delete or Clear.
func (s *Store[V]) Set(_ context.Context, key string, value V, opts ttl.Options) (*ttl.Value[V], error) {
	v := ttl.New(value, opts, s.clock)
	e := &entry[V]{key: key, val: v}

	s.mu.Lock()
	s.live[key] = e
	s.mu.Unlock()

	if !s.c.Set(key, e, s.cost(key, value)) {
		s.forget(e)
		return nil, ErrRejected
	}
	s.c.Wait()

	// the policy may still have refused the item; OnReject already ran in Wait
	s.mu.Lock()
	kept := s.live[key] == e
	s.mu.Unlock()
	if !kept {
		return nil, ErrRejected
	}
	return v.Clone(), nil
}

func (s *Store[V]) Delete(_ context.Context, key string) error {
	s.c.Del(key)
	s.mu.Lock()
	delete(s.live, key)
	s.mu.Unlock()
	return nil
}

func (s *Store[V]) Clear(context.Context) error {
	s.c.Clear()
	s.mu.Lock()
	s.live = make(map[string]*entry[V])
	s.mu.Unlock()
	return nil
}

func (s *Store[V]) Size(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live), nil
}

func (s *Store[V]) Stats() store.Stats      { return s.stats.Stats() }
func (s *Store[V]) ResetStats() store.Stats { return s.stats.Reset() }

func (s *Store[V]) Close(context.Context) error {
	s.c.Close()
	return nil
}

// Metrics exposes ristretto's own counters when Config.Metrics is set.
func (s *Store[V]) Metrics() *rc.Metrics { return s.c.Metrics }

func (s *Store[V]) drop(item *rc.Item) {
	if e, ok := item.Value.(*entry[V]); ok {
		s.forget(e)
	}
}

func (s *Store[V]) forget(e *entry[V]) {
	s.mu.Lock()
	if s.live[e.key] == e {
		delete(s.live, e.key)
	}
	s.mu.Unlock()
}

func coalesce(v, def int64) int64 {
	if v == 0 {
		return def
	}
	return v
}
