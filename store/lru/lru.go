// Package lru is a bounded in-process tier that keeps at most Size entries and
// evicts the least recently used one on overflow.
package lru

import (
	"context"
	"errors"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/unkn0wn-root/tiercache/store"
	"github.com/unkn0wn-root/tiercache/ttl"
)

var ErrInvalidSize = errors.New("lru store: size must be positive")

type Config struct {
	Size  int       // max entries; required
	Clock ttl.Clock // nil => system clock
}

// Compile-time check that Store implements store.Store.
var _ store.Store[struct{}] = (*Store[struct{}])(nil)

type Store[V any] struct {
	cache     *lru.Cache[string, *ttl.Value[V]]
	clock     ttl.Clock
	stats     store.Counter
	evictions atomic.Uint64
}

func New[V any](cfg Config) (*Store[V], error) {
	if cfg.Size <= 0 {
		return nil, ErrInvalidSize
	}
	c, err := lru.New[string, *ttl.Value[V]](cfg.Size)
	if err != nil {
		return nil, err
	}
	return &Store[V]{cache: c, clock: ttl.OrSystem(cfg.Clock)}, nil
}

func (s *Store[V]) Name() string { return "lru" }

// Get marks the entry as recently used.
func (s *Store[V]) Get(_ context.Context, key string) (*ttl.Value[V], bool, error) {
	v, ok := s.cache.Get(key)
	s.stats.Record(ok && v.Usable())
	if !ok {
		return nil, false, nil
	}
	return v.Clone(), true, nil
}

func (s *Store[V]) Set(_ context.Context, key string, value V, opts ttl.Options) (*ttl.Value[V], error) {
	v := ttl.New(value, opts, s.clock)
	if evicted := s.cache.Add(key, v); evicted {
		s.evictions.Add(1)
	}
	return v.Clone(), nil
}

func (s *Store[V]) Delete(_ context.Context, key string) error {
	s.cache.Remove(key)
	return nil
}

// Clear purges the cache. Purged entries are not counted as evictions.
func (s *Store[V]) Clear(context.Context) error {
	s.cache.Purge()
	return nil
}

func (s *Store[V]) Size(context.Context) (int, error) {
	return s.cache.Len(), nil
}

// Evictions is the number of entries dropped to make room for new ones.
func (s *Store[V]) Evictions() uint64 { return s.evictions.Load() }

func (s *Store[V]) Stats() store.Stats      { return s.stats.Stats() }
func (s *Store[V]) ResetStats() store.Stats { return s.stats.Reset() }
