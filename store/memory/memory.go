// Package memory is an unbounded in-process tier. Entries live until deleted
// or cleared; nothing is ever evicted.
package memory

import (
	"context"
	"sync"

	"github.com/unkn0wn-root/tiercache/store"
	"github.com/unkn0wn-root/tiercache/ttl"
)

type Store[V any] struct {
	mu    sync.RWMutex
	m     map[string]*ttl.Value[V]
	clock ttl.Clock
	stats store.Counter
}

var _ store.Store[struct{}] = (*Store[struct{}])(nil)

// New returns an empty store. A nil clock means the system clock.
func New[V any](clock ttl.Clock) *Store[V] {
	return &Store[V]{
		m:     make(map[string]*ttl.Value[V]),
		clock: ttl.OrSystem(clock),
	}
}

func (s *Store[V]) Name() string { return "memory" }

func (s *Store[V]) Get(_ context.Context, key string) (*ttl.Value[V], bool, error) {
	s.mu.RLock()
	v, ok := s.m[key]
	s.mu.RUnlock()

	s.stats.Record(ok && v.Usable())
	if !ok {
		return nil, false, nil
	}
	return v.Clone(), true, nil
}

func (s *Store[V]) Set(_ context.Context, key string, value V, opts ttl.Options) (*ttl.Value[V], error) {
	v := ttl.New(value, opts, s.clock)
	s.mu.Lock()
	s.m[key] = v
	s.mu.Unlock()
	return v.Clone(), nil
}

func (s *Store[V]) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}

func (s *Store[V]) Clear(context.Context) error {
	s.mu.Lock()
	s.m = make(map[string]*ttl.Value[V])
	s.mu.Unlock()
	return nil
}

func (s *Store[V]) Size(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m), nil
}

func (s *Store[V]) Stats() store.Stats      { return s.stats.Stats() }
func (s *Store[V]) ResetStats() store.Stats { return s.stats.Reset() }
