// Package bigcache is a byte-bounded in-process tier. Entries are kept
// serialized (wire envelope) in bigcache's sharded ring buffers, so a large
// tier adds no GC pressure. Capacity is HardMaxCacheSizeMB; the oldest entries
// are dropped first when it is reached, and every entry is dropped LifeWindow
// after it was written when CleanWindow is set.
package bigcache

import (
	"context"
	"errors"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/store"
	"github.com/unkn0wn-root/tiercache/ttl"
)

type Config[V any] struct {
	LifeWindow         time.Duration // 0 => 24h
	CleanWindow        time.Duration // 0 => entries are only removed under memory pressure
	Shards             int           // power of two; 0 => bigcache default
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited

	Codec codec.Codec[ttl.Envelope[V]] // nil => JSON
	Clock ttl.Clock
}

// Compile-time check that Store implements store.Store.
var _ store.Store[struct{}] = (*Store[struct{}])(nil)

type Store[V any] struct {
	c     *bc.BigCache
	codec codec.Codec[ttl.Envelope[V]]
	clock ttl.Clock
	stats store.Counter
}

func New[V any](ctx context.Context, cfg Config[V]) (*Store[V], error) {
	life := cfg.LifeWindow
	if life <= 0 {
		life = 24 * time.Hour
	}
	conf := bc.DefaultConfig(life)
	conf.CleanWindow = cfg.CleanWindow
	conf.Verbose = false
	if cfg.Shards > 0 {
		conf.Shards = cfg.Shards
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(ctx, conf)
	if err != nil {
		return nil, err
	}

	s := &Store[V]{c: c, codec: cfg.Codec, clock: ttl.OrSystem(cfg.Clock)}
	if s.codec == nil {
		s.codec = codec.JSON[ttl.Envelope[V]]{}
	}
	return s, nil
}

func (s *Store[V]) Name() string { return "bigcache" }

// Get treats an undecodable entry as a miss and removes it.
func (s *Store[V]) Get(_ context.Context, key string) (*ttl.Value[V], bool, error) {
	b, err := s.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		s.stats.Record(false)
		return nil, false, nil
	}
	if err != nil {
		s.stats.Record(false)
		return nil, false, err
	}
	v, ok := ttl.Deserialize(s.codec, b, s.clock)
	if !ok {
		_ = s.c.Delete(key) // self-heal
		s.stats.Record(false)
		return nil, false, nil
	}
	s.stats.Record(v.Usable())
	return v, true, nil
}

func (s *Store[V]) Set(_ context.Context, key string, value V, opts ttl.Options) (*ttl.Value[V], error) {
	v := ttl.New(value, opts, s.clock)
	b, err := ttl.Serialize(s.codec, v)
	if err != nil {
		return nil, err
	}
	if err := s.c.Set(key, b); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Store[V]) Delete(_ context.Context, key string) error {
	if err := s.c.Delete(key); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		return err
	}
	return nil
}

func (s *Store[V]) Clear(context.Context) error { return s.c.Reset() }

func (s *Store[V]) Size(context.Context) (int, error) { return s.c.Len(), nil }

func (s *Store[V]) Stats() store.Stats      { return s.stats.Stats() }
func (s *Store[V]) ResetStats() store.Stats { return s.stats.Reset() }

func (s *Store[V]) Close(context.Context) error { return s.c.Close() }
