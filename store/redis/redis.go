// Package redis is the remote tier: values are serialized to the wire envelope
// and kept in a Redis server.
//
// When a value has an expiry, Redis is told to drop the key after the expiry
// rounded up to whole seconds, so the server never removes a value before it
// would have expired locally. Values without expiry are stored without a TTL.
//
// Connection failures reach RegisterErrorHandler subscribers only when no
// command is waiting on the dial (pool refills, idle connection upkeep). A dial
// failing under a command is returned by that command instead, so one failure
// is never reported twice.
//
// Clear issues FLUSHALL and Size issues DBSIZE: give the tier a dedicated
// database (or instance).
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/store"
	"github.com/unkn0wn-root/tiercache/ttl"
)

var ErrNilClient = errors.New("redis store: nil client")

type Config[V any] struct {
	Client      goredis.UniversalClient
	CloseClient bool                         // set true only if this store exclusively owns the client
	Codec       codec.Codec[ttl.Envelope[V]] // nil => JSON
	Clock       ttl.Clock
}

var (
	_ store.Store[struct{}] = (*Store[struct{}])(nil)
	_ store.ErrorReporter   = (*Store[struct{}])(nil)
	_ goredis.Hook          = (*dialHook)(nil)
)

type Store[V any] struct {
	rdb         goredis.UniversalClient
	closeClient bool
	codec       codec.Codec[ttl.Envelope[V]]
	clock       ttl.Clock
	stats       store.Counter
	handlers    store.Handlers
	closed      atomic.Bool
}

func New[V any](cfg Config[V]) (*Store[V], error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	s := &Store[V]{
		rdb:         cfg.Client,
		closeClient: cfg.CloseClient,
		codec:       cfg.Codec,
		clock:       ttl.OrSystem(cfg.Clock),
	}
	if s.codec == nil {
		s.codec = codec.JSON[ttl.Envelope[V]]{}
	}
	// go-redis has no RemoveHook: on a shared client the hook stays installed
	// for the client's lifetime and goes quiet once this store is closed
	s.rdb.AddHook(&dialHook{report: s.report})
	return s, nil
}

func (s *Store[V]) Name() string { return "redis" }

// Get returns (nil, false, nil) for a missing key or a payload that does not
// decode. Transport and server errors are returned as is.
func (s *Store[V]) Get(ctx context.Context, key string) (*ttl.Value[V], bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		s.stats.Record(false)
		return nil, false, nil
	}
	if err != nil {
		s.stats.Record(false)
		return nil, false, fmt.Errorf("redis store: get %q: %w", key, err)
	}
	v, ok := ttl.Deserialize(s.codec, b, s.clock)
	if !ok {
		s.stats.Record(false)
		return nil, false, nil
	}
	s.stats.Record(v.Usable())
	return v, true, nil
}

func (s *Store[V]) Set(ctx context.Context, key string, value V, opts ttl.Options) (*ttl.Value[V], error) {
	v := ttl.New(value, opts, s.clock)
	b, err := ttl.Serialize(s.codec, v)
	if err != nil {
		return nil, fmt.Errorf("redis store: encode %q: %w", key, err)
	}

	if secs := ExpireSeconds(opts.Expire); secs > 0 {
		err = s.rdb.SetEx(ctx, key, b, time.Duration(secs)*time.Second).Err()
	} else {
		err = s.rdb.Set(ctx, key, b, 0).Err()
	}
	if err != nil {
		return nil, fmt.Errorf("redis store: set %q: %w", key, err)
	}
	return v, nil
}

func (s *Store[V]) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis store: del %q: %w", key, err)
	}
	return nil
}

func (s *Store[V]) Clear(ctx context.Context) error {
	if err := s.rdb.FlushAll(ctx).Err(); err != nil {
		return fmt.Errorf("redis store: flushall: %w", err)
	}
	return nil
}

func (s *Store[V]) Size(ctx context.Context) (int, error) {
	n, err := s.rdb.DBSize(ctx).Result()
	if err != nil {
		return 0, fmt.Errorf("redis store: dbsize: %w", err)
	}
	return int(n), nil
}

// RegisterErrorHandler subscribes h to connection failures.
func (s *Store[V]) RegisterErrorHandler(h func(error)) (unregister func()) {
	return s.handlers.RegisterErrorHandler(h)
}

func (s *Store[V]) Stats() store.Stats      { return s.stats.Stats() }
func (s *Store[V]) ResetStats() store.Stats { return s.stats.Reset() }

func (s *Store[V]) report(err error) {
	if !s.closed.Load() {
		s.handlers.Report(err)
	}
}

// Close stops error reports and releases the underlying redis client only
// when this store owns it. Safe to call multiple times; repeated calls become
// no-ops.
func (s *Store[V]) Close(context.Context) error {
	s.closed.Store(true)
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

// ExpireSeconds converts an expiry to the whole-second TTL pushed to Redis,
// rounding up. Non-positive expiries yield 0 (no TTL).
func ExpireSeconds(expire time.Duration) int64 {
	if expire <= 0 {
		return 0
	}
	return int64((expire + time.Second - 1) / time.Second)
}

// commandKey marks contexts of dials made on behalf of a command.
type commandKey struct{}

func withCommand(ctx context.Context) context.Context {
	return context.WithValue(ctx, commandKey{}, true)
}

type dialHook struct {
	report func(error)
}

func (h *dialHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil && ctx.Value(commandKey{}) == nil {
			h.report(fmt.Errorf("redis store: dial %s: %w", addr, err))
		}
		return conn, err
	}
}

func (h *dialHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		return next(withCommand(ctx), cmd)
	}
}

func (h *dialHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		return next(withCommand(ctx), cmds)
	}
}
