package tiercache

import (
	"sync"
)

const (
	msgGetFailed    = "Failed to get an item from store"
	msgTierReported = "Store reported an error"
	msgSetFailed    = "Failed to set an item in store"
)

// ErrorEvent is one notification on the cache's error channel.
type ErrorEvent struct {
	Message string
	Key     string // empty for out-of-band tier reports
	Tier    string
	Err     error
}

// ErrorHandler receives error events. Handlers run synchronously on the
// goroutine that observed the failure and must not block.
type ErrorHandler func(ErrorEvent)

type subscribers struct {
	mu   sync.RWMutex
	next uint64
	m    map[uint64]ErrorHandler
	log  Logger
}

func (s *subscribers) add(h ErrorHandler) (unregister func()) {
	s.mu.Lock()
	if s.m == nil {
		s.m = make(map[uint64]ErrorHandler)
	}
	id := s.next
	s.next++
	s.m[id] = h
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.m, id)
			s.mu.Unlock()
		})
	}
}

func (s *subscribers) emit(ev ErrorEvent) {
	s.mu.RLock()
	hs := make([]ErrorHandler, 0, len(s.m))
	for _, h := range s.m {
		hs = append(hs, h)
	}
	s.mu.RUnlock()

	for _, h := range hs {
		s.call(h, ev)
	}
}

func (s *subscribers) call(h ErrorHandler, ev ErrorEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("error handler panicked", Fields{"panic": r, "message": ev.Message, "key": ev.Key})
		}
	}()
	h(ev)
}
