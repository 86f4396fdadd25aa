package store

import "sync"

// Handlers is a registry of out-of-band error handlers. Tiers embed it to
// implement ErrorReporter. The zero value is ready to use.
type Handlers struct {
	mu   sync.RWMutex
	next uint64
	m    map[uint64]func(error)
}

func (h *Handlers) RegisterErrorHandler(fn func(error)) (unregister func()) {
	h.mu.Lock()
	if h.m == nil {
		h.m = make(map[uint64]func(error))
	}
	id := h.next
	h.next++
	h.m[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.m, id)
			h.mu.Unlock()
		})
	}
}

// Report delivers err to every registered handler. A panicking handler is
// recovered so the remaining handlers still run.
func (h *Handlers) Report(err error) {
	h.mu.RLock()
	fns := make([]func(error), 0, len(h.m))
	for _, fn := range h.m {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() { _ = recover() }()
			fn(err)
		}()
	}
}

// Len returns the number of registered handlers.
func (h *Handlers) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.m)
}
