package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/tiercache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	TierErrorEvery   uint64
	StaleServedEvery uint64
	SkippedEvery     uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	tierErrCtr atomic.Uint64
	staleCtr   atomic.Uint64
	skipCtr    atomic.Uint64
}

var _ tiercache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if k == "" {
		return ""
	}
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) TierError(tier, key string, err error) {
	if h.l == nil || !sample(h.opts.TierErrorEvery, &h.tierErrCtr) {
		return
	}
	h.l.Warn("tiercache.tier_error",
		"tier", tier,
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) StaleServed(key string, err error) {
	if h.l == nil || !sample(h.opts.StaleServedEvery, &h.staleCtr) {
		return
	}
	h.l.Info("tiercache.stale_served",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) PopulateSkipped(key string) {
	if h.l == nil || !sample(h.opts.SkippedEvery, &h.skipCtr) {
		return
	}
	h.l.Debug("tiercache.populate_skipped",
		"key", h.redact(key))
}

func (h *Hooks) PopulateFailed(tier, key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("tiercache.populate_failed",
		"tier", tier,
		"key", h.redact(key),
		"err", err)
}
