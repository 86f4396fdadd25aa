package store

import "sync/atomic"

// Stats counts Get calls and usable hits. Both counters only grow until reset.
type Stats struct {
	GetCount uint64 `json:"getCount"`
	HitCount uint64 `json:"hitCount"`
}

// Add returns the field-wise sum of s and o.
func (s Stats) Add(o Stats) Stats {
	return Stats{GetCount: s.GetCount + o.GetCount, HitCount: s.HitCount + o.HitCount}
}

// HitRatio is HitCount/GetCount, or 0 before the first Get.
func (s Stats) HitRatio() float64 {
	if s.GetCount == 0 {
		return 0
	}
	return float64(s.HitCount) / float64(s.GetCount)
}

// Counter is the lock-free stats bookkeeping shared by the tier implementations.
// The zero value is ready to use.
type Counter struct {
	gets atomic.Uint64
	hits atomic.Uint64
}

// Record counts one Get; hit marks it as having found a usable value.
func (c *Counter) Record(hit bool) {
	c.gets.Add(1)
	if hit {
		c.hits.Add(1)
	}
}

func (c *Counter) Stats() Stats {
	return Stats{GetCount: c.gets.Load(), HitCount: c.hits.Load()}
}

// Reset zeroes both counters and returns the post-reset snapshot.
func (c *Counter) Reset() Stats {
	c.gets.Store(0)
	c.hits.Store(0)
	return c.Stats()
}
