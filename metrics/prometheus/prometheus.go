// Package prometheus exports cache statistics and events as Prometheus metrics.
//
// A Collector is both a prometheus.Collector and a tiercache.Hooks:
//
//	col := prometheus.New("myapp")
//	cache, _ := tiercache.New[User](tiercache.Options[User]{Stores: tiers, Hooks: col})
//	col.Track(cache)
//	registry.MustRegister(col)
package prometheus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/tiercache"
)

// StatsSource reports per-tier counters. *tiercache.Cache[V] implements it.
type StatsSource interface {
	TierStats() []tiercache.TierStats
}

// Collector implements prometheus.Collector and tiercache.Hooks.
type Collector struct {
	mu  sync.RWMutex
	src StatsSource

	gets *prometheus.Desc
	hits *prometheus.Desc

	tierErrors  *prometheus.CounterVec
	popFailed   *prometheus.CounterVec
	staleServed prometheus.Counter
	skipped     prometheus.Counter
}

// Compile-time checks.
var (
	_ prometheus.Collector = (*Collector)(nil)
	_ tiercache.Hooks      = (*Collector)(nil)
)

// New creates a collector whose metric names are prefixed with namespace.
func New(namespace string) *Collector {
	return &Collector{
		gets: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "tiercache", "gets"),
			"Get calls per tier since the last stats reset.",
			[]string{"tier"}, nil,
		),
		hits: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "tiercache", "hits"),
			"Usable hits per tier since the last stats reset.",
			[]string{"tier"}, nil,
		),
		tierErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tiercache",
			Name:      "tier_errors_total",
			Help:      "Tier failures skipped by the cache, including timeouts and out-of-band reports.",
		}, []string{"tier"}),
		popFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tiercache",
			Name:      "populate_errors_total",
			Help:      "Failed writes of produced values.",
		}, []string{"tier"}),
		staleServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tiercache",
			Name:      "stale_served_total",
			Help:      "Previous values served because recomputing failed.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tiercache",
			Name:      "populate_skipped_total",
			Help:      "Produced values not cached because their options were not cacheable.",
		}),
	}
}

// Track sets the cache whose tier stats are exported.
func (c *Collector) Track(src StatsSource) {
	c.mu.Lock()
	c.src = src
	c.mu.Unlock()
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.gets
	ch <- c.hits
	c.tierErrors.Describe(ch)
	c.popFailed.Describe(ch)
	c.staleServed.Describe(ch)
	c.skipped.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	src := c.src
	c.mu.RUnlock()

	if src != nil {
		// gauges: ResetStats moves them back to zero
		for _, ts := range src.TierStats() {
			ch <- prometheus.MustNewConstMetric(c.gets, prometheus.GaugeValue, float64(ts.Stats.GetCount), ts.Name)
			ch <- prometheus.MustNewConstMetric(c.hits, prometheus.GaugeValue, float64(ts.Stats.HitCount), ts.Name)
		}
	}
	c.tierErrors.Collect(ch)
	c.popFailed.Collect(ch)
	c.staleServed.Collect(ch)
	c.skipped.Collect(ch)
}

func (c *Collector) TierError(tier, _ string, _ error) { c.tierErrors.WithLabelValues(tier).Inc() }
func (c *Collector) StaleServed(string, error)         { c.staleServed.Inc() }
func (c *Collector) PopulateSkipped(string)            { c.skipped.Inc() }
func (c *Collector) PopulateFailed(tier, _ string, _ error) {
	c.popFailed.WithLabelValues(tier).Inc()
}
