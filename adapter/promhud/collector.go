// Package promhud exports hudbus and pool telemetry to Prometheus.
//
// Metrics are computed at scrape time from the bus performance records and
// pool stats, so there is no extra work on the emit or acquire paths.
//
// Example:
//
//	c := promhud.NewCollector(bus, promhud.WithNamespace("arena"))
//	if err := c.AddPool(damagePool); err != nil {
//		return err
//	}
//	prometheus.MustRegister(c)
package promhud

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/trickstertwo/hudbus"
	"github.com/trickstertwo/hudbus/pool"
)

// BusSource is the part of *hudbus.Bus the collector reads.
type BusSource interface {
	Metrics() map[string]hudbus.PerformanceRecord
	Stats() hudbus.BusStats
}

// PoolSource is satisfied by every *pool.Pool[T].
type PoolSource interface {
	Stats() pool.Stats
}

var _ BusSource = (*hudbus.Bus)(nil)

// Collector implements prometheus.Collector.
type Collector struct {
	bus BusSource

	mu    sync.RWMutex
	pools []PoolSource

	eventCount     *prometheus.Desc
	eventAvgMs     *prometheus.Desc
	eventMaxMs     *prometheus.Desc
	eventFrequency *prometheus.Desc
	eventHot       *prometheus.Desc

	busEmitted   *prometheus.Desc
	busDelivered *prometheus.Desc
	busFaults    *prometheus.Desc
	busSlow      *prometheus.Desc
	busSubs      *prometheus.Desc

	poolCreated   *prometheus.Desc
	poolInUse     *prometheus.Desc
	poolAvailable *prometheus.Desc
	poolPeak      *prometheus.Desc
	poolExhausted *prometheus.Desc
	poolAcquired  *prometheus.Desc
}

// Option configures the collector.
type Option func(*options)

type options struct {
	namespace string
}

// WithNamespace prefixes every metric name (default "hud").
func WithNamespace(ns string) Option {
	return func(o *options) {
		if ns != "" {
			o.namespace = ns
		}
	}
}

// NewCollector builds a collector over bus. bus may be nil when only pools
// are exported.
func NewCollector(bus BusSource, opts ...Option) *Collector {
	o := options{namespace: "hud"}
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	name := func(sub, n string) string { return prometheus.BuildFQName(o.namespace, sub, n) }
	event := []string{"event"}
	pl := []string{"pool"}

	return &Collector{
		bus: bus,

		eventCount:     prometheus.NewDesc(name("event", "emitted_total"), "Instrumented emissions per event", event, nil),
		eventAvgMs:     prometheus.NewDesc(name("event", "dispatch_avg_ms"), "Average dispatch time per emission", event, nil),
		eventMaxMs:     prometheus.NewDesc(name("event", "dispatch_max_ms"), "Slowest dispatch observed", event, nil),
		eventFrequency: prometheus.NewDesc(name("event", "frequency_hz"), "Smoothed emission frequency", event, nil),
		eventHot:       prometheus.NewDesc(name("event", "high_frequency"), "1 when the event is above the hot threshold", event, nil),

		busEmitted:   prometheus.NewDesc(name("bus", "emitted_total"), "Total Emit calls", nil, nil),
		busDelivered: prometheus.NewDesc(name("bus", "delivered_total"), "Handler calls that succeeded", nil, nil),
		busFaults:    prometheus.NewDesc(name("bus", "handler_faults_total"), "Handler calls that failed or panicked", nil, nil),
		busSlow:      prometheus.NewDesc(name("bus", "slow_handlers_total"), "Handler calls above the slow threshold", nil, nil),
		busSubs:      prometheus.NewDesc(name("bus", "subscriptions"), "Current subscriptions", nil, nil),

		poolCreated:   prometheus.NewDesc(name("pool", "created"), "Resources created", pl, nil),
		poolInUse:     prometheus.NewDesc(name("pool", "in_use"), "Resources handed out", pl, nil),
		poolAvailable: prometheus.NewDesc(name("pool", "available"), "Resources ready for reuse", pl, nil),
		poolPeak:      prometheus.NewDesc(name("pool", "peak_in_use"), "Highest concurrent in-use count", pl, nil),
		poolExhausted: prometheus.NewDesc(name("pool", "exhausted_total"), "Acquire calls refused at max count", pl, nil),
		poolAcquired:  prometheus.NewDesc(name("pool", "acquired_total"), "Successful Acquire calls", pl, nil),
	}
}

// ErrDuplicatePool is returned by AddPool when a pool with the same name is
// already exported; the pool label would collide at scrape time.
var ErrDuplicatePool = errors.New("promhud: duplicate pool name")

// AddPool registers a pool for export. Pool names must be unique.
func (c *Collector) AddPool(p PoolSource) error {
	if p == nil {
		return nil
	}
	name := p.Stats().Name
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.pools {
		if existing.Stats().Name == name {
			return fmt.Errorf("%w: %q", ErrDuplicatePool, name)
		}
	}
	c.pools = append(c.pools, p)
	return nil
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.eventCount, c.eventAvgMs, c.eventMaxMs, c.eventFrequency, c.eventHot,
		c.busEmitted, c.busDelivered, c.busFaults, c.busSlow, c.busSubs,
		c.poolCreated, c.poolInUse, c.poolAvailable, c.poolPeak, c.poolExhausted, c.poolAcquired,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.bus != nil {
		for name, r := range c.bus.Metrics() {
			hot := 0.0
			if r.HighFrequency {
				hot = 1
			}
			ch <- prometheus.MustNewConstMetric(c.eventCount, prometheus.CounterValue, float64(r.Count), name)
			ch <- prometheus.MustNewConstMetric(c.eventAvgMs, prometheus.GaugeValue, r.AvgExecutionMs, name)
			ch <- prometheus.MustNewConstMetric(c.eventMaxMs, prometheus.GaugeValue, r.MaxExecutionMs, name)
			ch <- prometheus.MustNewConstMetric(c.eventFrequency, prometheus.GaugeValue, r.FrequencyHz, name)
			ch <- prometheus.MustNewConstMetric(c.eventHot, prometheus.GaugeValue, hot, name)
		}

		s := c.bus.Stats()
		ch <- prometheus.MustNewConstMetric(c.busEmitted, prometheus.CounterValue, float64(s.Emitted))
		ch <- prometheus.MustNewConstMetric(c.busDelivered, prometheus.CounterValue, float64(s.Delivered))
		ch <- prometheus.MustNewConstMetric(c.busFaults, prometheus.CounterValue, float64(s.Faults))
		ch <- prometheus.MustNewConstMetric(c.busSlow, prometheus.CounterValue, float64(s.SlowHandlers))
		ch <- prometheus.MustNewConstMetric(c.busSubs, prometheus.GaugeValue, float64(s.Subscriptions))
	}

	c.mu.RLock()
	pools := make([]PoolSource, len(c.pools))
	copy(pools, c.pools)
	c.mu.RUnlock()

	for _, p := range pools {
		s := p.Stats()
		ch <- prometheus.MustNewConstMetric(c.poolCreated, prometheus.GaugeValue, float64(s.Created), s.Name)
		ch <- prometheus.MustNewConstMetric(c.poolInUse, prometheus.GaugeValue, float64(s.InUse), s.Name)
		ch <- prometheus.MustNewConstMetric(c.poolAvailable, prometheus.GaugeValue, float64(s.Available), s.Name)
		ch <- prometheus.MustNewConstMetric(c.poolPeak, prometheus.GaugeValue, float64(s.PeakInUse), s.Name)
		ch <- prometheus.MustNewConstMetric(c.poolExhausted, prometheus.CounterValue, float64(s.Exhausted), s.Name)
		ch <- prometheus.MustNewConstMetric(c.poolAcquired, prometheus.CounterValue, float64(s.Acquired), s.Name)
	}
}
