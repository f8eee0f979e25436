package promhud

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Register builds a collector over bus and pools and registers it with reg
// (prometheus.DefaultRegisterer when nil). Duplicate pool names fail with
// ErrDuplicatePool.
func Register(reg prometheus.Registerer, bus BusSource, pools []PoolSource, opts ...Option) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := NewCollector(bus, opts...)
	for _, p := range pools {
		if err := c.AddPool(p); err != nil {
			return nil, err
		}
	}
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}
