package database

import "github.com/prometheus/client_golang/prometheus"

// PoolCollector exposes pool occupancy as prometheus gauges.
type PoolCollector struct {
	pool    *Pool
	inUse   *prometheus.Desc
	idle    *prometheus.Desc
	waiting *prometheus.Desc
}

// NewPoolCollector creates a collector for the given pool and registers it.
func NewPoolCollector(pool *Pool, reg prometheus.Registerer) (*PoolCollector, error) {
	c := &PoolCollector{
		pool: pool,
		inUse: prometheus.NewDesc(
			"db_pool_connections_in_use",
			"Number of pooled connections currently checked out.",
			nil, nil,
		),
		idle: prometheus.NewDesc(
			"db_pool_connections_idle",
			"Number of pooled connections sitting idle.",
			nil, nil,
		),
		waiting: prometheus.NewDesc(
			"db_pool_acquire_waiters",
			"Number of callers queued waiting for a connection.",
			nil, nil,
		),
	}
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.inUse
	ch <- c.idle
	ch <- c.waiting
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.pool.Stats()
	ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(st.InUse))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(st.Idle))
	ch <- prometheus.MustNewConstMetric(c.waiting, prometheus.GaugeValue, float64(st.Waiting))
}
