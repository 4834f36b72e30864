package metrics

import "github.com/prometheus/client_golang/prometheus"

// DBPoolStatFunc returns connection pool counts. A func keeps this
// package free of a pgxpool import, so the memory backend never links
// the driver.
type DBPoolStatFunc func() (total, idle, acquired int32)

// poolCollector samples the pool on every scrape instead of keeping
// gauges in sync from the outside.
type poolCollector struct {
	stats DBPoolStatFunc
	descs [3]*prometheus.Desc
}

// NewDBPoolCollector wraps stats as a prometheus.Collector exposing
// total, idle, and acquired connection gauges.
func NewDBPoolCollector(stats DBPoolStatFunc) prometheus.Collector {
	c := &poolCollector{stats: stats}
	for i, name := range [3]string{"total", "idle", "acquired"} {
		c.descs[i] = prometheus.NewDesc(
			"agentlink_db_pool_"+name+"_conns",
			"Connections in the database pool, "+name+".",
			nil, nil,
		)
	}
	return c
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	total, idle, acquired := c.stats()
	for i, v := range [3]int32{total, idle, acquired} {
		ch <- prometheus.MustNewConstMetric(c.descs[i], prometheus.GaugeValue, float64(v))
	}
}
