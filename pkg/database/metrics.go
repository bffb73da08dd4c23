package database

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// statser is implemented by *redis.Client and *redis.ClusterClient.
type statser interface {
	PoolStats() *redis.PoolStats
}

// PoolStatsCollector exports go-redis connection pool statistics.
type PoolStatsCollector struct {
	client statser
	name   string

	hits       *prometheus.Desc
	misses     *prometheus.Desc
	timeouts   *prometheus.Desc
	totalConns *prometheus.Desc
	idleConns  *prometheus.Desc
	staleConns *prometheus.Desc
}

// NewPoolStatsCollector creates a collector for client labelled with name.
func NewPoolStatsCollector(client statser, name string) *PoolStatsCollector {
	labels := []string{"client"}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc("storefront_agent_redis_pool_"+metric, help, labels, nil)
	}
	return &PoolStatsCollector{
		client:     client,
		name:       name,
		hits:       desc("hits_total", "Times a free connection was found in the pool"),
		misses:     desc("misses_total", "Times a free connection was not found in the pool"),
		timeouts:   desc("timeouts_total", "Times a wait for a connection timed out"),
		totalConns: desc("total_connections", "Total connections in the pool"),
		idleConns:  desc("idle_connections", "Idle connections in the pool"),
		staleConns: desc("stale_connections_total", "Stale connections removed from the pool"),
	}
}

func (c *PoolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.timeouts
	ch <- c.totalConns
	ch <- c.idleConns
	ch <- c.staleConns
}

func (c *PoolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.client.PoolStats()

	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits), c.name)
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses), c.name)
	ch <- prometheus.MustNewConstMetric(c.timeouts, prometheus.CounterValue, float64(s.Timeouts), c.name)
	ch <- prometheus.MustNewConstMetric(c.totalConns, prometheus.GaugeValue, float64(s.TotalConns), c.name)
	ch <- prometheus.MustNewConstMetric(c.idleConns, prometheus.GaugeValue, float64(s.IdleConns), c.name)
	ch <- prometheus.MustNewConstMetric(c.staleConns, prometheus.CounterValue, float64(s.StaleConns), c.name)
}

// RegisterPoolMetrics registers a pool collector for client with reg.
func RegisterPoolMetrics(reg prometheus.Registerer, client statser, name string) error {
	return reg.Register(NewPoolStatsCollector(client, name))
}
