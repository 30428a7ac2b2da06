package ripple

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	bufferPoolGetsDesc = prometheus.NewDesc(
		"ripple_buffer_pool_gets_total",
		"Total number of buffer Get operations",
		[]string{"size"}, nil,
	)
	bufferPoolPutsDesc = prometheus.NewDesc(
		"ripple_buffer_pool_puts_total",
		"Total number of buffer Put operations",
		[]string{"size"}, nil,
	)
	bufferPoolMissesDesc = prometheus.NewDesc(
		"ripple_buffer_pool_misses_total",
		"Total number of buffer pool misses (new allocation)",
		[]string{"size"}, nil,
	)
	bufferPoolDiscardsDesc = prometheus.NewDesc(
		"ripple_buffer_pool_discards_total",
		"Total number of buffers discarded (wrong size)",
		[]string{"size"}, nil,
	)
	bufferPoolHitRateDesc = prometheus.NewDesc(
		"ripple_buffer_pool_hit_rate",
		"Current buffer pool hit rate (0-100%)",
		[]string{"size"}, nil,
	)
	bufferPoolAllocatedDesc = prometheus.NewDesc(
		"ripple_buffer_pool_memory_allocated_bytes",
		"Total memory allocated across all size classes",
		nil, nil,
	)
	bufferPoolOversizedDesc = prometheus.NewDesc(
		"ripple_buffer_pool_oversized_total",
		"Gets larger than the biggest size class",
		nil, nil,
	)
)

// PrometheusCollector exports BufferPool metrics on every scrape.
type PrometheusCollector struct {
	pool *BufferPool
}

// NewPrometheusCollector creates a collector for pool.
func NewPrometheusCollector(pool *BufferPool) *PrometheusCollector {
	return &PrometheusCollector{pool: pool}
}

// Describe implements prometheus.Collector
func (pc *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- bufferPoolGetsDesc
	ch <- bufferPoolPutsDesc
	ch <- bufferPoolMissesDesc
	ch <- bufferPoolDiscardsDesc
	ch <- bufferPoolHitRateDesc
	ch <- bufferPoolAllocatedDesc
	ch <- bufferPoolOversizedDesc
}

// Collect implements prometheus.Collector
func (pc *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	m := pc.pool.GetMetrics()
	for _, c := range m.Classes {
		label := strconv.Itoa(c.Size/1024) + "kb"
		ch <- prometheus.MustNewConstMetric(bufferPoolGetsDesc, prometheus.CounterValue, float64(c.Gets), label)
		ch <- prometheus.MustNewConstMetric(bufferPoolPutsDesc, prometheus.CounterValue, float64(c.Puts), label)
		ch <- prometheus.MustNewConstMetric(bufferPoolMissesDesc, prometheus.CounterValue, float64(c.Misses), label)
		ch <- prometheus.MustNewConstMetric(bufferPoolDiscardsDesc, prometheus.CounterValue, float64(c.Discards), label)
		ch <- prometheus.MustNewConstMetric(bufferPoolHitRateDesc, prometheus.GaugeValue, c.HitRate, label)
	}
	ch <- prometheus.MustNewConstMetric(bufferPoolAllocatedDesc, prometheus.GaugeValue, float64(m.MemoryAllocated))
	ch <- prometheus.MustNewConstMetric(bufferPoolOversizedDesc, prometheus.CounterValue, float64(m.Oversized))
}
