package server

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/yourusername/ripple/pkg/ripple/http11"
	"github.com/yourusername/ripple/pkg/ripple/transport"
)

// Metrics holds the server's Prometheus collectors.
type Metrics struct {
	connectionsAccepted prometheus.Counter
	connectionsActive   prometheus.Gauge
	connectionErrors    *prometheus.CounterVec
	requests            *prometheus.CounterVec
	requestDuration     prometheus.Histogram
	bytesRead           prometheus.Counter
	bytesWritten        prometheus.Counter
}

// NewMetrics registers the server collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connectionsAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "ripple_connections_accepted_total",
			Help: "Total number of accepted connections",
		}),
		connectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "ripple_connections_active",
			Help: "Number of connections currently being served",
		}),
		connectionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ripple_connection_errors_total",
			Help: "Connections that ended with an error, by error class",
		}, []string{"class"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ripple_requests_total",
			Help: "Total number of requests answered",
		}, []string{"method", "code"}),
		requestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ripple_request_duration_seconds",
			Help:    "Time from decoded request to encoded response",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}),
		bytesRead: f.NewCounter(prometheus.CounterOpts{
			Name: "ripple_bytes_read_total",
			Help: "Bytes read from connections",
		}),
		bytesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "ripple_bytes_written_total",
			Help: "Bytes written to connections",
		}),
	}
}

// registerRing exports the counters of a completion ring.
func registerRing(reg prometheus.Registerer, ring *transport.Ring) {
	f := promauto.With(reg)
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "ripple_ring_submitted_total",
		Help: "I/O operations submitted to the completion ring",
	}, func() float64 { return float64(ring.Stats().Submitted) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "ripple_ring_completed_total",
		Help: "I/O operations completed by the completion ring",
	}, func() float64 { return float64(ring.Stats().Completed) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ripple_ring_in_flight",
		Help: "I/O operations currently in flight",
	}, func() float64 { return float64(ring.Stats().InFlight) })
}

// registerPools exports the process-wide codec context and write buffer
// pool counters.
func registerPools(reg prometheus.Registerer) {
	f := promauto.With(reg)
	for i, ps := range http11.GetPoolStats() {
		labels := prometheus.Labels{"pool": ps.Name}
		f.NewCounterFunc(prometheus.CounterOpts{
			Name:        "ripple_pool_gets_total",
			Help:        "Objects taken from the connection pools",
			ConstLabels: labels,
		}, func() float64 { return float64(http11.GetPoolStats()[i].Gets) })
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "ripple_pool_outstanding",
			Help:        "Pooled objects held by live connections",
			ConstLabels: labels,
		}, func() float64 { return float64(http11.GetPoolStats()[i].Outstanding) })
	}
}

// observer feeds connection events into Stats and, when enabled, Metrics.
// One observer is shared by every connection of a server.
type observer struct {
	stats   *Stats
	metrics *Metrics
}

var _ http11.Observer = (*observer)(nil)

func (o *observer) RequestServed(method uint8, status int, elapsed time.Duration) {
	o.stats.TotalRequests.Add(1)
	if o.metrics == nil {
		return
	}
	o.metrics.requests.WithLabelValues(http11.MethodString(method), strconv.Itoa(status)).Inc()
	o.metrics.requestDuration.Observe(elapsed.Seconds())
}

func (o *observer) BytesRead(n int) {
	o.stats.BytesRead.Add(uint64(n))
	if o.metrics != nil {
		o.metrics.bytesRead.Add(float64(n))
	}
}

func (o *observer) BytesWritten(n int) {
	o.stats.BytesWritten.Add(uint64(n))
	if o.metrics != nil {
		o.metrics.bytesWritten.Add(float64(n))
	}
}

func (o *observer) connOpened() {
	o.stats.TotalConnections.Add(1)
	o.stats.ActiveConnections.Add(1)
	if o.metrics != nil {
		o.metrics.connectionsAccepted.Inc()
		o.metrics.connectionsActive.Inc()
	}
}

func (o *observer) connClosed(err error) {
	o.stats.ActiveConnections.Add(-1)
	if err != nil {
		o.stats.ConnectionErrors.Add(1)
	}
	if o.metrics == nil {
		return
	}
	o.metrics.connectionsActive.Dec()
	if err != nil {
		o.metrics.connectionErrors.WithLabelValues(http11.ClassOf(err).String()).Inc()
	}
}
