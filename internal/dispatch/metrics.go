package dispatch

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/frankli0324/go-http-adapter/internal/classify"
	"github.com/frankli0324/go-http-adapter/internal/pool"
)

// MetricsCollector exports the adapter's request and pool lifecycle as
// Prometheus metrics. A nil *MetricsCollector records nothing.
type MetricsCollector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	attemptsTotal   *prometheus.CounterVec
	retriesTotal    *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec

	poolsCreated *prometheus.CounterVec
	poolsEvicted prometheus.Counter
	checkoutWait prometheus.Histogram
}

var _ pool.Observer = (*MetricsCollector)(nil)

// NewMetricsCollector registers the adapter metrics on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_adapter_requests_total",
				Help: "Total number of requests sent through the adapter",
			},
			[]string{"method", "status_code"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_adapter_request_duration_seconds",
				Help:    "Duration of a send including every retry, in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		attemptsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_adapter_attempts_total",
				Help: "Total number of dispatch attempts",
			},
			[]string{"method"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_adapter_retries_total",
				Help: "Total number of retries after a classified failure",
			},
			[]string{"method", "attempt"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_adapter_errors_total",
				Help: "Total number of classified transport failures",
			},
			[]string{"kind"},
		),
		poolsCreated: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_adapter_pools_created_total",
				Help: "Total number of destination pools created",
			},
			[]string{"proxied"},
		),
		poolsEvicted: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "http_adapter_pools_evicted_total",
				Help: "Total number of idle destination pools evicted at the pool limit",
			},
		),
		checkoutWait: promauto.With(registry).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "http_adapter_checkout_wait_seconds",
				Help:    "Time spent obtaining a handle from a pool",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
		),
	}
}

// RecordRequest records a finished send. statusCode is 0 for a send that
// ended in an error.
func (mc *MetricsCollector) RecordRequest(method string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.requestsTotal.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	mc.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (mc *MetricsCollector) RecordAttempt(method string) {
	if mc == nil {
		return
	}
	mc.attemptsTotal.WithLabelValues(method).Inc()
}

// RecordRetry counts a retry, attempt is the number of the attempt about to
// start.
func (mc *MetricsCollector) RecordRetry(method string, attempt int) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(method, strconv.Itoa(attempt)).Inc()
}

func (mc *MetricsCollector) RecordError(kind classify.Kind) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(kind.String()).Inc()
}

func (mc *MetricsCollector) RecordCheckoutWait(d time.Duration) {
	if mc == nil {
		return
	}
	mc.checkoutWait.Observe(d.Seconds())
}

func (mc *MetricsCollector) PoolCreated(proxied bool) {
	if mc == nil {
		return
	}
	mc.poolsCreated.WithLabelValues(strconv.FormatBool(proxied)).Inc()
}

func (mc *MetricsCollector) PoolEvicted() {
	if mc == nil {
		return
	}
	mc.poolsEvicted.Inc()
}
