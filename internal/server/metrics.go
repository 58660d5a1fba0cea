package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modeldrop/internal/config"
	"modeldrop/internal/live"
	"modeldrop/internal/storage"
)

const metricsNamespace = "modeldrop"

// Operation and outcome label values.
const (
	opUpload = "upload"
	opList   = "list"
	opDelete = "delete"
	opSign   = "sign"

	outcomeOK       = "ok"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

// Metrics holds the per-server Prometheus collectors. Each server owns its
// registry so tests can build as many servers as they like.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	operations      *prometheus.CounterVec
	uploadBytes     prometheus.Counter
	uploadDuration  prometheus.Histogram
}

func NewMetrics(reg *prometheus.Registry, build config.BuildInfo, hub *live.Hub, store storage.Store) *Metrics {
	factory := promauto.With(reg)

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory.NewGauge(prometheus.GaugeOpts{
		Namespace:   metricsNamespace,
		Name:        "info",
		Help:        "Build information",
		ConstLabels: prometheus.Labels{"version": build.Version, "commit": build.Commit},
	}).Set(1)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "live_clients",
		Help:      "Number of connected live-update clients",
	}, func() float64 { return float64(hub.Len()) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "live_events_published_total",
		Help:      "Events broadcast to live clients",
	}, func() float64 { return float64(hub.Published()) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "live_events_dropped_total",
		Help:      "Per-client deliveries skipped because the client's queue was full",
	}, func() float64 { return float64(hub.Dropped()) })

	if b, ok := store.(*storage.Breaker); ok {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "storage_circuit_open",
			Help:      "1 while the storage circuit breaker rejects calls",
		}, func() float64 {
			if b.State() == storage.StateOpen {
				return 1
			}
			return 0
		})
	}

	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status class",
		}, []string{"method", "class"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Model operations by kind and outcome",
		}, []string{"op", "outcome"}),
		uploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes of model data stored",
		}),
		uploadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "upload_duration_seconds",
			Help:      "Time from request start to stored object",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}

func (m *Metrics) RecordRequest(method string, status int, d time.Duration) {
	m.requests.WithLabelValues(method, statusClass(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) RecordOperation(op, outcome string) {
	m.operations.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) RecordUpload(bytes int64, d time.Duration) {
	m.uploadBytes.Add(float64(bytes))
	m.uploadDuration.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}
