// ABOUTME: Prometheus metrics for error ingestion and the in-memory store
// ABOUTME: Each CaptureMetrics owns a registry so servers and tests never collide

package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rejection reasons recorded by RecordRejected.
const (
	ReasonInvalidJSON    = "invalid_json"
	ReasonInvalidPayload = "invalid_payload"
	ReasonTooLarge       = "too_large"
	ReasonInternal       = "internal"
)

// CaptureMetrics holds the ingestion counters. A nil *CaptureMetrics is
// valid and records nothing.
type CaptureMetrics struct {
	registry *prometheus.Registry

	captured     *prometheus.CounterVec
	deduplicated prometheus.Counter
	evicted      prometheus.Counter
	rejected     *prometheus.CounterVec
	entries      prometheus.Gauge
	requests     *prometheus.HistogramVec
}

// NewCaptureMetrics registers the capture metrics on a fresh registry.
func NewCaptureMetrics() *CaptureMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &CaptureMetrics{
		registry: reg,
		captured: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "devcapture_errors_captured_total",
			Help: "Error payloads accepted by the ingestion endpoint",
		}, []string{"severity"}),
		deduplicated: factory.NewCounter(prometheus.CounterOpts{
			Name: "devcapture_errors_deduplicated_total",
			Help: "Payloads merged into an existing entry with the same signature",
		}),
		evicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "devcapture_errors_evicted_total",
			Help: "Entries evicted because the store was full",
		}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "devcapture_errors_rejected_total",
			Help: "Capture requests rejected before reaching the store",
		}, []string{"reason"}),
		entries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "devcapture_store_entries",
			Help: "Distinct errors currently held in the store",
		}),
		requests: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "devcapture_http_request_duration_seconds",
			Help:    "Duration of /_dev/errors requests",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method", "status"}),
	}
}

// RecordCapture counts one accepted payload.
func (m *CaptureMetrics) RecordCapture(severity string, merged, evicted bool) {
	if m == nil {
		return
	}
	m.captured.WithLabelValues(severity).Inc()
	if merged {
		m.deduplicated.Inc()
	}
	if evicted {
		m.evicted.Inc()
	}
}

// RecordRejected counts a capture request refused with the given reason.
func (m *CaptureMetrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

// SetStoreEntries sets the store size gauge.
func (m *CaptureMetrics) SetStoreEntries(n int) {
	if m == nil {
		return
	}
	m.entries.Set(float64(n))
}

// ObserveRequest records the latency of one ingestion request.
func (m *CaptureMetrics) ObserveRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Observe(d.Seconds())
}

// Registry exposes the underlying registry.
func (m *CaptureMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *CaptureMetrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
