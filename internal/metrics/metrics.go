// Package metrics exposes Prometheus collectors for the catalogue crawl.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the crawl collectors on a dedicated registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	UnitsTotal          *prometheus.CounterVec
	UnitDuration        prometheus.Histogram
	RecordsWrittenTotal prometheus.Counter
	RevealsPerUnit      prometheus.Histogram
	ErrorsTotal         *prometheus.CounterVec
	ImagesTotal         *prometheus.CounterVec
	ActiveWorkers       prometheus.Gauge
	QueueDepth          prometheus.Gauge

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New constructs and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		Registry: registry,
		UnitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalogue_units_total",
				Help: "Unit attempts finished, labeled by outcome.",
			},
			[]string{"outcome"},
		),
		UnitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "catalogue_unit_duration_seconds",
				Help:    "Wall time of one unit attempt.",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
			},
		),
		RecordsWrittenTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "catalogue_records_written_total",
				Help: "Part records committed to the sink.",
			},
		),
		RevealsPerUnit: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "catalogue_reveals_per_unit",
				Help:    "Reveal calls needed before a table settled.",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalogue_errors_total",
				Help: "Unit errors by type.",
			},
			[]string{"error_type"},
		),
		ImagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalogue_images_total",
				Help: "Diagram image handling, labeled by result.",
			},
			[]string{"result"},
		),
		ActiveWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalogue_active_workers",
				Help: "Workers currently processing a unit.",
			},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalogue_queue_depth",
				Help: "Units waiting to be processed, including delayed retries.",
			},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		),
	}
	registry.MustRegister(
		m.UnitsTotal,
		m.UnitDuration,
		m.RecordsWrittenTotal,
		m.RevealsPerUnit,
		m.ErrorsTotal,
		m.ImagesTotal,
		m.ActiveWorkers,
		m.QueueDepth,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler returns an http.Handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// ObserveUnit records one finished unit attempt.
func (m *Metrics) ObserveUnit(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.UnitsTotal.WithLabelValues(outcome).Inc()
	m.UnitDuration.Observe(d.Seconds())
}

// AddRecords counts committed part records.
func (m *Metrics) AddRecords(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsWrittenTotal.Add(float64(n))
}

// ObserveReveals records how many reveals a table needed.
func (m *Metrics) ObserveReveals(n int) {
	if m == nil {
		return
	}
	m.RevealsPerUnit.Observe(float64(n))
}

// IncError counts a unit error by type.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncImage counts an image result ("stored", "missing", "download_failed").
func (m *Metrics) IncImage(result string) {
	if m == nil {
		return
	}
	m.ImagesTotal.WithLabelValues(result).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func (m *Metrics) IncActiveWorkers() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func (m *Metrics) DecActiveWorkers() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Dec()
}

// SetQueueDepth publishes the number of pending units.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
