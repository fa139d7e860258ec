// Package metrics provides the Prometheus collectors exported on /metrics.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all the metric collectors for the service.
type Metrics struct {
	registry *prometheus.Registry

	Submissions         *prometheus.CounterVec
	CollaboratorErrors  *prometheus.CounterVec
	CollaboratorLatency *prometheus.HistogramVec
	StoreOperations     *prometheus.CounterVec
	CaptionCacheLookups *prometheus.CounterVec
	Records             prometheus.Gauge
}

// New creates a registry with the process collectors and every service metric.
func New() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safepost_submissions_total",
			Help: "Total number of persisted submissions by classification.",
		}, []string{"classification"}),
		CollaboratorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safepost_collaborator_errors_total",
			Help: "Total number of failed captioning or classification calls.",
		}, []string{"step"}),
		CollaboratorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "safepost_collaborator_duration_seconds",
			Help:    "Duration of captioning and classification calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"step"}),
		StoreOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safepost_store_operations_total",
			Help: "Total number of record store operations by outcome.",
		}, []string{"operation", "result"}),
		CaptionCacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safepost_caption_cache_lookups_total",
			Help: "Caption cache lookups by outcome.",
		}, []string{"result"}),
		Records: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "safepost_records",
			Help: "Number of records seen at the last full load.",
		}),
	}

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Submissions,
		m.CollaboratorErrors,
		m.CollaboratorLatency,
		m.StoreOperations,
		m.CaptionCacheLookups,
		m.Records,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveSubmission counts one persisted record.
func (m *Metrics) ObserveSubmission(classification string) {
	m.Submissions.WithLabelValues(classification).Inc()
}

// ObserveCollaborator records the latency of a call and counts it when it failed.
func (m *Metrics) ObserveCollaborator(step string, took time.Duration, err error) {
	m.CollaboratorLatency.WithLabelValues(step).Observe(took.Seconds())
	if err != nil {
		m.CollaboratorErrors.WithLabelValues(step).Inc()
	}
}

// ObserveStore counts one store operation.
func (m *Metrics) ObserveStore(operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.StoreOperations.WithLabelValues(operation, result).Inc()
}

// ObserveCaptionCache counts one caption cache lookup.
func (m *Metrics) ObserveCaptionCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CaptionCacheLookups.WithLabelValues(result).Inc()
}

// SetRecords updates the record count gauge.
func (m *Metrics) SetRecords(n int) {
	m.Records.Set(float64(n))
}
