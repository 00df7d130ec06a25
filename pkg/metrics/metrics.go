// Package metrics exposes Prometheus collectors for the scan pipeline on
// a private registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "peekaboo"

// Recorder owns the pipeline's collectors. All methods are safe on a nil
// receiver so callers can run unmetered.
type Recorder struct {
	registry *prometheus.Registry

	scansTotal          *prometheus.CounterVec
	phaseDuration       *prometheus.HistogramVec
	targetsDiscovered   *prometheus.CounterVec
	resourcesDiscovered prometheus.Counter
	findingsTotal       *prometheus.CounterVec
	activeScans         prometheus.Gauge
}

func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Recorder{
		registry: registry,
		scansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Finished scans by terminal status.",
		}, []string{"status"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Wall time spent in each scan phase.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"phase"}),
		targetsDiscovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "targets_discovered_total",
			Help:      "Targets persisted during discovery, by source.",
		}, []string{"source"}),
		resourcesDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resources_discovered_total",
			Help:      "Resources persisted during crawls.",
		}),
		findingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "Vulnerability findings by severity.",
		}, []string{"severity"}),
		activeScans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_scans",
			Help:      "Scans currently running.",
		}),
	}

	registry.MustRegister(
		r.scansTotal,
		r.phaseDuration,
		r.targetsDiscovered,
		r.resourcesDiscovered,
		r.findingsTotal,
		r.activeScans,
	)
	return r
}

// Handler serves the registry in Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) ScanStarted() {
	if r == nil {
		return
	}
	r.activeScans.Inc()
}

func (r *Recorder) ScanFinished(status string) {
	if r == nil {
		return
	}
	r.activeScans.Dec()
	r.scansTotal.WithLabelValues(status).Inc()
}

func (r *Recorder) ObservePhase(phase string, seconds float64) {
	if r == nil {
		return
	}
	r.phaseDuration.WithLabelValues(phase).Observe(seconds)
}

func (r *Recorder) TargetsDiscovered(source string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.targetsDiscovered.WithLabelValues(source).Add(float64(n))
}

func (r *Recorder) ResourcesDiscovered(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.resourcesDiscovered.Add(float64(n))
}

func (r *Recorder) FindingsRecorded(severity string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.findingsTotal.WithLabelValues(severity).Add(float64(n))
}
