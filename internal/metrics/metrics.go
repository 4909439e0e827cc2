// Package metrics defines the Prometheus collectors exported by rigwatchd.
//
// Every recording method is safe to call on a nil *Metrics, so components
// built without metrics (tests, the CLI) need no special casing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rigwatch"

// Metrics holds every collector.
type Metrics struct {
	bufferLength    prometheus.Gauge
	enqueued        prometheus.Counter
	evictions       prometheus.Counter
	flushedSamples  prometheus.Counter
	flushFailures   prometheus.Counter
	flushDuration   prometheus.Histogram
	backpressure    prometheus.Gauge
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	queries         *prometheus.CounterVec
	registrations   prometheus.Counter
	liveSubscribers prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bufferLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_length",
			Help:      "Samples waiting in the ingestion buffer.",
		}),
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_enqueued_total",
			Help:      "Samples accepted into the ingestion buffer.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_evictions_total",
			Help:      "Samples discarded because the ingestion buffer was full.",
		}),
		flushedSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_flushed_total",
			Help:      "Samples written to the store.",
		}),
		flushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_failures_total",
			Help:      "Buffer flushes that failed and were requeued.",
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time spent writing one buffer flush.",
			Buckets:   prometheus.DefBuckets,
		}),
		backpressure: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backpressure_level",
			Help:      "Ingestion backpressure level (0 normal, 1 warning, 2 critical, 3 emergency).",
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job firings by outcome.",
		}, []string{"job", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of scheduled job firings.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"job"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Range queries by resolution used.",
		}, []string{"resolution"}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_changes_total",
			Help:      "Registrations that changed a machine's metadata fingerprint.",
		}),
		liveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_subscribers",
			Help:      "Open live WebSocket connections.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.bufferLength,
			m.enqueued,
			m.evictions,
			m.flushedSamples,
			m.flushFailures,
			m.flushDuration,
			m.backpressure,
			m.jobRuns,
			m.jobDuration,
			m.queries,
			m.registrations,
			m.liveSubscribers,
		)
	}

	return m
}

// SetBufferLength records the current buffer length.
func (m *Metrics) SetBufferLength(n int) {
	if m == nil {
		return
	}
	m.bufferLength.Set(float64(n))
}

// AddEnqueued counts accepted samples.
func (m *Metrics) AddEnqueued(n int) {
	if m == nil {
		return
	}
	m.enqueued.Add(float64(n))
}

// AddEvictions counts discarded samples.
func (m *Metrics) AddEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.Add(float64(n))
}

// ObserveFlush records one flush attempt.
func (m *Metrics) ObserveFlush(samples int, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.flushDuration.Observe(d.Seconds())
	if err != nil {
		m.flushFailures.Inc()
		return
	}
	m.flushedSamples.Add(float64(samples))
}

// SetBackpressureLevel records the backpressure level.
func (m *Metrics) SetBackpressureLevel(level int) {
	if m == nil {
		return
	}
	m.backpressure.Set(float64(level))
}

// ObserveJob records one job firing. result is "success" or "error".
func (m *Metrics) ObserveJob(job, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

// IncQuery counts a query answered at resolution.
func (m *Metrics) IncQuery(resolution string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(resolution).Inc()
}

// IncMetadataChange counts a metadata fingerprint change.
func (m *Metrics) IncMetadataChange() {
	if m == nil {
		return
	}
	m.registrations.Inc()
}

// AddLiveSubscribers adjusts the open live connection gauge.
func (m *Metrics) AddLiveSubscribers(delta int) {
	if m == nil {
		return
	}
	m.liveSubscribers.Add(float64(delta))
}
