package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dvbs2_tablegen"

// Task outcomes, used as the status label
const (
	StatusCompiled = "compiled"
	StatusSkipped  = "skipped"
	StatusFailed   = "failed"
)

// Metrics holds the Prometheus collectors for batch compilation runs. All
// methods are safe on a nil *Metrics, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	tasksTotal      *prometheus.CounterVec   // tasks finished (by frame, status)
	taskDuration    *prometheus.HistogramVec // compile time of compiled tasks (by frame)
	entriesTotal    prometheus.Counter       // address table entries written
	bytesTotal      prometheus.Counter       // artifact bytes written
	runsTotal       prometheus.Counter       // batch runs started
	runActive       prometheus.Gauge         // 1 while a run is in progress
	runDuration     prometheus.Histogram     // wall time of whole runs
	lastRunFailures prometheus.Gauge         // failed tasks in the most recent run
	wsClients       prometheus.Gauge         // connected progress feed clients
}

// New creates the collectors on a private registry that also carries the Go
// runtime and process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		tasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Address table compilation tasks by outcome",
			},
			[]string{"frame", "status"},
		),
		taskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Time to load, compile and write one address table",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"frame"},
		),
		entriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_total",
			Help:      "Address table entries written",
		}),
		bytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_bytes_total",
			Help:      "Bytes of address table artifacts written",
		}),
		runsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Batch runs started",
		}),
		runActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_active",
			Help:      "1 while a batch run is in progress",
		}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of batch runs",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		lastRunFailures: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_failures",
			Help:      "Failed tasks in the most recent batch run",
		}),
		wsClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "progress_clients",
			Help:      "Connected websocket progress clients",
		}),
	}
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RunStarted records the start of a batch run
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsTotal.Inc()
	m.runActive.Set(1)
}

// RunFinished records the end of a batch run
func (m *Metrics) RunFinished(d time.Duration, failures int) {
	if m == nil {
		return
	}
	m.runActive.Set(0)
	m.runDuration.Observe(d.Seconds())
	m.lastRunFailures.Set(float64(failures))
}

// TaskCompiled records a table that was compiled and written
func (m *Metrics) TaskCompiled(frame string, d time.Duration, entries, bytes int) {
	if m == nil {
		return
	}
	m.tasksTotal.WithLabelValues(frame, StatusCompiled).Inc()
	m.taskDuration.WithLabelValues(frame).Observe(d.Seconds())
	m.entriesTotal.Add(float64(entries))
	m.bytesTotal.Add(float64(bytes))
}

// TaskSkipped records a table whose existing artifact was reused
func (m *Metrics) TaskSkipped(frame string) {
	if m == nil {
		return
	}
	m.tasksTotal.WithLabelValues(frame, StatusSkipped).Inc()
}

// TaskFailed records a table that could not be produced
func (m *Metrics) TaskFailed(frame string) {
	if m == nil {
		return
	}
	m.tasksTotal.WithLabelValues(frame, StatusFailed).Inc()
}

// ClientConnected and ClientDisconnected track progress feed clients
func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.wsClients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.wsClients.Dec()
}
