// Package metrics implements Apate's Prometheus metrics collector,
// adapted from the teacher's render-pipeline metrics to the Deceit
// resolution pipeline's own stages (match/render/process) plus basic
// process health gauges.
package metrics

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// Metrics provides Prometheus-backed instrumentation for the resolution
// engine, admin surface and host process.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeRequests  prometheus.Gauge

	renderDuration    *prometheus.HistogramVec
	processorDuration *prometheus.HistogramVec
	scriptErrors      *prometheus.CounterVec

	adminWritesTotal *prometheus.CounterVec

	processRSSBytes prometheus.Gauge
	processCPURatio prometheus.Gauge

	registerer prometheus.Registerer
	logger     *zap.Logger
	proc       *process.Process
	httpHandler func(*fasthttp.RequestCtx)
}

// CounterSnapshotter is the seam into counters.Store's scrape-time
// snapshot, kept as an interface so this package never imports counters
// directly.
type CounterSnapshotter interface {
	Snapshot() map[string]uint64
}

// counterCollector adapts a CounterSnapshotter to prometheus.Collector,
// exposing spec.md §4.7's shared counters as a gauge vector labeled by
// counter key, read fresh on every scrape rather than cached.
type counterCollector struct {
	desc     *prometheus.Desc
	snapshot CounterSnapshotter
}

func (c *counterCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *counterCollector) Collect(ch chan<- prometheus.Metric) {
	for key, value := range c.snapshot.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(value), key)
	}
}

// New creates a Metrics collector registered against the default
// registerer, namespaced under "apate".
func New(logger *zap.Logger) *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer, logger)
}

// NewWithRegistry creates a Metrics collector against a caller-supplied
// registry, useful for test isolation.
func NewWithRegistry(registerer prometheus.Registerer, logger *zap.Logger) *Metrics {
	m := &Metrics{logger: logger, registerer: registerer}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apate",
			Name:      "requests_total",
			Help:      "Total number of requests resolved, by outcome status range",
		},
		[]string{"status_range"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "apate",
			Name:      "request_duration_seconds",
			Help:      "Time taken to resolve a request end to end",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status_range"},
	)

	m.activeRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "apate",
			Name:      "active_requests",
			Help:      "Number of requests currently being resolved",
		},
	)

	m.renderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "apate",
			Name:      "render_duration_seconds",
			Help:      "Time taken by the output renderer, by output type",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"output_type"},
	)

	m.processorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "apate",
			Name:      "processor_chain_duration_seconds",
			Help:      "Time taken running a Deceit's processor chain",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"deceit"},
	)

	m.scriptErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apate",
			Name:      "script_errors_total",
			Help:      "Total number of script runtime errors, by stage",
		},
		[]string{"stage"},
	)

	m.adminWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apate",
			Name:      "admin_writes_total",
			Help:      "Total number of successful admin configuration writes, by operation",
		},
		[]string{"operation"},
	)

	m.processRSSBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "apate",
			Name:      "process_resident_memory_bytes",
			Help:      "Resident memory of the running process",
		},
	)

	m.processCPURatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "apate",
			Name:      "process_cpu_ratio",
			Help:      "CPU utilization fraction of the running process",
		},
	)

	registerer.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.activeRequests,
		m.renderDuration,
		m.processorDuration,
		m.scriptErrors,
		m.adminWritesTotal,
		m.processRSSBytes,
		m.processCPURatio,
	)

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		m.proc = proc
	} else {
		logger.Warn("process metrics unavailable", zap.Error(err))
	}

	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	m.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return m
}

// RecordRequest records one resolved request's outcome status and latency.
func (m *Metrics) RecordRequest(status int, duration time.Duration) {
	r := statusRange(status)
	m.requestsTotal.WithLabelValues(r).Inc()
	m.requestDuration.WithLabelValues(r).Observe(duration.Seconds())
}

// IncActiveRequests/DecActiveRequests track requests in flight.
func (m *Metrics) IncActiveRequests() { m.activeRequests.Inc() }
func (m *Metrics) DecActiveRequests() { m.activeRequests.Dec() }

// RecordRenderDuration records time spent in the output renderer.
func (m *Metrics) RecordRenderDuration(outputType string, duration time.Duration) {
	m.renderDuration.WithLabelValues(outputType).Observe(duration.Seconds())
}

// RecordProcessorDuration records time spent running a Deceit's processor
// chain, labeled by the Deceit's resource-ref key.
func (m *Metrics) RecordProcessorDuration(deceitRef string, duration time.Duration) {
	m.processorDuration.WithLabelValues(deceitRef).Observe(duration.Seconds())
}

// RecordScriptError records a script runtime failure at the given stage
// ("matcher", "render", "processor").
func (m *Metrics) RecordScriptError(stage string) {
	m.scriptErrors.WithLabelValues(stage).Inc()
}

// RecordAdminWrite records a successful admin write ("replace", "append",
// "prepend").
func (m *Metrics) RecordAdminWrite(operation string) {
	m.adminWritesTotal.WithLabelValues(operation).Inc()
}

// SampleProcess refreshes the process RSS/CPU gauges; call periodically
// from a background ticker, not per-request.
func (m *Metrics) SampleProcess() {
	if m.proc == nil {
		return
	}
	if mem, err := m.proc.MemoryInfo(); err == nil && mem != nil {
		m.processRSSBytes.Set(float64(mem.RSS))
	}
	if pct, err := m.proc.CPUPercent(); err == nil {
		m.processCPURatio.Set(pct / 100)
	}
}

// AttachCounters registers a gauge vector, "apate_counter", that reflects
// the engine's shared counter store on every scrape. Call once after both
// Metrics and the counter store exist.
func (m *Metrics) AttachCounters(store CounterSnapshotter) {
	m.registerer.MustRegister(&counterCollector{
		desc: prometheus.NewDesc(
			"apate_counter",
			"Current value of a script-visible named counter",
			[]string{"key"},
			nil,
		),
		snapshot: store,
	})
}

// ServeHTTP exposes the Prometheus exposition format over fasthttp.
func (m *Metrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	m.httpHandler(ctx)
}

func statusRange(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
