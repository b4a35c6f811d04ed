// Package metrics exposes the Prometheus collectors for queue, session and
// supervisor activity.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "telxfwd"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	JobsEnqueued      *prometheus.CounterVec
	JobsFinished      *prometheus.CounterVec
	JobRetries        *prometheus.CounterVec
	JobDuration       *prometheus.HistogramVec
	QueueDepth        *prometheus.GaugeVec
	ScheduledJobs     prometheus.Gauge
	ActiveWorkers     prometheus.Gauge
	StuckJobsResolved *prometheus.CounterVec

	SessionsActive    *prometheus.GaugeVec
	SessionReconnects *prometheus.CounterVec
	SessionDispatches *prometheus.CounterVec

	LoopRestarts      *prometheus.CounterVec
	MessagesForwarded *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers all collectors on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	factory := promauto.With(reg)
	m := &Metrics{gatherer: reg}

	m.initQueueMetrics(factory)
	m.initSessionMetrics(factory)
	m.initRuntimeMetrics(factory)
	m.initHTTPMetrics(factory)

	return m
}

func (m *Metrics) initQueueMetrics(factory promauto.Factory) {
	m.JobsEnqueued = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "queue",
		Name:      "jobs_enqueued_total",
		Help:      "Jobs accepted into the queue",
	}, []string{"task_type", "band"})

	m.JobsFinished = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "queue",
		Name:      "jobs_finished_total",
		Help:      "Jobs that reached an outcome on a worker",
	}, []string{"task_type", "outcome"})

	m.JobRetries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "queue",
		Name:      "job_retries_total",
		Help:      "Automatic and manual job retries",
	}, []string{"task_type", "trigger"})

	m.JobDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "queue",
		Name:      "job_duration_seconds",
		Help:      "Handler execution time",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 1800},
	}, []string{"task_type"})

	m.QueueDepth = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Entries waiting in each priority band",
	}, []string{"band"})

	m.ScheduledJobs = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "queue",
		Name:      "scheduled_jobs",
		Help:      "Delayed jobs waiting for their run time",
	})

	m.ActiveWorkers = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "queue",
		Name:      "active_workers",
		Help:      "Consumers registered on the broker",
	})

	m.StuckJobsResolved = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "monitor",
		Name:      "stuck_jobs_resolved_total",
		Help:      "Processing jobs reconciled by the queue monitor",
	}, []string{"resolution"})
}

func (m *Metrics) initSessionMetrics(factory promauto.Factory) {
	m.SessionsActive = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Live sessions per platform",
	}, []string{"platform"})

	m.SessionReconnects = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "sessions",
		Name:      "reconnects_total",
		Help:      "Reconnect attempts after a failed liveness check",
	}, []string{"platform", "outcome"})

	m.SessionDispatches = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "sessions",
		Name:      "dispatches_total",
		Help:      "Send and forward calls routed through the registry",
	}, []string{"platform", "operation", "outcome"})
}

func (m *Metrics) initRuntimeMetrics(factory promauto.Factory) {
	m.LoopRestarts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "supervisor",
		Name:      "loop_restarts_total",
		Help:      "Restarts of supervised background loops",
	}, []string{"loop"})

	m.MessagesForwarded = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "forwarding",
		Name:      "messages_total",
		Help:      "Forwarded messages by outcome",
	}, []string{"outcome"})
}

func (m *Metrics) initHTTPMetrics(factory promauto.Factory) {
	m.HTTPRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Status server requests by route and status code",
	}, []string{"method", "route", "status_code"})

	m.HTTPDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Status server request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) JobEnqueued(taskType string, band int) {
	if m == nil {
		return
	}
	m.JobsEnqueued.WithLabelValues(taskType, strconv.Itoa(band)).Inc()
}

func (m *Metrics) JobFinished(taskType, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.JobsFinished.WithLabelValues(taskType, outcome).Inc()
	m.JobDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
}

func (m *Metrics) JobRetried(taskType, trigger string) {
	if m == nil {
		return
	}
	m.JobRetries.WithLabelValues(taskType, trigger).Inc()
}

func (m *Metrics) SetQueueDepth(band int, depth int64) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(strconv.Itoa(band)).Set(float64(depth))
}

func (m *Metrics) SetScheduled(n int64) {
	if m == nil {
		return
	}
	m.ScheduledJobs.Set(float64(n))
}

func (m *Metrics) SetActiveWorkers(n int) {
	if m == nil {
		return
	}
	m.ActiveWorkers.Set(float64(n))
}

func (m *Metrics) StuckJobResolved(resolution string) {
	if m == nil {
		return
	}
	m.StuckJobsResolved.WithLabelValues(resolution).Inc()
}

func (m *Metrics) SetSessionsActive(platform string, n int) {
	if m == nil {
		return
	}
	m.SessionsActive.WithLabelValues(platform).Set(float64(n))
}

func (m *Metrics) SessionReconnected(platform string, ok bool) {
	if m == nil {
		return
	}
	m.SessionReconnects.WithLabelValues(platform, outcome(ok)).Inc()
}

func (m *Metrics) SessionDispatched(platform, operation string, ok bool) {
	if m == nil {
		return
	}
	m.SessionDispatches.WithLabelValues(platform, operation, outcome(ok)).Inc()
}

func (m *Metrics) LoopRestarted(loop string) {
	if m == nil {
		return
	}
	m.LoopRestarts.WithLabelValues(loop).Inc()
}

func (m *Metrics) MessageForwarded(result string) {
	if m == nil {
		return
	}
	m.MessagesForwarded.WithLabelValues(result).Inc()
}

func (m *Metrics) HTTPRequestServed(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
