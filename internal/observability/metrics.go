package observability

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lessonstream"

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	apiRequests   *prometheus.CounterVec
	apiLatency    *prometheus.HistogramVec
	repairStages  *prometheus.CounterVec
	repairFailed  prometheus.Counter
	assetJobs     *prometheus.CounterVec
	assetDuration *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	runsActive    prometheus.Gauge
	pushDropped   prometheus.Counter
}

// register returns the already-registered collector when c duplicates one.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// MustNewMetrics registers the collectors with reg. A nil reg gets a fresh
// registry that also carries the Go runtime and process collectors.
func MustNewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return &Metrics{
		gatherer: reg,
		apiRequests: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"})),
		apiLatency: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help: "HTTP request latency.", Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"})),
		repairStages: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "repair", Name: "success_total",
			Help: "Successful structured-output recoveries by winning stage.",
		}, []string{"stage"})),
		repairFailed: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "repair", Name: "exhausted_total",
			Help: "Model outputs no repair stage could recover.",
		})),
		assetJobs: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "assets", Name: "jobs_total",
			Help: "Finished asset jobs by kind and status.",
		}, []string{"kind", "status"})),
		assetDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "assets", Name: "job_duration_seconds",
			Help: "Asset job duration.", Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 45, 90},
		}, []string{"kind", "status"})),
		runs: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "runs", Name: "total",
			Help: "Finished lesson runs by outcome.",
		}, []string{"outcome"})),
		runDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "runs", Name: "duration_seconds",
			Help: "Lesson run duration.", Buckets: []float64{1, 5, 10, 20, 40, 60, 120, 240},
		}, []string{"outcome"})),
		runsActive: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "runs", Name: "active",
			Help: "Lesson runs in progress.",
		})),
		pushDropped: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "push", Name: "dropped_total",
			Help: "Progress or thinking messages dropped for slow consumers.",
		})),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(dur.Seconds())
}

func (m *Metrics) ObserveRepair(stage string) {
	if m == nil {
		return
	}
	m.repairStages.WithLabelValues(stage).Inc()
}

func (m *Metrics) IncRepairExhausted() {
	if m == nil {
		return
	}
	m.repairFailed.Inc()
}

func (m *Metrics) ObserveAssetJob(kind, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.assetJobs.WithLabelValues(kind, status).Inc()
	m.assetDuration.WithLabelValues(kind, status).Observe(dur.Seconds())
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsActive.Inc()
}

func (m *Metrics) RunFinished(outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.runsActive.Dec()
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.WithLabelValues(outcome).Observe(dur.Seconds())
}

func (m *Metrics) AddPushDropped(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.pushDropped.Add(float64(n))
}
