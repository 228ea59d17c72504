package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Resolution sources reported on resolve_total.
const (
	sourceMemory   = "memory"
	sourceInflight = "inflight"
	sourceNew      = "new"
)

// Metrics provides Prometheus metrics for the resolve pipeline.
// All methods are nil-safe: calls on a nil *Metrics are no-ops.
type Metrics struct {
	// ResolveTotal counts resolve calls, labeled by where the answer came from.
	ResolveTotal *prometheus.CounterVec

	// InFlight tracks the number of keyed tasks currently registered.
	InFlight prometheus.Gauge

	// TaskResultsTotal counts settled tasks, labeled "success" or "failure".
	TaskResultsTotal *prometheus.CounterVec

	// DiskHitsTotal counts network resolutions answered by the disk store.
	DiskHitsTotal prometheus.Counter

	// FetchDuration observes network resolution time in seconds.
	FetchDuration prometheus.Histogram
}

// NewMetrics creates and registers engine metrics with reg. If reg is nil,
// metrics are created but not registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ResolveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vapcache",
			Subsystem: "engine",
			Name:      "resolve_total",
			Help:      "Total number of resolve calls by answer source",
		}, []string{"source"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vapcache",
			Subsystem: "engine",
			Name:      "inflight",
			Help:      "Current number of registered in-flight tasks",
		}),
		TaskResultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vapcache",
			Subsystem: "engine",
			Name:      "task_results_total",
			Help:      "Total number of settled tasks by result",
		}, []string{"result"}),
		DiskHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vapcache",
			Subsystem: "engine",
			Name:      "disk_hits_total",
			Help:      "Total number of network resolutions served from the disk store",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vapcache",
			Subsystem: "engine",
			Name:      "fetch_duration_seconds",
			Help:      "Time spent resolving network resources",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		}),
	}

	if reg != nil {
		collectors := []prometheus.Collector{
			m.ResolveTotal,
			m.InFlight,
			m.TaskResultsTotal,
			m.DiskHitsTotal,
			m.FetchDuration,
		}
		for _, c := range collectors {
			if err := reg.Register(c); err != nil {
				// Ignore AlreadyRegisteredError (engine rebuilt on the same registry).
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	}

	return m
}

func (m *Metrics) recordResolve(source string) {
	if m == nil {
		return
	}
	m.ResolveTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) setInFlight(n int) {
	if m == nil {
		return
	}
	m.InFlight.Set(float64(n))
}

func (m *Metrics) recordResult(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.TaskResultsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) recordFetch(diskHit bool, seconds float64) {
	if m == nil {
		return
	}
	if diskHit {
		m.DiskHitsTotal.Inc()
	}
	m.FetchDuration.Observe(seconds)
}
