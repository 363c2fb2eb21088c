// Package metrics collects Prometheus metrics for the query-serving path:
// cache effectiveness, engine pool rotation, bounded execution and async jobs.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Execution outcomes as seen by the waiting caller.
const (
	OutcomeOK       = "ok"
	OutcomeTimeout  = "timeout"
	OutcomeError    = "error"
	OutcomeCanceled = "canceled"
)

// Collector holds the serving metrics. A nil *Collector records nothing, so
// components can be built without metrics in tests.
type Collector struct {
	cacheLookups     *prometheus.CounterVec
	slotAcquisitions *prometheus.CounterVec
	executions       *prometheus.CounterVec
	execLatency      prometheus.Histogram
	inFlight         prometheus.Gauge
	waiting          prometheus.Gauge
	abandoned        prometheus.Counter
	jobsFinished     *prometheus.CounterVec
	jobsReaped       prometheus.Counter
}

// NewCollector creates the collector and registers every metric on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ragserve_cache_operations_total",
			Help: "Answer cache reads by result, plus failed writes as errors.",
		}, []string{"result"}),
		slotAcquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ragserve_pool_acquisitions_total",
			Help: "Engine slot acquisitions by slot index.",
		}, []string{"slot"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ragserve_executions_total",
			Help: "Engine executions by outcome as seen by the caller.",
		}, []string{"outcome"}),
		execLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ragserve_execution_duration_seconds",
			Help:    "Time a caller waited for an engine execution, including queueing.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ragserve_executions_in_flight",
			Help: "Engine calls currently holding a worker permit.",
		}),
		waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ragserve_executions_waiting",
			Help: "Callers queued for a worker permit.",
		}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ragserve_executions_abandoned_total",
			Help: "Engine calls that returned after their caller had given up.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ragserve_jobs_finished_total",
			Help: "Async jobs reaching a terminal status.",
		}, []string{"status"}),
		jobsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ragserve_jobs_reaped_total",
			Help: "Finished async jobs deleted after the retention window.",
		}),
	}

	reg.MustRegister(
		c.cacheLookups,
		c.slotAcquisitions,
		c.executions,
		c.execLatency,
		c.inFlight,
		c.waiting,
		c.abandoned,
		c.jobsFinished,
		c.jobsReaped,
	)
	return c
}

// RecordCacheLookup counts one cache read, or a failed write with CacheError.
func (c *Collector) RecordCacheLookup(result string) {
	if c == nil {
		return
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// RecordSlotAcquired counts one checkout of the given pool slot.
func (c *Collector) RecordSlotAcquired(slot int) {
	if c == nil {
		return
	}
	c.slotAcquisitions.WithLabelValues(strconv.Itoa(slot)).Inc()
}

// RecordExecution records how a caller's wait ended and how long it took.
func (c *Collector) RecordExecution(outcome string, waited time.Duration) {
	if c == nil {
		return
	}
	c.executions.WithLabelValues(outcome).Inc()
	c.execLatency.Observe(waited.Seconds())
}

// WaitStarted and WaitEnded bracket a caller queued for a permit.
func (c *Collector) WaitStarted() {
	if c == nil {
		return
	}
	c.waiting.Inc()
}

func (c *Collector) WaitEnded() {
	if c == nil {
		return
	}
	c.waiting.Dec()
}

// WorkerStarted and WorkerDone bracket an engine call holding a permit.
func (c *Collector) WorkerStarted() {
	if c == nil {
		return
	}
	c.inFlight.Inc()
}

func (c *Collector) WorkerDone() {
	if c == nil {
		return
	}
	c.inFlight.Dec()
}

// RecordAbandoned counts an engine call whose result nobody received.
func (c *Collector) RecordAbandoned() {
	if c == nil {
		return
	}
	c.abandoned.Inc()
}

// RecordJobFinished counts an async job reaching status.
func (c *Collector) RecordJobFinished(status string) {
	if c == nil {
		return
	}
	c.jobsFinished.WithLabelValues(status).Inc()
}

// RecordJobsReaped counts deleted jobs.
func (c *Collector) RecordJobsReaped(n int) {
	if c == nil {
		return
	}
	c.jobsReaped.Add(float64(n))
}
