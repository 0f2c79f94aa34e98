// Package metrics exposes the agent's Prometheus counters. It keeps
// cuemby/warren's pkg/metrics shape — package-global collectors registered in init(),
// a Timer helper, a ticker-driven Collector — but the metrics
// themselves are the agent's own: scheduling, task execution, checksum
// postponement, and protocol traffic, rather than cluster node/
// container/Raft counts.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TargetsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetagent_targets_total",
			Help: "Configured targets by kind (server, local, listener)",
		},
		[]string{"kind"},
	)

	QueuedEvents = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetagent_queued_events",
			Help: "Pending events per target",
		},
		[]string{"target"},
	)

	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetagent_scheduling_latency_seconds",
			Help:    "Time from an event's scheduled rundate to its dequeue",
			Buckets: prometheus.DefBuckets,
		},
	)

	TaskRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetagent_task_runs_total",
			Help: "Completed task runs by task name and outcome",
		},
		[]string{"task", "outcome"},
	)

	TaskRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetagent_task_run_duration_seconds",
			Help:    "Task run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	ModuleTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetagent_module_timeouts_total",
			Help: "Probe modules killed after exceeding backend-collect-timeout",
		},
		[]string{"module"},
	)

	InventoryPostponedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetagent_inventory_postponed_total",
			Help: "Full inventories postponed because their checksum was unchanged",
		},
	)

	InventorySubmitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetagent_inventory_submit_duration_seconds",
			Help:    "Time to build and submit one inventory document",
			Buckets: prometheus.DefBuckets,
		},
	)

	ProtocolRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetagent_protocol_requests_total",
			Help: "Protocol client requests by message type and HTTP status class",
		},
		[]string{"message_type", "status"},
	)

	ProtocolRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetagent_protocol_request_duration_seconds",
			Help:    "Protocol client request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"message_type"},
	)

	ProtocolPendingRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetagent_protocol_pending_retries_total",
			Help: "Pending-response retries issued to the inventory server",
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetagent_httpd_requests_total",
			Help: "Requests served by the embedded HTTP server by route and status",
		},
		[]string{"route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		TargetsTotal,
		QueuedEvents,
		SchedulingLatency,
		TaskRunsTotal,
		TaskRunDuration,
		ModuleTimeoutsTotal,
		InventoryPostponedTotal,
		InventorySubmitDuration,
		ProtocolRequestsTotal,
		ProtocolRequestDuration,
		ProtocolPendingRetries,
		HTTPRequestsTotal,
	)
}

// Handler returns the Prometheus scrape handler, mounted by pkg/httpd
// as the built-in /metrics route.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer, starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
