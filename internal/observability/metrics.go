package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueDepth   *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	requeueTotal *prometheus.CounterVec
	itemOutcomes *prometheus.CounterVec

	permitsInUse      prometheus.Gauge
	inFlightHighWater prometheus.Gauge
	remoteCallTotal   *prometheus.CounterVec
	remoteCallSeconds prometheus.Histogram

	lockWaitSeconds *prometheus.HistogramVec
	lockReclaimed   *prometheus.CounterVec

	liveSessions     prometheus.Gauge
	sessionOps       *prometheus.CounterVec
	snapshotSave     *prometheus.HistogramVec
	snapshotLoad     prometheus.Histogram
	snapshotCorrupt  prometheus.Counter
	sweepTotal       *prometheus.CounterVec
	sweepEvicted     prometheus.Counter
	sweepReclaimed   prometheus.Counter
	sweepBytesFreed  prometheus.Counter
	sweepDuration    prometheus.Histogram
	toolInvocations  *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueDepth: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "weave_queue_depth",
					Help: "Pending background items by priority.",
				},
				[]string{"priority"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "weave_enqueue_total",
					Help: "Total background items enqueued by priority.",
				},
				[]string{"priority"},
			),
			requeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "weave_requeue_total",
					Help: "Items put back at the front of their class after a lock miss.",
				},
				[]string{"priority"},
			),
			itemOutcomes: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "weave_item_outcomes_total",
					Help: "Background item outcomes (completed, failed, discarded, requeued).",
				},
				[]string{"outcome"},
			),
			permitsInUse: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "weave_permits_in_use",
					Help: "Rate-limit permits currently held by workers.",
				},
			),
			inFlightHighWater: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "weave_inflight_high_water",
					Help: "Highest number of concurrent remote calls observed.",
				},
			),
			remoteCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "weave_remote_call_total",
					Help: "Remote completion calls by status.",
				},
				[]string{"status"},
			),
			remoteCallSeconds: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "weave_remote_call_duration_seconds",
					Help:    "Remote completion call duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			lockWaitSeconds: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "weave_lock_wait_seconds",
					Help:    "Time spent waiting for a session lock by outcome.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"outcome"},
			),
			lockReclaimed: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "weave_lock_reclaimed_total",
					Help: "Abandoned session locks reclaimed by reason.",
				},
				[]string{"reason"},
			),
			liveSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "weave_live_sessions",
					Help: "Sessions currently held in memory.",
				},
			),
			sessionOps: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "weave_session_operations_total",
					Help: "Coordinator operations by name and status.",
				},
				[]string{"op", "status"},
			),
			snapshotSave: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "weave_snapshot_save_duration_seconds",
					Help:    "Snapshot save duration in seconds by status.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"status"},
			),
			snapshotLoad: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "weave_snapshot_load_duration_seconds",
					Help:    "Duration of a full snapshot directory load in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			snapshotCorrupt: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "weave_snapshot_corrupt_total",
					Help: "Snapshot files skipped because they failed to parse or validate.",
				},
			),
			sweepTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "weave_cleanup_sweeps_total",
					Help: "Cleanup sweeps by result (ran, skipped).",
				},
				[]string{"result"},
			),
			sweepEvicted: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "weave_cleanup_sessions_evicted_total",
					Help: "Idle sessions evicted from memory.",
				},
			),
			sweepReclaimed: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "weave_cleanup_locks_reclaimed_total",
					Help: "Stale locks reclaimed by cleanup sweeps.",
				},
			),
			sweepBytesFreed: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "weave_cleanup_bytes_freed_estimate_total",
					Help: "Estimated bytes released by evictions.",
				},
			),
			sweepDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "weave_cleanup_sweep_duration_seconds",
					Help:    "Cleanup sweep duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			toolInvocations: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "weave_tool_invocations_total",
					Help: "Tool invocations by kind and status.",
				},
				[]string{"kind", "status"},
			),
		}

		prometheus.MustRegister(
			m.queueDepth,
			m.enqueueTotal,
			m.requeueTotal,
			m.itemOutcomes,
			m.permitsInUse,
			m.inFlightHighWater,
			m.remoteCallTotal,
			m.remoteCallSeconds,
			m.lockWaitSeconds,
			m.lockReclaimed,
			m.liveSessions,
			m.sessionOps,
			m.snapshotSave,
			m.snapshotLoad,
			m.snapshotCorrupt,
			m.sweepTotal,
			m.sweepEvicted,
			m.sweepReclaimed,
			m.sweepBytesFreed,
			m.sweepDuration,
			m.toolInvocations,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordEnqueue(priority string, depth int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(priority).Inc()
	m.queueDepth.WithLabelValues(priority).Set(float64(depth))
}

func RecordRequeue(priority string, depth int) {
	m := getMetrics()
	m.requeueTotal.WithLabelValues(priority).Inc()
	m.queueDepth.WithLabelValues(priority).Set(float64(depth))
}

func SetQueueDepth(priority string, depth int) {
	getMetrics().queueDepth.WithLabelValues(priority).Set(float64(depth))
}

func RecordItemOutcome(outcome string) {
	getMetrics().itemOutcomes.WithLabelValues(outcome).Inc()
}

func SetPermitsInUse(n int) {
	getMetrics().permitsInUse.Set(float64(n))
}

func SetInFlightHighWater(n int) {
	getMetrics().inFlightHighWater.Set(float64(n))
}

func RecordRemoteCall(duration time.Duration, success bool) {
	m := getMetrics()
	m.remoteCallTotal.WithLabelValues(statusLabel(success)).Inc()
	m.remoteCallSeconds.Observe(duration.Seconds())
}

func RecordLockAcquire(wait time.Duration, outcome string) {
	getMetrics().lockWaitSeconds.WithLabelValues(outcome).Observe(wait.Seconds())
}

func RecordLockReclaimed(reason string) {
	getMetrics().lockReclaimed.WithLabelValues(reason).Inc()
}

func SetLiveSessions(count int) {
	getMetrics().liveSessions.Set(float64(count))
}

func RecordSessionOp(op string, success bool) {
	getMetrics().sessionOps.WithLabelValues(op, statusLabel(success)).Inc()
}

func RecordSnapshotSave(duration time.Duration, success bool) {
	getMetrics().snapshotSave.WithLabelValues(statusLabel(success)).Observe(duration.Seconds())
}

func RecordSnapshotLoad(duration time.Duration) {
	getMetrics().snapshotLoad.Observe(duration.Seconds())
}

func RecordSnapshotCorrupt() {
	getMetrics().snapshotCorrupt.Inc()
}

func RecordSweep(duration time.Duration, evicted, reclaimed int, bytesFreed int64) {
	m := getMetrics()
	m.sweepTotal.WithLabelValues("ran").Inc()
	m.sweepDuration.Observe(duration.Seconds())
	m.sweepEvicted.Add(float64(evicted))
	m.sweepReclaimed.Add(float64(reclaimed))
	m.sweepBytesFreed.Add(float64(bytesFreed))
}

func RecordSweepSkipped() {
	getMetrics().sweepTotal.WithLabelValues("skipped").Inc()
}

func RecordToolInvocation(kind string, success bool) {
	getMetrics().toolInvocations.WithLabelValues(kind, statusLabel(success)).Inc()
}
