package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	laneQueueSize    *prometheus.GaugeVec
	laneEnqueueTotal *prometheus.CounterVec
	laneDequeueTotal *prometheus.CounterVec
	laneTaskDuration *prometheus.HistogramVec

	runTotal    *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	runAborted  prometheus.Counter
	activeRuns  prometheus.Gauge

	compactionCycles  prometheus.Counter
	compactionRetries prometheus.Counter

	blocksFinalized     prometheus.Counter
	toolCallsTotal      *prometheus.CounterVec
	toolBytesSanitized  prometheus.Counter
	debouncerFlushTotal prometheus.Counter

	gatewayClients prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			laneQueueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "lane_queue_size",
					Help: "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			laneEnqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "lane_enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			laneDequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "lane_dequeue_total",
					Help: "Total task completions by lane and status.",
				},
				[]string{"lane", "status"},
			),
			laneTaskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "lane_task_duration_seconds",
					Help:    "Task execution duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			runTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_run_total",
					Help: "Total agent runs by provider and status.",
				},
				[]string{"provider", "status"},
			),
			runDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_run_duration_seconds",
					Help:    "Agent run duration in seconds by provider.",
					Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
				},
				[]string{"provider"},
			),
			runAborted: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "agent_run_aborted_total",
					Help: "Total agent runs that ended aborted.",
				},
			),
			activeRuns: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "agent_active_runs",
					Help: "Number of runs currently registered.",
				},
			),
			compactionCycles: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "compaction_cycles_total",
					Help: "Total compaction cycles observed mid-run.",
				},
			),
			compactionRetries: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "compaction_retries_total",
					Help: "Total prompt retries caused by compaction.",
				},
			),
			blocksFinalized: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "reply_blocks_finalized_total",
					Help: "Total finalized reply blocks.",
				},
			),
			toolCallsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_calls_total",
					Help: "Total tool calls observed by tool name.",
				},
				[]string{"tool"},
			),
			toolBytesSanitized: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "tool_bytes_sanitized_total",
					Help: "Total binary payload bytes stripped from tool results.",
				},
			),
			debouncerFlushTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "tool_debouncer_flush_total",
					Help: "Total tool-update debouncer flushes.",
				},
			),
			gatewayClients: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "gateway_clients",
					Help: "Currently connected gateway clients.",
				},
			),
		}

		prometheus.MustRegister(
			m.laneQueueSize,
			m.laneEnqueueTotal,
			m.laneDequeueTotal,
			m.laneTaskDuration,
			m.runTotal,
			m.runDuration,
			m.runAborted,
			m.activeRuns,
			m.compactionCycles,
			m.compactionRetries,
			m.blocksFinalized,
			m.toolCallsTotal,
			m.toolBytesSanitized,
			m.debouncerFlushTotal,
			m.gatewayClients,
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

func RecordLaneEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.laneEnqueueTotal.WithLabelValues(lane).Inc()
	m.laneQueueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetLaneQueueSize(lane string, queueSize int) {
	m := getMetrics()
	m.laneQueueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordLaneCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.laneDequeueTotal.WithLabelValues(lane, status).Inc()
	m.laneTaskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.laneQueueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordRun(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.runTotal.WithLabelValues(provider, status).Inc()
	m.runDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordRunAborted() {
	getMetrics().runAborted.Inc()
}

func SetActiveRuns(count int) {
	getMetrics().activeRuns.Set(float64(count))
}

func RecordCompactionCycle() {
	getMetrics().compactionCycles.Inc()
}

func RecordCompactionRetry() {
	getMetrics().compactionRetries.Inc()
}

func RecordBlockFinalized() {
	getMetrics().blocksFinalized.Inc()
}

func RecordToolCall(tool string) {
	getMetrics().toolCallsTotal.WithLabelValues(tool).Inc()
}

func RecordToolBytesSanitized(n int) {
	getMetrics().toolBytesSanitized.Add(float64(n))
}

func RecordDebouncerFlush() {
	getMetrics().debouncerFlushTotal.Inc()
}

func SetGatewayClients(count int) {
	getMetrics().gatewayClients.Set(float64(count))
}
