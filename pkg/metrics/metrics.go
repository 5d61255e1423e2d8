package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Peer cache metrics
	PeersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "controld_peers_total",
			Help: "Total number of known peers by membership state",
		},
		[]string{"state"},
	)

	// Raft (DC election) metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "controld_raft_is_dc",
			Help: "Whether this node is the elected DC (1 = DC, 0 = not DC)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "controld_raft_peers_total",
			Help: "Total number of Raft peers participating in DC election",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "controld_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "controld_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	// Controller FSM metrics
	FSMStateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controld_fsm_state_transitions_total",
			Help: "Total number of controller FSM state transitions",
		},
		[]string{"from", "to"},
	)

	FSMCurrentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "controld_fsm_current_state",
			Help: "Indicator gauge for the controller FSM's current state (1 = active)",
		},
		[]string{"state"},
	)

	// Transition engine metrics
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controld_transitions_total",
			Help: "Total number of transition graphs completed, by outcome",
		},
		[]string{"outcome"},
	)

	TransitionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "controld_transition_duration_seconds",
			Help:    "Time taken to complete a transition graph",
			Buckets: prometheus.DefBuckets,
		},
	)

	TransitionBatchLimit = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "controld_transition_batch_limit",
			Help: "Current batch_limit used to throttle in-flight actions",
		},
	)

	ActionsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "controld_actions_in_flight",
			Help: "Number of transition graph actions currently executing",
		},
	)

	// Executor client (LRM) metrics
	ExecutorCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controld_executor_calls_total",
			Help: "Total number of resource operations dispatched, by task and rc",
		},
		[]string{"task", "rc"},
	)

	ExecutorCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "controld_executor_call_duration_seconds",
			Help:    "Duration of resource-agent invocations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	PendingOperationsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "controld_pending_operations_total",
			Help: "Number of resource operations currently in flight",
		},
	)

	// Fencing coordinator metrics
	FenceOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controld_fence_operations_total",
			Help: "Total number of fence operations, by action and result",
		},
		[]string{"action", "result"},
	)

	FenceOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "controld_fence_operation_duration_seconds",
			Help:    "Duration of fence-agent child process invocations",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 90, 120, 180},
		},
		[]string{"agent"},
	)

	// Messaging layer metrics
	MessagingQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "controld_messaging_queue_depth",
			Help: "Number of frames queued for send, awaiting transport backpressure relief",
		},
	)

	MessagingFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controld_messaging_frames_total",
			Help: "Total number of frames sent or received",
		},
		[]string{"direction"},
	)

	MessagingCompressionRatio = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "controld_messaging_compression_ratio",
			Help:    "Ratio of compressed to uncompressed frame payload size",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)
)

func init() {
	prometheus.MustRegister(PeersTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(FSMStateTransitionsTotal)
	prometheus.MustRegister(FSMCurrentState)
	prometheus.MustRegister(TransitionsTotal)
	prometheus.MustRegister(TransitionDuration)
	prometheus.MustRegister(TransitionBatchLimit)
	prometheus.MustRegister(ActionsInFlight)
	prometheus.MustRegister(ExecutorCallsTotal)
	prometheus.MustRegister(ExecutorCallDuration)
	prometheus.MustRegister(PendingOperationsTotal)
	prometheus.MustRegister(FenceOperationsTotal)
	prometheus.MustRegister(FenceOperationDuration)
	prometheus.MustRegister(MessagingQueueDepth)
	prometheus.MustRegister(MessagingFramesTotal)
	prometheus.MustRegister(MessagingCompressionRatio)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
