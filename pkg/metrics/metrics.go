package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	MasterSessionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "noded_master_session_state",
			Help: "Master session state: 0=unregistered, 1=registered, 2=disconnected",
		},
	)

	// Framework/executor metrics
	FrameworksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "noded_frameworks_total",
			Help: "Total number of frameworks known to this agent",
		},
	)

	ExecutorsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "noded_executors_total",
			Help: "Total number of executors by registration status",
		},
		[]string{"registered"},
	)

	// Task metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "noded_tasks_total",
			Help: "Total number of tasks currently tracked by this agent, by state",
		},
		[]string{"state"},
	)

	TasksTerminal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noded_tasks_terminal_total",
			Help: "Tasks that have reached a terminal state, by state",
		},
		[]string{"state"},
	)

	// Status update reliability metrics
	StatusUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noded_status_updates_total",
			Help: "Status updates received from executors, by validity",
		},
		[]string{"result"},
	)

	FrameworkMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noded_framework_messages_total",
			Help: "Scheduler/executor framework messages relayed, by validity",
		},
		[]string{"result"},
	)

	PendingStatusUpdates = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "noded_pending_status_updates",
			Help: "Status updates sent to the master and awaiting acknowledgement, across all frameworks",
		},
	)

	StatusUpdateRetransmissions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "noded_status_update_retransmissions_total",
			Help: "Status updates resent because their retry deadline elapsed unacknowledged",
		},
	)

	// Isolation bridge metrics
	IsolationOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "noded_isolation_operation_duration_seconds",
			Help:    "Latency of isolation bridge calls, by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	IsolationOperationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noded_isolation_operation_failures_total",
			Help: "Isolation bridge calls that returned an error, by operation",
		},
		[]string{"operation"},
	)

	// Reaper metrics
	ReapedChildrenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "noded_reaped_children_total",
			Help: "Child processes reaped by the agent's reaper actor",
		},
	)
)

func init() {
	prometheus.MustRegister(MasterSessionState)
	prometheus.MustRegister(FrameworksTotal)
	prometheus.MustRegister(ExecutorsTotal)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TasksTerminal)
	prometheus.MustRegister(StatusUpdatesTotal)
	prometheus.MustRegister(FrameworkMessagesTotal)
	prometheus.MustRegister(PendingStatusUpdates)
	prometheus.MustRegister(StatusUpdateRetransmissions)
	prometheus.MustRegister(IsolationOperationDuration)
	prometheus.MustRegister(IsolationOperationFailures)
	prometheus.MustRegister(ReapedChildrenTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
