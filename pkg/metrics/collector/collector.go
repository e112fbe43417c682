// Package collector periodically snapshots an Agent's Store into the
// pkg/metrics Prometheus vectors. It is split out from pkg/metrics
// itself so that pkg/agent can import pkg/metrics directly to report
// its own counters (isolation call latency, retransmissions, terminal
// tasks) without the two packages importing each other.
package collector

import (
	"time"

	"github.com/clustercore/noded/pkg/agent"
	"github.com/clustercore/noded/pkg/metrics"
	"github.com/clustercore/noded/pkg/types"
)

// Collector periodically snapshots an Agent's Store into the
// package's Prometheus metrics, mirroring the counters the
// introspection surface reports over HTTP.
type Collector struct {
	agent  *agent.Agent
	stopCh chan struct{}

	lastValid, lastInvalid           uint64
	lastValidFwMsg, lastInvalidFwMsg uint64
}

// New creates a collector that reports on ag.
func New(ag *agent.Agent) *Collector {
	return &Collector{
		agent:  ag,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds until Stop is called.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the collection loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectSession()
	c.collectFrameworks()
	c.collectTasks()
	c.collectStats()
}

func (c *Collector) collectSession() {
	metrics.MasterSessionState.Set(float64(c.agent.SessionState()))
}

func (c *Collector) collectFrameworks() {
	store := c.agent.Snapshot()
	metrics.FrameworksTotal.Set(float64(len(store.Frameworks)))

	var registered, unregistered int
	for _, fw := range store.Frameworks {
		for _, ex := range fw.Executors {
			if ex.Registered() {
				registered++
			} else {
				unregistered++
			}
		}
	}
	metrics.ExecutorsTotal.WithLabelValues("true").Set(float64(registered))
	metrics.ExecutorsTotal.WithLabelValues("false").Set(float64(unregistered))
}

func (c *Collector) collectTasks() {
	store := c.agent.Snapshot()
	counts := make(map[types.TaskState]int)
	var pending int

	for _, fw := range store.Frameworks {
		pending += fw.Pending.Count()
		for _, ex := range fw.Executors {
			for range ex.QueuedTasks {
				counts[types.TaskState("QUEUED")]++
			}
			for _, task := range ex.LaunchedTasks {
				counts[task.State]++
			}
		}
	}

	for state, count := range counts {
		metrics.TasksTotal.WithLabelValues(string(state)).Set(float64(count))
	}
	metrics.PendingStatusUpdates.Set(float64(pending))
}

// collectStats translates AgentStats's running totals into counter
// increments: the stats struct itself only ever grows, so each tick
// adds just the delta since the last observation.
func (c *Collector) collectStats() {
	stats := c.agent.Snapshot().Stats

	if d := stats.ValidStatusUpdates - c.lastValid; d > 0 {
		metrics.StatusUpdatesTotal.WithLabelValues("valid").Add(float64(d))
	}
	if d := stats.InvalidStatusUpdates - c.lastInvalid; d > 0 {
		metrics.StatusUpdatesTotal.WithLabelValues("invalid").Add(float64(d))
	}
	c.lastValid, c.lastInvalid = stats.ValidStatusUpdates, stats.InvalidStatusUpdates

	if d := stats.ValidFrameworkMessages - c.lastValidFwMsg; d > 0 {
		metrics.FrameworkMessagesTotal.WithLabelValues("valid").Add(float64(d))
	}
	if d := stats.InvalidFrameworkMessages - c.lastInvalidFwMsg; d > 0 {
		metrics.FrameworkMessagesTotal.WithLabelValues("invalid").Add(float64(d))
	}
	c.lastValidFwMsg, c.lastInvalidFwMsg = stats.ValidFrameworkMessages, stats.InvalidFrameworkMessages
}
