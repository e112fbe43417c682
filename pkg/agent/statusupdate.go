package agent

import (
	"fmt"
	"time"

	"github.com/clustercore/noded/pkg/metrics"
	"github.com/clustercore/noded/pkg/process"
	"github.com/clustercore/noded/pkg/types"
)

// DefaultRetryInterval is STATUS_UPDATE_RETRY_INTERVAL: how long an
// unacknowledged status update waits before being resent.
const DefaultRetryInterval = 10 * time.Second

type retryTick struct{}

// handleStatusUpdate implements the reliability engine's inbound half:
// an executor reports a task's new state, the agent relays it toward
// the master and buffers it for retransmission.
func (a *Agent) handleStatusUpdate(msg process.Message) {
	su := msg.(types.ExecutorStatusUpdate).Update

	fw, ok := a.store.Framework(su.FrameworkID)
	if !ok {
		a.store.Stats.InvalidStatusUpdates++
		return
	}
	ex, ok := fw.Executors[su.ExecutorID]
	if !ok {
		a.store.Stats.InvalidStatusUpdates++
		return
	}
	a.store.Stats.ValidStatusUpdates++

	if task, ok := ex.LaunchedTasks[su.TaskID]; ok {
		task.State = su.State
	}
	a.store.Stats.Record(su.State)

	if su.State.IsTerminal() {
		metrics.TasksTerminal.WithLabelValues(string(su.State)).Inc()
		if _, ok := ex.removeTask(su.TaskID); ok {
			fw.Pending.DropTask(su.TaskID)
			a.notifyResourcesChanged(fw, ex)
		}
	}

	a.sendReliableUpdate(fw, su)
}

// sendReliableUpdate sends update to the master as reliable and
// records it in the framework's pending set at a fresh deadline.
func (a *Agent) sendReliableUpdate(fw *Framework, update types.StatusUpdate) {
	if a.statusLog != nil {
		if err := a.statusLog.Append(fw.ID, types.StatusUpdateMessage{Update: update, Reliable: true}); err != nil {
			a.fatal(fmt.Errorf("status log append: %w", err))
			return
		}
	}
	a.send(a.master, types.StatusUpdateMessage{Update: update, Reliable: true})
	fw.Pending.Put(time.Now().Add(a.retryInterval), types.StatusUpdateMessage{Update: update, Reliable: true})
}

// sendUnreliableUpdate sends a synthesized update (killTask's
// LOST/KILLED synthesis paths) without recording it for retransmission.
func (a *Agent) sendUnreliableUpdate(update types.StatusUpdate) {
	a.send(a.master, types.StatusUpdateMessage{Update: update, Reliable: false})
}

// handleStatusUpdateAck removes exactly one pending entry for the
// acknowledged task, per the at-least-once-updates law.
func (a *Agent) handleStatusUpdateAck(msg process.Message) {
	ack := msg.(types.StatusUpdateAck)
	fw, ok := a.store.Framework(ack.FrameworkID)
	if !ok {
		return
	}
	if fw.Pending.Ack(ack.TaskID) {
		if a.statusLog != nil {
			if err := a.statusLog.Delete(ack.FrameworkID, ack.TaskID); err != nil {
				a.fatal(fmt.Errorf("status log delete: %w", err))
			}
		}
	}
}

// handleRetryTick resends every pending update whose deadline has
// passed, re-arming each at a fresh deadline rather than leaving it in
// a bucket that is never revisited.
func (a *Agent) handleRetryTick(msg process.Message) {
	now := time.Now()
	for _, fw := range a.store.Frameworks {
		due := fw.Pending.Due(now)
		for _, entry := range due {
			a.send(a.master, entry.update)
			metrics.StatusUpdateRetransmissions.Inc()
			fw.Pending.Put(now.Add(a.retryInterval), entry.update)
		}
	}
}
