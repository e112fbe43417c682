package agent

import (
	"context"
	"time"

	"github.com/clustercore/noded/pkg/log"
	"github.com/clustercore/noded/pkg/metrics"
	"github.com/clustercore/noded/pkg/process"
	"github.com/clustercore/noded/pkg/reaper"
	"github.com/clustercore/noded/pkg/types"
)

// removeFramework iterates a snapshot of fw's executors and removes
// each, then erases fw from the agent's map, so removing a framework
// removes all of its transitive state.
func (a *Agent) removeFramework(fw *Framework, kill bool) {
	executors := make([]*Executor, 0, len(fw.Executors))
	for _, ex := range fw.Executors {
		executors = append(executors, ex)
	}
	for _, ex := range executors {
		a.removeExecutor(fw, ex, kill)
	}
	a.store.RemoveFramework(fw.ID)
}

// removeExecutor optionally kills the executor through both the wire
// and the isolation bridge, then destroys it. Every task still
// attached to it — launched or merely queued, never dispatched — is
// synthesized as LOST toward the master before being dropped, rather
// than silently disappearing.
func (a *Agent) removeExecutor(fw *Framework, ex *Executor, kill bool) {
	if kill {
		if ex.Registered() {
			a.send(ex.PID, types.KillExecutor{FrameworkID: fw.ID, ExecutorID: ex.ID})
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		timer := metrics.NewTimer()
		err := a.bridge.KillExecutor(ctx, fw.ID, fw.Info, ex.Info)
		timer.ObserveDurationVec(metrics.IsolationOperationDuration, "kill_executor")
		if err != nil {
			metrics.IsolationOperationFailures.WithLabelValues("kill_executor").Inc()
			execLogger := log.WithExecutorID(a.log, string(ex.ID))
			execLogger.Warn().Err(err).Msg("isolation bridge failed to kill executor")
		}
		cancel()
	}

	for taskID := range ex.LaunchedTasks {
		a.synthesizeLostFor(fw, ex.ID, taskID)
		fw.Pending.DropTask(taskID)
	}
	for taskID := range ex.QueuedTasks {
		a.synthesizeLostFor(fw, ex.ID, taskID)
	}

	delete(fw.Executors, ex.ID)
}

func (a *Agent) synthesizeLostFor(fw *Framework, executorID types.ExecutorID, taskID types.TaskID) {
	a.sendUnreliableUpdate(types.StatusUpdate{
		FrameworkID: fw.ID,
		ExecutorID:  executorID,
		SlaveID:     a.store.SlaveID,
		TaskID:      taskID,
		State:       types.TaskLost,
		Sequence:    -1,
		Timestamp:   time.Now(),
	})
}

// notifyResourcesChanged tells the isolation bridge about ex's new
// accumulated resource total.
func (a *Agent) notifyResourcesChanged(fw *Framework, ex *Executor) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	timer := metrics.NewTimer()
	err := a.bridge.ResourcesChanged(ctx, fw.ID, fw.Info, ex.Info, ex.Resources)
	timer.ObserveDurationVec(metrics.IsolationOperationDuration, "resources_changed")
	if err != nil {
		metrics.IsolationOperationFailures.WithLabelValues("resources_changed").Inc()
		execLogger := log.WithExecutorID(a.log, string(ex.ID))
		execLogger.Warn().Err(err).Msg("isolation bridge failed to apply resource change")
	}
}

// handleExecutorExited implements the reaper's executorExited path:
// tell the master, remove the executor without killing it (it is
// already dead), and remove the framework if it was its last
// executor.
func (a *Agent) handleExecutorExited(msg process.Message) {
	ee := msg.(reaper.ExecutorExited)

	fw, ok := a.store.Framework(ee.FrameworkID)
	if !ok {
		return
	}
	if _, ok := fw.Executors[ee.ExecutorID]; !ok {
		return
	}

	a.send(a.master, types.ExitedExecutor{
		SlaveID:     a.store.SlaveID,
		FrameworkID: ee.FrameworkID,
		ExecutorID:  ee.ExecutorID,
		Result:      ee.Status,
	})

	ex := fw.Executors[ee.ExecutorID]
	a.removeExecutor(fw, ex, false)

	if len(fw.Executors) == 0 {
		a.store.RemoveFramework(fw.ID)
	}
}
