package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/clustercore/noded/pkg/log"
	"github.com/clustercore/noded/pkg/metrics"
	"github.com/clustercore/noded/pkg/process"
	"github.com/clustercore/noded/pkg/reaper"
	"github.com/clustercore/noded/pkg/types"
)

// executorPID is the deterministic rendezvous address an executor
// registers under: the agent never learns it from the wire, it
// derives it from the same (frameworkID, executorID) pair it handed
// the isolation bridge at launch time.
func executorPID(frameworkID types.FrameworkID, executorID types.ExecutorID) process.PID {
	return process.PID{ID: fmt.Sprintf("executor(%s,%s)", frameworkID, executorID)}
}

// handleRunTask implements runTask: look up or create the Framework,
// resolve the target Executor, and either queue/dispatch the task
// directly or launch a fresh Executor for it.
func (a *Agent) handleRunTask(msg process.Message) {
	rt := msg.(types.RunTask)

	schedulerPID, err := process.ParsePID(rt.SchedulerPID)
	if err != nil {
		a.log.Warn().Err(err).Msg("runTask with malformed scheduler pid, dropping")
		return
	}
	fw := a.store.EnsureFramework(rt.FrameworkID, rt.FrameworkInfo, schedulerPID)

	executorID := rt.Task.ExecutorID
	if executorID == "" {
		executorID = rt.FrameworkInfo.DefaultExecutorID
	}

	if ex, ok := fw.Executors[executorID]; ok {
		a.dispatchToExistingExecutor(fw, ex, rt.Task)
		return
	}

	a.launchExecutorForTask(fw, rt.FrameworkInfo, executorID, rt.Task)
}

func (a *Agent) dispatchToExistingExecutor(fw *Framework, ex *Executor, desc types.TaskDescription) {
	if !ex.Registered() {
		ex.QueuedTasks[desc.TaskID] = desc
		return
	}

	task := &types.Task{
		FrameworkID: fw.ID,
		ExecutorID:  ex.ID,
		SlaveID:     a.store.SlaveID,
		TaskID:      desc.TaskID,
		Name:        desc.Name,
		Resources:   desc.Resources,
		State:       types.TaskStarting,
	}
	ex.addLaunchedTask(task)
	a.send(ex.PID, a.runTaskWireMessage(fw, desc))
	a.notifyResourcesChanged(fw, ex)
}

// runTaskWireMessage builds the RUN_TASK the executor actually
// receives, stamping it with the framework's current scheduler PID
// rather than whatever PID the original scheduler request carried.
func (a *Agent) runTaskWireMessage(fw *Framework, desc types.TaskDescription) types.RunTask {
	return types.RunTask{
		FrameworkInfo: fw.Info,
		FrameworkID:   fw.ID,
		SchedulerPID:  fw.SchedulerPID.String(),
		Task:          desc,
	}
}

// launchExecutorForTask implements the work-directory-ordering fix:
// the executor id is resolved before the Executor (and its work
// directory) is constructed, never the reverse.
func (a *Agent) launchExecutorForTask(fw *Framework, frameworkInfo types.FrameworkInfo, executorID types.ExecutorID, desc types.TaskDescription) {
	info := types.ExecutorInfo{ExecutorID: executorID, FrameworkID: fw.ID}
	if desc.ExecutorID == executorID {
		info = types.ExecutorInfo{ExecutorID: executorID, FrameworkID: fw.ID, Resources: desc.Resources}
	}

	workDir, err := uniqueWorkDir(a.workDirRoot, a.store.SlaveID, fw.ID, executorID)
	if err != nil {
		a.log.Error().Err(err).Msg("failed to allocate executor work directory")
		return
	}

	ex := newExecutor(fw.ID, info, workDir)
	ex.QueuedTasks[desc.TaskID] = desc
	fw.Executors[executorID] = ex

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	timer := metrics.NewTimer()
	pid, err := a.bridge.LaunchExecutor(ctx, fw.ID, frameworkInfo, info, workDir)
	timer.ObserveDurationVec(metrics.IsolationOperationDuration, "launch_executor")
	if err != nil {
		metrics.IsolationOperationFailures.WithLabelValues("launch_executor").Inc()
		execLogger := log.WithExecutorID(a.log, string(executorID))
		execLogger.Error().Err(err).Msg("isolation bridge failed to launch executor")
		return
	}
	if pid != 0 {
		a.send(a.reaperPID, reaper.Watch{FrameworkID: fw.ID, ExecutorID: executorID, Pid: pid})
	}
}

// handleKillTask implements killTask, including the idempotent-kill
// law: an unknown task always yields one synthesized LOST update.
func (a *Agent) handleKillTask(msg process.Message) {
	kt := msg.(types.KillTask)

	fw, ok := a.store.Framework(kt.FrameworkID)
	if !ok {
		a.synthesizeLost(kt.FrameworkID, kt.TaskID)
		return
	}
	ex, ok := fw.FindExecutorByTask(kt.TaskID)
	if !ok {
		a.synthesizeLost(kt.FrameworkID, kt.TaskID)
		return
	}

	if _, queued := ex.QueuedTasks[kt.TaskID]; queued {
		ex.removeTask(kt.TaskID)
		a.notifyResourcesChanged(fw, ex)
		a.sendUnreliableUpdate(types.StatusUpdate{
			FrameworkID: kt.FrameworkID,
			ExecutorID:  ex.ID,
			SlaveID:     a.store.SlaveID,
			TaskID:      kt.TaskID,
			State:       types.TaskKilled,
			Sequence:    0,
			Timestamp:   time.Now(),
		})
		return
	}

	if ex.Registered() {
		a.send(ex.PID, types.KillTask{FrameworkID: kt.FrameworkID, TaskID: kt.TaskID})
	}
}

func (a *Agent) synthesizeLost(frameworkID types.FrameworkID, taskID types.TaskID) {
	a.sendUnreliableUpdate(types.StatusUpdate{
		FrameworkID: frameworkID,
		SlaveID:     a.store.SlaveID,
		TaskID:      taskID,
		State:       types.TaskLost,
		Sequence:    -1,
		Timestamp:   time.Now(),
	})
}

// handleKillFramework implements killFramework: remove the framework,
// which tears down its executors and tasks.
func (a *Agent) handleKillFramework(msg process.Message) {
	kf := msg.(types.KillFramework)
	fw, ok := a.store.Framework(kf.FrameworkID)
	if !ok {
		return
	}
	a.removeFramework(fw, true)
}

// handleRegisterExecutor implements registerExecutor: reject a
// duplicate registration with KILL_EXECUTOR, otherwise record the
// endpoint, reply, and then flush queuedTasks. The executor's endpoint is
// not carried in the message — executors register under the
// deterministic PID the agent and the isolation bridge agreed on at
// launch time (see executorPID).
func (a *Agent) handleRegisterExecutor(msg process.Message) {
	re := msg.(types.RegisterExecutor)
	pid := executorPID(re.FrameworkID, re.ExecutorID)

	fw, ok := a.store.Framework(re.FrameworkID)
	if !ok {
		a.send(pid, types.KillExecutor{FrameworkID: re.FrameworkID, ExecutorID: re.ExecutorID})
		return
	}
	ex, ok := fw.Executors[re.ExecutorID]
	if !ok || ex.Registered() {
		a.send(pid, types.KillExecutor{FrameworkID: re.FrameworkID, ExecutorID: re.ExecutorID})
		return
	}

	ex.PID = pid
	a.notifyResourcesChanged(fw, ex)
	a.send(pid, types.ExecutorArgs{FrameworkID: re.FrameworkID, ExecutorID: re.ExecutorID, SlaveID: a.store.SlaveID})

	for taskID, desc := range ex.QueuedTasks {
		task := &types.Task{
			FrameworkID: fw.ID,
			ExecutorID:  ex.ID,
			SlaveID:     a.store.SlaveID,
			TaskID:      desc.TaskID,
			Name:        desc.Name,
			Resources:   desc.Resources,
			State:       types.TaskStarting,
		}
		ex.addLaunchedTask(task)
		delete(ex.QueuedTasks, taskID)
		a.send(ex.PID, a.runTaskWireMessage(fw, desc))
	}
	a.notifyResourcesChanged(fw, ex)
}

// handleSchedulerMessage relays a scheduler->executor framework
// message, dropping it with a counter increment when the destination
// is unknown or not yet registered.
func (a *Agent) handleSchedulerMessage(msg process.Message) {
	sm := msg.(types.SchedulerMessage)
	fw, ok := a.store.Framework(sm.FrameworkID)
	if !ok {
		a.store.Stats.InvalidFrameworkMessages++
		return
	}
	ex, ok := fw.Executors[sm.ExecutorID]
	if !ok || !ex.Registered() {
		a.store.Stats.InvalidFrameworkMessages++
		return
	}
	a.store.Stats.ValidFrameworkMessages++
	a.send(ex.PID, types.FrameworkMessage(sm))
}

// handleExecutorMessage relays an executor->scheduler framework
// message under the same best-effort policy.
func (a *Agent) handleExecutorMessage(msg process.Message) {
	em := msg.(types.ExecutorMessage)
	fw, ok := a.store.Framework(em.FrameworkID)
	if !ok {
		a.store.Stats.InvalidFrameworkMessages++
		return
	}
	if _, ok := fw.Executors[em.ExecutorID]; !ok {
		a.store.Stats.InvalidFrameworkMessages++
		return
	}
	a.store.Stats.ValidFrameworkMessages++
	a.send(fw.SchedulerPID, types.FrameworkMessage(em))
}

// handleUpdateFramework implements updateFramework: refresh the
// scheduler endpoint for an existing framework, ignore otherwise.
func (a *Agent) handleUpdateFramework(msg process.Message) {
	uf := msg.(types.UpdateFramework)
	fw, ok := a.store.Framework(uf.FrameworkID)
	if !ok {
		return
	}
	pid, err := process.ParsePID(uf.SchedulerPID)
	if err != nil {
		return
	}
	fw.SchedulerPID = pid
}
