package agent

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/clustercore/noded/pkg/isolation"
	"github.com/clustercore/noded/pkg/process"
	"github.com/clustercore/noded/pkg/reaper"
	"github.com/clustercore/noded/pkg/transport"
	"github.com/clustercore/noded/pkg/types"
)

// fakeBridge is an isolation.Bridge that never touches the OS: it
// records every call it receives and hands back pid 0, so launched
// executors are never handed to the reaper.
type fakeBridge struct {
	launched  []types.ExecutorID
	killed    []types.ExecutorID
	resized   []types.ExecutorID
}

func (b *fakeBridge) Initialize(process.PID, isolation.Config, types.SlaveInfo) error { return nil }

func (b *fakeBridge) LaunchExecutor(ctx context.Context, frameworkID types.FrameworkID, frameworkInfo types.FrameworkInfo, executorInfo types.ExecutorInfo, workDir string) (int, error) {
	b.launched = append(b.launched, executorInfo.ExecutorID)
	return 0, nil
}

func (b *fakeBridge) ResourcesChanged(ctx context.Context, frameworkID types.FrameworkID, frameworkInfo types.FrameworkInfo, executorInfo types.ExecutorInfo, newTotal types.Resources) error {
	b.resized = append(b.resized, executorInfo.ExecutorID)
	return nil
}

func (b *fakeBridge) KillExecutor(ctx context.Context, frameworkID types.FrameworkID, frameworkInfo types.FrameworkInfo, executorInfo types.ExecutorInfo) error {
	b.killed = append(b.killed, executorInfo.ExecutorID)
	return nil
}

// harness wires one agent against a shared registry, a fake master
// mailbox, and a fake bridge, all addressable by the test.
type harness struct {
	t        *testing.T
	registry *process.Registry
	agent    *Agent
	bridge   *fakeBridge
	self     process.PID
	master   process.PID
	masterMB *process.Mailbox
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	registry := process.NewRegistry()
	self := process.PID{ID: "slave(1)"}
	master := process.PID{ID: "master(1)"}
	masterMB := process.NewMailbox(32)
	registry.Register(master, masterMB)

	bridge := &fakeBridge{}
	ag := New(self, registry, types.SlaveInfo{Hostname: "h1"}, transport.NewLocal(registry), bridge, process.PID{ID: "reaper(1)"}, Config{
		WorkDirRoot:   t.TempDir(),
		RetryInterval: time.Hour,
	}, zerolog.Nop())

	go ag.Run()
	t.Cleanup(ag.Terminate)

	h := &harness{t: t, registry: registry, agent: ag, bridge: bridge, self: self, master: master, masterMB: masterMB}
	h.registerAgent()
	return h
}

// registerAgent drives the agent through NewMasterDetected ->
// RegisterReply so every scenario starts from a Registered session with
// SlaveID "s1".
func (h *harness) registerAgent() {
	h.agent.Send(types.NewMasterDetected{MasterPID: h.master.String()})
	h.recvFromMaster() // RegisterSlave
	h.agent.Send(types.RegisterReply{SlaveID: "s1"})
}

// executorMailbox registers and returns a mailbox at the deterministic
// PID an executor for (frameworkID, executorID) would register under.
func (h *harness) executorMailbox(frameworkID types.FrameworkID, executorID types.ExecutorID) *process.Mailbox {
	mb := process.NewMailbox(32)
	h.registry.Register(executorPID(frameworkID, executorID), mb)
	return mb
}

func (h *harness) recvFromMaster() process.Message {
	h.t.Helper()
	select {
	case msg := <-h.masterMB.Recv():
		return msg
	case <-time.After(time.Second):
		h.t.Fatal("master never received a message")
		return nil
	}
}

func (h *harness) recvFrom(mb *process.Mailbox) process.Message {
	h.t.Helper()
	select {
	case msg := <-mb.Recv():
		return msg
	case <-time.After(time.Second):
		h.t.Fatal("expected recipient never received a message")
		return nil
	}
}

func (h *harness) expectSilence(mb *process.Mailbox) {
	h.t.Helper()
	select {
	case msg := <-mb.Recv():
		h.t.Fatalf("expected no message, got %#v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestHappyPath covers scenario 1: run, register, RUNNING, FINISHED,
// both acked, task and its pending entry both gone afterward.
func TestHappyPath(t *testing.T) {
	h := newHarness(t)

	h.agent.Send(types.RunTask{
		FrameworkInfo: types.FrameworkInfo{ID: "f1"},
		FrameworkID:   "f1",
		SchedulerPID:  h.master.String(),
		Task:          types.TaskDescription{FrameworkID: "f1", ExecutorID: "e1", TaskID: "t1"},
	})

	require.Eventually(t, func() bool { return len(h.bridge.launched) == 1 }, time.Second, time.Millisecond)
	require.Equal(t, types.ExecutorID("e1"), h.bridge.launched[0])

	exMB := h.executorMailbox("f1", "e1")
	h.agent.Send(types.RegisterExecutor{FrameworkID: "f1", ExecutorID: "e1"})

	args := h.recvFrom(exMB)
	require.IsType(t, types.ExecutorArgs{}, args)

	runTask := h.recvFrom(exMB)
	require.Equal(t, types.TaskID("t1"), runTask.(types.RunTask).Task.TaskID)

	h.agent.Send(types.ExecutorStatusUpdate{Update: types.StatusUpdate{
		FrameworkID: "f1", ExecutorID: "e1", TaskID: "t1", State: types.TaskRunning,
	}})
	running := h.recvFromMaster().(types.StatusUpdateMessage)
	require.Equal(t, types.TaskRunning, running.Update.State)
	require.True(t, running.Reliable)
	h.agent.Send(types.StatusUpdateAck{FrameworkID: "f1", TaskID: "t1"})

	h.agent.Send(types.ExecutorStatusUpdate{Update: types.StatusUpdate{
		FrameworkID: "f1", ExecutorID: "e1", TaskID: "t1", State: types.TaskFinished,
	}})
	finished := h.recvFromMaster().(types.StatusUpdateMessage)
	require.Equal(t, types.TaskFinished, finished.Update.State)
	h.agent.Send(types.StatusUpdateAck{FrameworkID: "f1", TaskID: "t1"})

	require.Eventually(t, func() bool {
		store := h.agent.Snapshot()
		fw, ok := store.Framework("f1")
		if !ok {
			return false
		}
		ex, ok := fw.Executors["e1"]
		if !ok {
			return false
		}
		_, stillLaunched := ex.LaunchedTasks["t1"]
		return !stillLaunched && fw.Pending.Count() == 0
	}, time.Second, time.Millisecond)
}

// TestKillBeforeRegistration covers scenario 2: killing a queued task
// on a not-yet-registered executor never reaches the executor and
// synthesizes one unreliable KILLED with sequence 0.
func TestKillBeforeRegistration(t *testing.T) {
	h := newHarness(t)

	h.agent.Send(types.RunTask{
		FrameworkInfo: types.FrameworkInfo{ID: "f1"},
		FrameworkID:   "f1",
		SchedulerPID:  h.master.String(),
		Task:          types.TaskDescription{FrameworkID: "f1", ExecutorID: "e2", TaskID: "t2"},
	})
	require.Eventually(t, func() bool { return len(h.bridge.launched) == 1 }, time.Second, time.Millisecond)

	exMB := h.executorMailbox("f1", "e2")
	h.agent.Send(types.KillTask{FrameworkID: "f1", TaskID: "t2"})

	killed := h.recvFromMaster().(types.StatusUpdateMessage)
	require.Equal(t, types.TaskKilled, killed.Update.State)
	require.Equal(t, int64(0), killed.Update.Sequence)
	require.False(t, killed.Reliable)

	h.expectSilence(exMB)
}

// TestUnknownTaskKill covers scenario 3: one synthesized LOST with
// sequence -1, no state mutation.
func TestUnknownTaskKill(t *testing.T) {
	h := newHarness(t)

	h.agent.Send(types.KillTask{FrameworkID: "fX", TaskID: "tX"})

	lost := h.recvFromMaster().(types.StatusUpdateMessage)
	require.Equal(t, types.TaskLost, lost.Update.State)
	require.Equal(t, int64(-1), lost.Update.Sequence)
	require.False(t, lost.Reliable)

	_, ok := h.agent.Snapshot().Framework("fX")
	require.False(t, ok)
}

// TestDuplicateExecutorRegistration covers scenario 4: a second
// registration is answered with KillExecutor and the stored endpoint is
// unchanged.
func TestDuplicateExecutorRegistration(t *testing.T) {
	h := newHarness(t)

	h.agent.Send(types.RunTask{
		FrameworkInfo: types.FrameworkInfo{ID: "f1"},
		FrameworkID:   "f1",
		SchedulerPID:  h.master.String(),
		Task:          types.TaskDescription{FrameworkID: "f1", ExecutorID: "e1", TaskID: "t1"},
	})
	require.Eventually(t, func() bool { return len(h.bridge.launched) == 1 }, time.Second, time.Millisecond)

	exMB := h.executorMailbox("f1", "e1")
	h.agent.Send(types.RegisterExecutor{FrameworkID: "f1", ExecutorID: "e1"})
	h.recvFrom(exMB) // ExecutorArgs
	h.recvFrom(exMB) // RunTask

	wantPID := executorPID("f1", "e1")
	fw, ok := h.agent.Snapshot().Framework("f1")
	require.True(t, ok)
	require.Equal(t, wantPID, fw.Executors["e1"].PID)

	h.agent.Send(types.RegisterExecutor{FrameworkID: "f1", ExecutorID: "e1"})
	kill := h.recvFrom(exMB)
	require.Equal(t, types.KillExecutor{FrameworkID: "f1", ExecutorID: "e1"}, kill)

	fw, ok = h.agent.Snapshot().Framework("f1")
	require.True(t, ok)
	require.Equal(t, wantPID, fw.Executors["e1"].PID)
}

// TestMasterFailover covers scenario 5: REREGISTER_SLAVE on failover,
// a matching REREGISTER_REPLY is accepted, a mismatched one aborts the
// loop fatally.
func TestMasterFailover(t *testing.T) {
	h := newHarness(t)

	h.agent.Send(types.RunTask{
		FrameworkInfo: types.FrameworkInfo{ID: "f1"},
		FrameworkID:   "f1",
		SchedulerPID:  h.master.String(),
		Task:          types.TaskDescription{FrameworkID: "f1", ExecutorID: "e1", TaskID: "t1"},
	})
	require.Eventually(t, func() bool { return len(h.bridge.launched) == 1 }, time.Second, time.Millisecond)
	h.executorMailbox("f1", "e1")
	h.agent.Send(types.RegisterExecutor{FrameworkID: "f1", ExecutorID: "e1"})

	h.agent.Send(types.NoMasterDetected{})

	master2 := process.PID{ID: "master(2)"}
	master2MB := process.NewMailbox(32)
	h.registry.Register(master2, master2MB)
	h.agent.Send(types.NewMasterDetected{MasterPID: master2.String()})

	reregister := h.recvFrom(master2MB).(types.ReregisterSlave)
	require.Equal(t, types.SlaveID("s1"), reregister.SlaveID)
	require.Len(t, reregister.Tasks, 1)
	require.Equal(t, types.TaskID("t1"), reregister.Tasks[0].TaskID)

	h.agent.Send(types.ReregisterReply{SlaveID: "s1"})
	require.Eventually(t, func() bool { return h.agent.SessionState() == int(stateRegistered) }, time.Second, time.Millisecond)

	h.agent.Send(types.ReregisterReply{SlaveID: "s2"})
	require.Eventually(t, func() bool {
		return !h.registry.Send(h.self, types.Ping{})
	}, time.Second, time.Millisecond)
}

// TestExecutorCrash covers scenario 6: a reaped exit notifies the
// master, removes the executor, and removes the framework since it was
// its only executor.
func TestExecutorCrash(t *testing.T) {
	h := newHarness(t)

	h.agent.Send(types.RunTask{
		FrameworkInfo: types.FrameworkInfo{ID: "f1"},
		FrameworkID:   "f1",
		SchedulerPID:  h.master.String(),
		Task:          types.TaskDescription{FrameworkID: "f1", ExecutorID: "e1", TaskID: "t1"},
	})
	require.Eventually(t, func() bool { return len(h.bridge.launched) == 1 }, time.Second, time.Millisecond)
	h.executorMailbox("f1", "e1")
	h.agent.Send(types.RegisterExecutor{FrameworkID: "f1", ExecutorID: "e1"})

	h.agent.Send(reaper.ExecutorExited{FrameworkID: "f1", ExecutorID: "e1", Pid: 4242, Status: 9})

	exited := h.recvFromMaster().(types.ExitedExecutor)
	require.Equal(t, types.ExecutorID("e1"), exited.ExecutorID)
	require.Equal(t, 9, exited.Result)

	require.Eventually(t, func() bool {
		_, ok := h.agent.Snapshot().Framework("f1")
		return !ok
	}, time.Second, time.Millisecond)
}
