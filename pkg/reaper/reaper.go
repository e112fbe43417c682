// Package reaper implements the agent's secondary actor: it tracks
// which OS process belongs to which (framework, executor) pair and
// reaps child-process exits without blocking the agent's own loop.
package reaper

import (
	"fmt"
	"syscall"
	"time"

	"github.com/clustercore/noded/pkg/metrics"
	"github.com/clustercore/noded/pkg/process"
	"github.com/clustercore/noded/pkg/types"
)

// Watch registers pid as belonging to (frameworkID, executorID). Sent
// by the agent right after the isolation bridge returns a non-zero
// pid from LaunchExecutor.
type Watch struct {
	FrameworkID types.FrameworkID
	ExecutorID  types.ExecutorID
	Pid         int
}

// ExecutorExited is dispatched to the agent when a watched pid's exit
// is reaped.
type ExecutorExited struct {
	FrameworkID types.FrameworkID
	ExecutorID  types.ExecutorID
	Pid         int
	Status      int
}

type tick struct{}

type watchKey struct {
	frameworkID types.FrameworkID
	executorID  types.ExecutorID
}

// Reaper owns the two maps described by the component design: pids
// currently being watched, and exit statuses observed before their
// watch was registered.
type Reaper struct {
	loop    *process.Loop
	agent   process.PID
	watching map[int]watchKey
	exited   map[int]int
	interval time.Duration
}

// New creates a reaper actor linked to agent; Run must be called to
// start its loop. interval controls how often it polls for zombies.
func New(registry *process.Registry, self process.PID, agent process.PID, interval time.Duration) *Reaper {
	r := &Reaper{
		loop:     process.NewLoop(self, registry, 64),
		agent:    agent,
		watching: make(map[int]watchKey),
		exited:   make(map[int]int),
		interval: interval,
	}
	r.loop.Install(Watch{}, r.handleWatch)
	r.loop.Install(tick{}, r.handleTick)
	r.loop.Install(process.Exited{}, r.handleAgentExited)
	r.loop.Link(agent)
	return r
}

// Run starts the reap-tick timer and blocks in the actor's dispatch
// loop until Terminate is called.
func (r *Reaper) Run() {
	handle := process.Every(r.interval, r.loop.Mailbox, func() process.Message { return tick{} })
	defer handle.Stop()
	r.loop.Run()
}

// Done returns a channel closed once the reaper's loop has terminated.
// cmd/noded selects on it alongside the agent's own Done so a reaper
// that exits on its own (losing its link to the agent) is observed
// rather than leaving the agent running with no child-process reaper.
func (r *Reaper) Done() <-chan struct{} {
	return r.loop.Done()
}

// Err reports the reason the reaper's loop terminated. Only
// meaningful after Done is closed.
func (r *Reaper) Err() error {
	return r.loop.Err()
}

func (r *Reaper) handleWatch(msg process.Message) {
	w := msg.(Watch)
	key := watchKey{w.FrameworkID, w.ExecutorID}
	if status, ok := r.exited[w.Pid]; ok {
		delete(r.exited, w.Pid)
		r.loop.Send(r.agent, ExecutorExited{FrameworkID: w.FrameworkID, ExecutorID: w.ExecutorID, Pid: w.Pid, Status: status})
		return
	}
	r.watching[w.Pid] = key
}

// handleTick reaps at most one zombie, per the one-zombie-per-tick
// design: a non-blocking wait4 that never stalls the reaper's own
// dispatch loop.
func (r *Reaper) handleTick(msg process.Message) {
	var status syscall.WaitStatus
	pid, err := syscall.Wait4(-1, &status, syscall.WNOHANG, nil)
	if err != nil || pid <= 0 {
		return
	}
	metrics.ReapedChildrenTotal.Inc()

	exitStatus := exitStatusOf(status)
	key, watched := r.watching[pid]
	if !watched {
		r.exited[pid] = exitStatus
		return
	}
	delete(r.watching, pid)
	r.loop.Send(r.agent, ExecutorExited{FrameworkID: key.frameworkID, ExecutorID: key.executorID, Pid: pid, Status: exitStatus})
}

// handleAgentExited terminates the reaper fatally when its link to
// the agent breaks — the only condition under which the reaper exits
// on its own.
func (r *Reaper) handleAgentExited(msg process.Message) {
	r.loop.TerminateWithError(fmt.Errorf("reaper: lost link to agent %s", r.agent))
}

func exitStatusOf(status syscall.WaitStatus) int {
	if status.Exited() {
		return status.ExitStatus()
	}
	if status.Signaled() {
		return 128 + int(status.Signal())
	}
	return int(status)
}
