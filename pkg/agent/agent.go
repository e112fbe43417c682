// Package agent implements the Node Agent's control plane: the
// single-threaded actor that multiplexes master session management,
// the task lifecycle controller, and the status-update reliability
// engine over one in-memory state tree (Store).
package agent

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/clustercore/noded/pkg/isolation"
	"github.com/clustercore/noded/pkg/process"
	"github.com/clustercore/noded/pkg/reaper"
	"github.com/clustercore/noded/pkg/statuslog"
	"github.com/clustercore/noded/pkg/transport"
	"github.com/clustercore/noded/pkg/types"
)

// Terminate is the agent's own TERMINATE event: it tears down every
// Framework (and therefore every Executor and Task) before the loop
// exits.
type Terminate struct{}

// Config is everything the agent needs besides its collaborators.
type Config struct {
	WorkDirRoot   string
	RetryInterval time.Duration
}

// Agent is the control-plane actor: it owns the Store and is the only
// writer of it, dispatching every inbound message from its own
// process.Loop.
type Agent struct {
	loop      *process.Loop
	store     *Store
	transport transport.Transport
	bridge    isolation.Bridge
	statusLog *statuslog.Log
	log       zerolog.Logger

	reaperPID     process.PID
	master        process.PID
	state         sessionState
	workDirRoot   string
	retryInterval time.Duration
}

// New wires an Agent: it registers its own actor loop in registry,
// installs a handler for every wire message kind plus the reaper's
// exit notification, and returns without blocking — call Run to start
// serving.
func New(self process.PID, registry *process.Registry, info types.SlaveInfo, xport transport.Transport, bridge isolation.Bridge, reaperPID process.PID, conf Config, logger zerolog.Logger) *Agent {
	if conf.RetryInterval == 0 {
		conf.RetryInterval = DefaultRetryInterval
	}

	a := &Agent{
		loop:          process.NewLoop(self, registry, 256),
		store:         NewStore(info),
		transport:     xport,
		bridge:        bridge,
		reaperPID:     reaperPID,
		workDirRoot:   conf.WorkDirRoot,
		retryInterval: conf.RetryInterval,
		log:           logger,
	}

	a.loop.Install(types.NewMasterDetected{}, a.handleNewMasterDetected)
	a.loop.Install(types.NoMasterDetected{}, a.handleNoMasterDetected)
	a.loop.Install(types.RegisterReply{}, a.handleRegisterReply)
	a.loop.Install(types.ReregisterReply{}, a.handleReregisterReply)
	a.loop.Install(types.Ping{}, a.handlePing)
	a.loop.Install(process.Exited{}, a.handleMasterExited)

	a.loop.Install(types.RunTask{}, a.handleRunTask)
	a.loop.Install(types.KillTask{}, a.handleKillTask)
	a.loop.Install(types.KillFramework{}, a.handleKillFramework)
	a.loop.Install(types.RegisterExecutor{}, a.handleRegisterExecutor)
	a.loop.Install(types.SchedulerMessage{}, a.handleSchedulerMessage)
	a.loop.Install(types.ExecutorMessage{}, a.handleExecutorMessage)
	a.loop.Install(types.UpdateFramework{}, a.handleUpdateFramework)

	a.loop.Install(types.ExecutorStatusUpdate{}, a.handleStatusUpdate)
	a.loop.Install(types.StatusUpdateAck{}, a.handleStatusUpdateAck)
	a.loop.Install(retryTick{}, a.handleRetryTick)

	a.loop.Install(reaper.ExecutorExited{}, a.handleExecutorExited)

	a.loop.Install(Terminate{}, a.handleTerminate)
	a.loop.Install(snapshotQuery{}, a.handleSnapshotQuery)
	a.loop.Install(stateQuery{}, a.handleStateQuery)

	return a
}

// EnableStatusLog switches on the optional persistent status-update
// log: replay reloads any unacknowledged entries from a previous run
// into every framework's pending heap before Run starts serving new
// messages.
func (a *Agent) EnableStatusLog(l *statuslog.Log) error {
	a.statusLog = l
	entries, err := l.Replay()
	if err != nil {
		return err
	}
	now := time.Now()
	for _, entry := range entries {
		fw := a.store.EnsureFramework(entry.Update.FrameworkID, types.FrameworkInfo{ID: entry.Update.FrameworkID}, process.PID{})
		fw.Pending.Put(now.Add(a.retryInterval), entry)
	}
	return nil
}

// Run starts the retransmission timer and serves messages until
// Terminate is dispatched.
func (a *Agent) Run() {
	handle := process.Every(a.retryInterval, a.loop.Mailbox, func() process.Message { return retryTick{} })
	defer handle.Stop()
	a.loop.Run()
}

// Send delivers msg to the agent's own mailbox — the entry point for
// anything outside this package (the introspection server, the CLI,
// Detector implementations) that needs to post a message to the
// agent's loop.
func (a *Agent) Send(msg process.Message) bool {
	return a.loop.Registry.Send(a.loop.Self, msg)
}

// Mailbox exposes the agent's own mailbox directly, for collaborators
// like a transport.Detector that need to push messages without going
// through the registry lookup Send performs.
func (a *Agent) Mailbox() *process.Mailbox {
	return a.loop.Mailbox
}

// snapshotQuery asks the agent loop to publish an immutable copy of
// its Store. reply is buffered so the handler's send never blocks the
// loop on a caller that gave up waiting.
type snapshotQuery struct {
	reply chan *Store
}

func (a *Agent) handleSnapshotQuery(msg process.Message) {
	q := msg.(snapshotQuery)
	q.reply <- a.store.Clone()
}

// Snapshot returns a point-in-time copy of the live Store, for the
// introspection HTTP surface and the metrics collector, both of which
// range over it from their own goroutines. The copy is built inside
// the agent's own loop and handed back over a reply channel rather
// than handing out the live, mutating maps directly — ranging over
// those concurrently with the loop's own writes is exactly the kind
// of shared mutable state between actors this module avoids elsewhere.
func (a *Agent) Snapshot() *Store {
	reply := make(chan *Store, 1)
	if !a.Send(snapshotQuery{reply: reply}) {
		return NewStore(types.SlaveInfo{})
	}
	select {
	case store := <-reply:
		return store
	case <-time.After(5 * time.Second):
		return NewStore(types.SlaveInfo{})
	}
}

// stateQuery asks the agent loop for its current sessionState, for
// the same cross-goroutine reason Snapshot exists.
type stateQuery struct {
	reply chan sessionState
}

func (a *Agent) handleStateQuery(msg process.Message) {
	q := msg.(stateQuery)
	q.reply <- a.state
}

// SessionState reports the agent's current master-session state as an
// int (0=unregistered, 1=registered, 2=disconnected) for consumers
// outside this package, namely the metrics collector.
func (a *Agent) SessionState() int {
	reply := make(chan sessionState, 1)
	if !a.Send(stateQuery{reply: reply}) {
		return int(stateDisconnected)
	}
	select {
	case s := <-reply:
		return int(s)
	case <-time.After(5 * time.Second):
		return int(stateDisconnected)
	}
}

// Done returns a channel closed once the agent's loop has terminated,
// whether gracefully or fatally. cmd/noded selects on it alongside its
// signal channel so a fatal termination (see Err) ends the process
// instead of leaving the binary running with a dead control plane.
func (a *Agent) Done() <-chan struct{} {
	return a.loop.Done()
}

// Err reports the reason the agent's loop terminated: nil for an
// ordinary Terminate, non-nil for a fatal protocol violation. Only
// meaningful after Done is closed.
func (a *Agent) Err() error {
	return a.loop.Err()
}

func (a *Agent) send(to process.PID, msg process.Message) {
	if to.Empty() {
		return
	}
	if err := a.transport.Send(to, msg); err != nil {
		a.log.Debug().Err(err).Str("to", to.String()).Msg("send failed")
	}
}

// Terminate requests an ordinary shutdown: the agent's own TERMINATE
// event, delivered through the agent's own mailbox so the teardown in
// handleTerminate runs inside the loop like any other message, never
// concurrently with it from the caller's goroutine.
func (a *Agent) Terminate() {
	a.Send(Terminate{})
}

// handleTerminate tears down every framework before letting the loop
// exit with a nil reason.
func (a *Agent) handleTerminate(msg process.Message) {
	a.teardownFrameworks()
	a.loop.Terminate()
}

// fatal tears down every framework and stops the loop with a non-nil
// reason, for a protocol violation the agent cannot recover from (e.g.
// a re-register reply naming a different slave id). cmd/noded observes
// this through Done/Err and exits non-zero instead of running on with
// a dead control plane.
func (a *Agent) fatal(reason error) {
	a.log.Error().Err(reason).Msg("agent terminating fatally")
	a.teardownFrameworks()
	a.loop.TerminateWithError(reason)
}

func (a *Agent) teardownFrameworks() {
	frameworks := make([]*Framework, 0, len(a.store.Frameworks))
	for _, fw := range a.store.Frameworks {
		frameworks = append(frameworks, fw)
	}
	for _, fw := range frameworks {
		a.removeFramework(fw, true)
	}
}
