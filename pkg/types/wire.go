package types

// This file catalogues the typed messages the agent exchanges with the
// Master and with executors (the reaper's own messages live in
// pkg/reaper), per the wire
// protocol in the external-interfaces section. Each struct is a
// pkg/process.Message; dispatch is by Go type, not by an explicit kind
// tag.

// NewMasterDetected is delivered by the external election/discovery
// service when a (possibly new) master becomes current.
type NewMasterDetected struct {
	MasterPID string
}

// NoMasterDetected is delivered when no master is currently known.
type NoMasterDetected struct{}

// RegisterSlave is sent by the agent to a newly detected master that
// has never assigned this agent a SlaveID.
type RegisterSlave struct {
	Info SlaveInfo
}

// RegisterReply carries the SlaveID the master assigned.
type RegisterReply struct {
	SlaveID SlaveID
}

// ReregisterSlave is sent on master failover once this agent already
// holds a SlaveID, carrying every task currently in launchedTasks.
type ReregisterSlave struct {
	SlaveID SlaveID
	Info    SlaveInfo
	Tasks   []Task
}

// ReregisterReply carries the SlaveID the master considers this agent
// to hold; a mismatch against the agent's stored SlaveID is fatal.
type ReregisterReply struct {
	SlaveID SlaveID
}

// RunTask is sent scheduler -> agent -> executor to launch one task.
type RunTask struct {
	FrameworkInfo FrameworkInfo
	FrameworkID   FrameworkID
	SchedulerPID  string
	Task          TaskDescription
}

// KillTask requests termination of a specific task.
type KillTask struct {
	FrameworkID FrameworkID
	TaskID      TaskID
}

// KillFramework requests termination of every executor/task of a
// framework.
type KillFramework struct {
	FrameworkID FrameworkID
}

// KillExecutor is sent agent -> executor (directly, or relayed to the
// isolation module) to tear an executor down.
type KillExecutor struct {
	FrameworkID FrameworkID
	ExecutorID  ExecutorID
}

// FrameworkMessage carries an opaque, unreliable payload between a
// framework's scheduler and one of its executors. SchedulerMessage and
// ExecutorMessage give the two directions distinct Go types so the
// agent's dispatch table can tell them apart.
type FrameworkMessage struct {
	SlaveID     SlaveID
	FrameworkID FrameworkID
	ExecutorID  ExecutorID
	Data        []byte
}

// SchedulerMessage is a FrameworkMessage flowing scheduler -> agent ->
// executor.
type SchedulerMessage FrameworkMessage

// ExecutorMessage is a FrameworkMessage flowing executor -> agent ->
// scheduler.
type ExecutorMessage FrameworkMessage

// UpdateFramework changes the scheduler endpoint address on record for
// a framework already known to the agent.
type UpdateFramework struct {
	FrameworkID FrameworkID
	SchedulerPID string
}

// RegisterExecutor is sent executor -> agent the first time an
// executor process comes up.
type RegisterExecutor struct {
	FrameworkID FrameworkID
	ExecutorID  ExecutorID
}

// ExecutorArgs is the payload of a successful executor registration
// reply.
type ExecutorArgs struct {
	FrameworkID FrameworkID
	ExecutorID  ExecutorID
	SlaveID     SlaveID
	Data        []byte
}

// StatusUpdateMessage carries one StatusUpdate, plus whether it must
// be delivered reliably (retried until acknowledged). This is the
// agent -> master shape.
type StatusUpdateMessage struct {
	Update   StatusUpdate
	Reliable bool
}

// ExecutorStatusUpdate is the executor -> agent shape: just the
// update itself, with no reliability flag since that policy is the
// agent's to set on the hop toward the master.
type ExecutorStatusUpdate struct {
	Update StatusUpdate
}

// StatusUpdateAck acknowledges exactly one pending StatusUpdate for a
// task, identified by (SlaveID, FrameworkID, TaskID).
type StatusUpdateAck struct {
	SlaveID     SlaveID
	FrameworkID FrameworkID
	TaskID      TaskID
}

// ExitedExecutor is sent agent -> master when the reaper reports that
// an executor process exited.
type ExitedExecutor struct {
	SlaveID     SlaveID
	FrameworkID FrameworkID
	ExecutorID  ExecutorID
	Result      int
}

// Ping is answered with Pong regardless of master-session state.
type Ping struct{}

// Pong answers a Ping.
type Pong struct{}
