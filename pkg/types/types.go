package types

import (
	"fmt"
	"time"
)

// FrameworkID identifies a tenant scheduler across the cluster.
type FrameworkID string

// ExecutorID identifies a framework-supplied executor on this agent.
type ExecutorID string

// TaskID identifies one unit of tenant work within a framework.
type TaskID string

// SlaveID is the agent's master-assigned identity. Write-once per
// process lifetime.
type SlaveID string

// PortRange is an inclusive range of ports, [Begin, End].
type PortRange struct {
	Begin uint32
	End   uint32
}

// Resources is a scalar+range resource vector, following the
// "cpus:1;mem:1024" style the agent's configuration is expressed in.
type Resources struct {
	CPUs  float64
	MemMB float64
	DiskMB float64
	Ports []PortRange
}

// Add returns the element-wise sum of r and other.
func (r Resources) Add(other Resources) Resources {
	out := Resources{
		CPUs:   r.CPUs + other.CPUs,
		MemMB:  r.MemMB + other.MemMB,
		DiskMB: r.DiskMB + other.DiskMB,
		Ports:  append(append([]PortRange{}, r.Ports...), other.Ports...),
	}
	return out
}

// Sub returns the element-wise difference r - other. Negative
// components are clamped to zero since accumulated task resources can
// never legitimately drive an executor's total below zero.
func (r Resources) Sub(other Resources) Resources {
	out := Resources{
		CPUs:   r.CPUs - other.CPUs,
		MemMB:  r.MemMB - other.MemMB,
		DiskMB: r.DiskMB - other.DiskMB,
	}
	remaining := append([]PortRange{}, other.Ports...)
	for _, p := range r.Ports {
		matched := false
		for i, q := range remaining {
			if p == q {
				remaining = append(remaining[:i], remaining[i+1:]...)
				matched = true
				break
			}
		}
		if !matched {
			out.Ports = append(out.Ports, p)
		}
	}
	if out.CPUs < 0 {
		out.CPUs = 0
	}
	if out.MemMB < 0 {
		out.MemMB = 0
	}
	if out.DiskMB < 0 {
		out.DiskMB = 0
	}
	return out
}

func (r Resources) String() string {
	return fmt.Sprintf("cpus:%g;mem:%g;disk:%g", r.CPUs, r.MemMB, r.DiskMB)
}

// SlaveInfo describes this agent to the Master on registration.
type SlaveInfo struct {
	Hostname       string
	PublicHostname string
	Resources      Resources
	Attributes     map[string]string
}

// FrameworkInfo is the tenant-scheduler descriptor carried on a
// framework's first task and echoed back on re-registration.
type FrameworkInfo struct {
	ID                 FrameworkID
	Name               string
	User               string
	DefaultExecutorID  ExecutorID
	FailoverTimeout    time.Duration
}

// ExecutorInfo describes the executor binary/sandbox a framework wants
// run for a given ExecutorID.
type ExecutorInfo struct {
	ExecutorID  ExecutorID
	FrameworkID FrameworkID
	Command     string
	Args        []string
	Resources   Resources
	Source      string
}

// TaskState is the agent-side shadow state of a Task.
type TaskState string

const (
	TaskStarting TaskState = "STARTING"
	TaskRunning  TaskState = "RUNNING"
	TaskFinished TaskState = "FINISHED"
	TaskFailed   TaskState = "FAILED"
	TaskKilled   TaskState = "KILLED"
	TaskLost     TaskState = "LOST"
)

// IsTerminal reports whether the state is one the task never leaves:
// the disjunction of {FINISHED, FAILED, KILLED, LOST}.
func (s TaskState) IsTerminal() bool {
	return s == TaskFinished || s == TaskFailed || s == TaskKilled || s == TaskLost
}

// TaskDescription is what a framework hands the agent in RUN_TASK,
// before the agent has attached any live state to it.
type TaskDescription struct {
	FrameworkID FrameworkID
	ExecutorID  ExecutorID
	SlaveID     SlaveID
	TaskID      TaskID
	Name        string
	Resources   Resources
	Data        []byte
}

// Task is the agent-side shadow of a task dispatched to an executor.
type Task struct {
	FrameworkID FrameworkID
	ExecutorID  ExecutorID
	SlaveID     SlaveID
	TaskID      TaskID
	Name        string
	Resources   Resources
	State       TaskState
}

// StatusUpdate is an authoritative state-change record for one task,
// flowing executor -> agent -> master.
type StatusUpdate struct {
	FrameworkID FrameworkID
	ExecutorID  ExecutorID
	SlaveID     SlaveID
	TaskID      TaskID
	State       TaskState
	Message     string
	Sequence    int64
	Timestamp   time.Time
}

// AgentStats are the counters named by the error-handling and
// testability sections: dropped/valid message counts plus a
// per-terminal-state task tally.
type AgentStats struct {
	InvalidStatusUpdates     uint64
	ValidStatusUpdates       uint64
	InvalidFrameworkMessages uint64
	ValidFrameworkMessages   uint64

	TasksStarting uint64
	TasksRunning  uint64
	TasksFinished uint64
	TasksFailed   uint64
	TasksKilled   uint64
	TasksLost     uint64
}

// Record increments the counter for a task transitioning into state
// s; every TaskState has its own counter. A state outside the six
// named ones is ignored.
func (s *AgentStats) Record(state TaskState) {
	switch state {
	case TaskStarting:
		s.TasksStarting++
	case TaskRunning:
		s.TasksRunning++
	case TaskFinished:
		s.TasksFinished++
	case TaskFailed:
		s.TasksFailed++
	case TaskKilled:
		s.TasksKilled++
	case TaskLost:
		s.TasksLost++
	}
}
