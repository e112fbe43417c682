package agent

import (
	"time"

	"github.com/clustercore/noded/pkg/process"
	"github.com/clustercore/noded/pkg/types"
)

// Executor is the agent-side record of one framework-supplied
// executor process: its identity, its work directory, its wire
// endpoint once registered, and the tasks assigned to it.
type Executor struct {
	FrameworkID types.FrameworkID
	ID          types.ExecutorID
	Info        types.ExecutorInfo
	WorkDir     string

	// PID is empty until the executor registers, and stays empty
	// again once the executor is removed.
	PID process.PID

	QueuedTasks   map[types.TaskID]types.TaskDescription
	LaunchedTasks map[types.TaskID]*types.Task
	Resources     types.Resources
}

func newExecutor(frameworkID types.FrameworkID, info types.ExecutorInfo, workDir string) *Executor {
	return &Executor{
		FrameworkID:   frameworkID,
		ID:            info.ExecutorID,
		Info:          info,
		WorkDir:       workDir,
		QueuedTasks:   make(map[types.TaskID]types.TaskDescription),
		LaunchedTasks: make(map[types.TaskID]*types.Task),
	}
}

// Registered reports whether the executor has a live endpoint.
func (e *Executor) Registered() bool {
	return !e.PID.Empty()
}

// addLaunchedTask moves a task into launchedTasks and folds its
// resources into the executor's accumulated total, keeping Resources
// equal to the sum of its launched tasks' resources.
func (e *Executor) addLaunchedTask(task *types.Task) {
	e.LaunchedTasks[task.TaskID] = task
	e.Resources = e.Resources.Add(task.Resources)
}

// removeTask drops a task from whichever set holds it and, for a
// launched task, subtracts its resources back out. It reports whether
// the task was found.
func (e *Executor) removeTask(taskID types.TaskID) (*types.Task, bool) {
	if desc, ok := e.QueuedTasks[taskID]; ok {
		delete(e.QueuedTasks, taskID)
		return &types.Task{
			FrameworkID: e.FrameworkID,
			ExecutorID:  e.ID,
			TaskID:      desc.TaskID,
			Name:        desc.Name,
			Resources:   desc.Resources,
			State:       types.TaskStarting,
		}, true
	}
	if task, ok := e.LaunchedTasks[taskID]; ok {
		delete(e.LaunchedTasks, taskID)
		e.Resources = e.Resources.Sub(task.Resources)
		return task, true
	}
	return nil, false
}

// Framework is the agent-side record of one tenant scheduler: its
// executors and the status updates still awaiting acknowledgement
// from the master.
type Framework struct {
	ID           types.FrameworkID
	Info         types.FrameworkInfo
	SchedulerPID process.PID

	Executors map[types.ExecutorID]*Executor
	Pending   *pendingHeap
}

func newFramework(id types.FrameworkID, info types.FrameworkInfo, schedulerPID process.PID) *Framework {
	return &Framework{
		ID:           id,
		Info:         info,
		SchedulerPID: schedulerPID,
		Executors:    make(map[types.ExecutorID]*Executor),
		Pending:      newPendingHeap(),
	}
}

// FindExecutorByTask returns the executor currently holding taskID, in
// either queuedTasks or launchedTasks, if any. A task id is unique
// across every queue and launched set, so the first match is the only
// one.
func (f *Framework) FindExecutorByTask(taskID types.TaskID) (*Executor, bool) {
	for _, ex := range f.Executors {
		if _, ok := ex.QueuedTasks[taskID]; ok {
			return ex, true
		}
		if _, ok := ex.LaunchedTasks[taskID]; ok {
			return ex, true
		}
	}
	return nil, false
}

// Store is the agent's full local tree: identity, frameworks, and the
// statistics counters the introspection surface reports.
type Store struct {
	SlaveID   types.SlaveID
	Info      types.SlaveInfo
	MasterPID process.PID
	StartTime time.Time
	Stats     types.AgentStats

	Frameworks map[types.FrameworkID]*Framework
}

// NewStore creates an empty store for a freshly started agent.
func NewStore(info types.SlaveInfo) *Store {
	return &Store{
		Info:       info,
		StartTime:  time.Now(),
		Frameworks: make(map[types.FrameworkID]*Framework),
	}
}

// Framework looks up an existing framework.
func (s *Store) Framework(id types.FrameworkID) (*Framework, bool) {
	fw, ok := s.Frameworks[id]
	return fw, ok
}

// EnsureFramework returns the framework for id, creating it (per the
// lifecycle rule "created on first runTask") if it doesn't exist yet.
// An existing framework's scheduler PID is refreshed to schedulerPID.
func (s *Store) EnsureFramework(id types.FrameworkID, info types.FrameworkInfo, schedulerPID process.PID) *Framework {
	fw, ok := s.Frameworks[id]
	if !ok {
		fw = newFramework(id, info, schedulerPID)
		s.Frameworks[id] = fw
		return fw
	}
	fw.SchedulerPID = schedulerPID
	return fw
}

// RemoveFramework erases a framework from the tree. Callers are
// responsible for tearing down its executors first — removing the map
// entry here is what finally drops any tasks and pending updates still
// referenced only through it.
func (s *Store) RemoveFramework(id types.FrameworkID) {
	delete(s.Frameworks, id)
}

// Clone returns a copy of the store with fresh maps and struct values
// throughout, safe to range over from a goroutine other than the
// agent loop that owns the original. Called only from inside the
// loop, in response to a snapshotQuery.
func (s *Store) Clone() *Store {
	out := &Store{
		SlaveID:    s.SlaveID,
		Info:       s.Info,
		MasterPID:  s.MasterPID,
		StartTime:  s.StartTime,
		Stats:      s.Stats,
		Frameworks: make(map[types.FrameworkID]*Framework, len(s.Frameworks)),
	}
	for id, fw := range s.Frameworks {
		out.Frameworks[id] = fw.clone()
	}
	return out
}

func (f *Framework) clone() *Framework {
	out := &Framework{
		ID:           f.ID,
		Info:         f.Info,
		SchedulerPID: f.SchedulerPID,
		Executors:    make(map[types.ExecutorID]*Executor, len(f.Executors)),
		Pending:      f.Pending.clone(),
	}
	for id, ex := range f.Executors {
		out.Executors[id] = ex.clone()
	}
	return out
}

func (e *Executor) clone() *Executor {
	out := &Executor{
		FrameworkID:   e.FrameworkID,
		ID:            e.ID,
		Info:          e.Info,
		WorkDir:       e.WorkDir,
		PID:           e.PID,
		Resources:     e.Resources,
		QueuedTasks:   make(map[types.TaskID]types.TaskDescription, len(e.QueuedTasks)),
		LaunchedTasks: make(map[types.TaskID]*types.Task, len(e.LaunchedTasks)),
	}
	for id, desc := range e.QueuedTasks {
		out.QueuedTasks[id] = desc
	}
	for id, task := range e.LaunchedTasks {
		copyTask := *task
		out.LaunchedTasks[id] = &copyTask
	}
	return out
}
