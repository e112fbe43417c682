package agent

import (
	"fmt"

	"github.com/clustercore/noded/pkg/log"
	"github.com/clustercore/noded/pkg/process"
	"github.com/clustercore/noded/pkg/types"
)

// sessionState is the master-session state machine named in the
// component design: Unregistered, Registered, Disconnected.
type sessionState int

const (
	stateUnregistered sessionState = iota
	stateRegistered
	stateDisconnected
)

func (a *Agent) handleNewMasterDetected(msg process.Message) {
	m := msg.(types.NewMasterDetected)
	pid, err := process.ParsePID(m.MasterPID)
	if err != nil {
		a.log.Error().Err(err).Str("master_pid", m.MasterPID).Msg("malformed master pid, ignoring")
		return
	}
	if !a.master.Empty() && a.master != pid {
		a.loop.Unlink(a.master)
	}
	a.master = pid

	if a.store.SlaveID == "" {
		a.send(pid, types.RegisterSlave{Info: a.store.Info})
		return
	}

	a.send(pid, types.ReregisterSlave{
		SlaveID: a.store.SlaveID,
		Info:    a.store.Info,
		Tasks:   a.allLaunchedTasks(),
	})
}

func (a *Agent) handleNoMasterDetected(msg process.Message) {
	a.state = stateDisconnected
}

func (a *Agent) handleRegisterReply(msg process.Message) {
	m := msg.(types.RegisterReply)
	a.store.SlaveID = m.SlaveID
	a.state = stateRegistered
	a.loop.Link(a.master)
	slaveLogger := log.WithSlaveID(a.log, string(m.SlaveID))
	slaveLogger.Info().Msg("registered with master")
}

// handleReregisterReply enforces that the assigned SlaveId is
// write-once. A reply naming a different SlaveId is a fatal
// inconsistency, treated as a protocol violation.
func (a *Agent) handleReregisterReply(msg process.Message) {
	m := msg.(types.ReregisterReply)
	if m.SlaveID != a.store.SlaveID {
		a.fatal(fmt.Errorf("reregister reply carries mismatched slave id: have %q, got %q", a.store.SlaveID, m.SlaveID))
		return
	}
	a.state = stateRegistered
	a.loop.Link(a.master)
}

func (a *Agent) handlePing(msg process.Message) {
	a.send(a.master, types.Pong{})
}

// handleMasterExited reacts to the link-exit notification for the
// currently linked master endpoint: enter Disconnected and wait
// silently for a subsequent NewMasterDetected. Whether to eventually
// self-terminate after a prolonged disconnection is left unspecified.
func (a *Agent) handleMasterExited(msg process.Message) {
	a.state = stateDisconnected
}

func (a *Agent) allLaunchedTasks() []types.Task {
	var tasks []types.Task
	for _, fw := range a.store.Frameworks {
		for _, ex := range fw.Executors {
			for _, t := range ex.LaunchedTasks {
				tasks = append(tasks, *t)
			}
		}
	}
	return tasks
}
