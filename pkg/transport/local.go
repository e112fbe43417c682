package transport

import (
	"fmt"

	"github.com/clustercore/noded/pkg/process"
)

// Local delivers messages through a shared process.Registry, for
// tests and for deployments where the master, the agent, and its
// executors all run inside one binary.
type Local struct {
	Registry *process.Registry
}

// NewLocal wraps registry as a Transport.
func NewLocal(registry *process.Registry) *Local {
	return &Local{Registry: registry}
}

// Send enqueues msg on to's mailbox via the registry. It errors if to
// is not currently registered.
func (l *Local) Send(to process.PID, msg process.Message) error {
	if !l.Registry.Send(to, msg) {
		return fmt.Errorf("transport: %s not registered or mailbox full", to)
	}
	return nil
}

// StaticDetector reports a single, fixed master address once and then
// stays silent, the simplest possible stand-in for a real election
// service. It is suitable for single-master deployments and for tests
// that drive master failover manually.
type StaticDetector struct {
	MasterPID process.PID
	// NewMasterDetected builds the types.NewMasterDetected message;
	// injected so this package does not need to import pkg/types.
	NewMasterDetected func(process.PID) process.Message
}

// Run sends one NewMasterDetected message, or nothing if MasterPID is
// empty, then blocks until stop is closed.
func (d *StaticDetector) Run(mbox *process.Mailbox, stop <-chan struct{}) {
	if !d.MasterPID.Empty() && d.NewMasterDetected != nil {
		mbox.Send(d.NewMasterDetected(d.MasterPID))
	}
	<-stop
}
