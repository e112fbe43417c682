package transport

import "github.com/clustercore/noded/pkg/process"

// Transport delivers a message to a PID that may not be registered in
// the local process.Registry — the out-of-scope wire codec's only
// required capability from the agent's point of view.
type Transport interface {
	Send(to process.PID, msg process.Message) error
}

// Detector is the external Master election/discovery collaborator:
// it owns however it decides which master is current (ZooKeeper,
// static config, a gossip protocol) and reports changes by delivering
// process.NewMasterDetected / process.NoMasterDetected-shaped messages
// — in this module, the types.NewMasterDetected / types.NoMasterDetected
// wire structs — into the supplied mailbox.
type Detector interface {
	Run(mbox *process.Mailbox, stop <-chan struct{})
}
