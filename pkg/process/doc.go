// Package process provides the minimal actor runtime the agent's
// control plane is built on: named endpoints (PID), a mailbox per
// endpoint, a dispatch loop that serves one message at a time, timers,
// and link/exit notifications. It is the in-scope half of the "Message
// dispatch & actor loop" component; the out-of-scope half — the wire
// codec that would carry these messages across a real network — lives
// in pkg/transport.
package process
