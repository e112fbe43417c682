// Package transport stands in for the wire codec and the Master
// election/discovery service, both of which are out of this agent's
// scope and specified only by interface here. Transport carries typed
// messages to a PID that may live in another process; Detector feeds
// NewMasterDetected/NoMasterDetected into an actor's mailbox as the
// external election service would.
//
// Two Transport implementations are provided: Local, a direct wrapper
// over a pkg/process.Registry for single-binary tests and
// all-in-process deployments, and TCP, a length-prefixed encoding/gob
// stream for the case where the Master or an executor lives in another
// process. A full protobuf/gRPC codec — closer to what a production
// wire layer would use — would need the protoc toolchain to generate;
// see DESIGN.md for why this module ships the gob-based stand-in
// instead.
package transport
