// Package types defines the identifiers, resource vectors, and wire
// message structs shared by the agent, the reaper, and the isolation
// bridge. Nothing in this package depends on pkg/process or
// pkg/transport; it is the vocabulary the rest of the module is
// written against.
package types
