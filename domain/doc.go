// Package domain defines the core data structures of notebridge.
// It contains the records the gateway produces while forwarding note requests
// (Exchange, BackendRun, Log), the wire contract of the note backend, and the
// repository interfaces that the db package implements.
//
// The package has no knowledge of SQL, HTTP servers or processes, which keeps
// the gateway, the supervisor and the CLI decoupled from the storage layer.
package domain
