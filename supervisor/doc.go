// Package supervisor keeps a single note backend process available.
//
// A Process is started lazily: the first EnsureReady call either attaches to a
// backend that already answers on the configured address or launches the
// configured command and waits for it to pass a readiness probe. Concurrent
// callers share one launch. When the process exits the handle moves to Exited
// and the next EnsureReady launches it again, subject to a relaunch throttle.
//
// With an empty Command the process is never spawned and EnsureReady only
// probes the backend (external mode).
package supervisor
