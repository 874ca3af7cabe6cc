// Package daemon coordinates the long-running scribe process.
//
// It wires configuration, the coordination store, the workflow manager and
// the HTTP API into a single lifecycle with flock-based locking so one host
// runs at most one node per role. The daemon exposes status aggregation,
// screenshot uploads, review submissions and a notification test.
//
// Keep orchestration logic here: discovery, execution and approval live in
// their own packages while the daemon focuses on startup, shutdown, and high
// level coordination.
package daemon
