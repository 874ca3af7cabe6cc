// Package node assembles the long-running processes from configuration.
//
// A worker node owns discovery, execution, reference cache refresh and the
// review queue, all scheduled on one workflow manager and fronted by the
// daemon's HTTP API. A notifier node owns the approval channel and is kept a
// singleton per channel by a store lease. A server node exposes only the API
// so uploads can be accepted on hosts that do no processing.
package node
