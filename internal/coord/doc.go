// Package coord defines the coordination store contract shared by discovery,
// executors, and the notifier: per-key leases, attempt counters, a proposal
// queue, verdict slots, and reference snapshots.
//
// Implementations live in subpackages: redisstore for multi-node deployments,
// sqlitestore for a single host, and memstore for tests. coordtest holds the
// conformance suite every implementation must pass.
package coord
