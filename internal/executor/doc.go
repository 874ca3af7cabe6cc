// Package executor runs one work item through the enrich-and-approve state
// machine and wraps it with the per-item retry budget.
//
// The transition function Next is pure; Executor.Run drives the side effects
// for each state; Runner counts failures, evicts poison items and schedules
// delayed re-attempts through the lease so a re-attempt never overlaps a
// fresh discovery of the same key.
package executor
