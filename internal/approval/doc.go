// Package approval implements the rendezvous between a task executor and the
// notifier process.
//
// The executor publishes a Proposal onto the shared proposal queue and polls
// the result slot for its task id. The notifier pops proposals, presents them
// to a human channel, tallies reactions within a bounded window and writes
// exactly one Verdict per task id with a short TTL. The two sides never call
// each other; the queue and the result slot are the only channel.
package approval
