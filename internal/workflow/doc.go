// Package workflow runs the worker node: periodic jobs (one discovery scan per
// enabled prefix, reference refresh, review polling) and a bounded pool that
// executes dispatched work items.
//
// Scan jobs start staggered so prefixes do not hit the object store at the
// same instant. Each item the pool executes has its lease renewed while it
// runs; the renewal stops when the handler returns, so a lease the handler
// left in place expires on its own. Delayed re-attempts are scheduled through
// Manager.After and are cancelled on Stop.
package workflow
