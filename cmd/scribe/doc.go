// Command scribe runs and inspects the screenshot enrichment pipeline.
//
// Long-running roles:
//
//	scribe worker     discover, enrich, approve and commit work items
//	scribe notifier   relay proposals to the approval channel
//	scribe serve      accept uploads and review notes only
//
// Operator commands read the shared coordination store directly or talk to a
// running node's HTTP API.
package main
