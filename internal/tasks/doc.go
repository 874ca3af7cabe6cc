// Package tasks holds the per-kind strategies the generic executor is
// parameterized with: which reference collection to resolve against, which
// backend endpoint to commit to, and how to turn a screenshot into field
// updates and a proposal embed.
package tasks
