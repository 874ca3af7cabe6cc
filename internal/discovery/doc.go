// Package discovery lists a task prefix in the object store and hands every
// well-formed, unleased object to the worker pool.
//
// Per key the scanner checks the eviction threshold first, then parses the
// filename, then takes the lease. Malformed names are never leased; their
// attempt counter grows each pass until the normal eviction removes them.
package discovery
