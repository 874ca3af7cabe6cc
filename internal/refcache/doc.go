// Package refcache keeps a periodically refreshed snapshot of backend
// entities in the coordination store so executors can resolve an entity
// reference without a backend round-trip per task.
//
// Readers decode the snapshot on every lookup and may see data up to one
// refresh interval old.
package refcache
