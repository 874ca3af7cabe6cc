// Package cms talks to the content backend: one REST endpoint per task kind
// for writes, and the GraphQL endpoint for reading the entity collections the
// reference cache snapshots.
package cms
