// Package preflight provides readiness checks for the services and
// filesystem paths a scribe node depends on.
//
// The "scribe doctor" command runs RunAll and renders the results; the
// worker registers the same checks as workflow health checks so
// /api/status reports them.
//
// Each check is gated by configuration: backends that are not selected are
// skipped.
package preflight
