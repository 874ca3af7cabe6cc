// Package logging assembles structured slog loggers and formatting helpers used
// across Scribe processes.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so executor code can tag log
// lines with task IDs, work item kinds, and object keys. The package also
// provides a no-op logger for tests and wiring code that cannot fail.
package logging
