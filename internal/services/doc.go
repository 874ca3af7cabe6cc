// Package services defines shared utilities consumed by the task executor and
// the external integrations it drives.
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, work item kinds, object keys, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so callers can classify
//     failures (rate limited, validation, external) without string matching.
//
// Use these helpers when wiring new integrations so retry and logging
// behaviour stays uniform across the pipeline.
package services
