// Package api defines wire-format types and converters for the HTTP API
// served by worker nodes, and the upload service behind POST /api/uploads.
//
// # Key Types
//
// WorkItem: transport representation of a discovered work item.
//
// WorkflowStatus: pool counters, job schedule, dependency health and the last
// item the pool picked up.
//
// NodeStatus: aggregated runtime information including store reachability and
// queue depths.
//
// # Converters
//
// FromWorkItem: workitem.Item -> WorkItem.
//
// FromStatusSummary: workflow.StatusSummary -> WorkflowStatus.
//
// HealthSlice: deterministic ordering of the health map.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds and
// are omitted when zero.
package api
