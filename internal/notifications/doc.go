// Package notifications pushes operator alerts via ntfy.
//
// Evictions, commits and errors can be toggled independently in config.toml;
// with no topic configured the service is a no-op. Pipeline code depends only
// on the Service interface.
package notifications
