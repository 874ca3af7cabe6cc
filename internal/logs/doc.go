// Package logs reads the per-role log files a node writes under the log
// directory. It backs the `scribe logs` command.
package logs
