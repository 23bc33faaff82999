// Package logging assembles structured slog loggers and formatting helpers used
// across the migrate pipeline.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so stage code can automatically
// tag log lines with job IDs, stage titles, and work item labels. The package
// also provides a no-op logger for tests and wiring code that cannot fail.
package logging
