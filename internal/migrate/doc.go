// Package migrate runs one migration job end to end: it validates the
// options, executes the pipeline for the export kind, flushes the error log
// even when the job aborts, and records the outcome in the job history.
package migrate
