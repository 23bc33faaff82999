// Package filecache manages the on-disk workspace of a migration job.
//
// Every export gets its own workspace directory under the cache root, keyed
// by a hash of the export's absolute path, so re-running a job reuses scraped
// pages and downloaded assets. A workspace contains:
//
//	tmp/                   intermediate JSON (ingested data, scrape results)
//	zip/                   the import bundle: JSON plus content/{images,media}/<host>/...
//	errors-<ms>.json       the job error log
//	report-<kind>.csv      assets skipped for exceeding the size limit
//
// A workspace is locked with an flock while a job uses it, so two jobs never
// share one.
//
// # Size Management
//
// Store reports usage across all workspaces and prunes the oldest ones when
// the configured budget (paths.cache_max_mb) or a 10% free-space floor on the
// cache volume is exceeded. `migrate cache list` and `migrate cache prune`
// expose the same operations.
package filecache
