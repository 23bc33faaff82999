// Package history keeps a SQLite ledger of finished migration jobs and the
// error records each one produced, so past runs can be listed and inspected
// after their workspaces are gone.
package history
