// Package config loads, normalizes, and validates migrate configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// MIGRATE_USER_AGENT. The values here are defaults only: every job builds its
// own immutable option snapshot from them plus command-line flags.
package config
