// Package main hosts the migrate CLI entrypoint and command graph.
//
// The Cobra-based command tree turns terminal invocations into migration
// jobs (one sub-command per export kind), job history queries, workspace
// cache maintenance, readiness checks, and configuration scaffolding. It
// centralizes configuration resolution and logging setup so subcommands can
// focus on user experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
