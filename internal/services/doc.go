// Package services defines shared utilities consumed by the pipeline stages
// and their collaborators.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage titles and work item labels
//     for logging.
//   - Structured error markers plus the Wrap helper so the engine and the CLI
//     can tell configuration problems, oversized assets, and upstream failures
//     apart without parsing strings.
//
// Use these helpers when wiring new collaborators so failures recorded in the
// job error log stay uniform across the pipeline.
package services
