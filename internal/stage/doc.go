// Package stage holds the vocabulary shared by the pipeline engine and the
// collaborators that stages delegate to: work items, batches of work items,
// the tagged Outcome a stage body returns, and stage criticality.
//
// Collaborators depend on this package only, never on the engine, so they can
// hand back batches of independent work without knowing how they are run.
package stage
