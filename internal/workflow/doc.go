// Package workflow runs a pipeline definition against one job context.
//
// An Engine walks the stage list strictly in order. Each stage's skip
// predicate is evaluated immediately before it would run; a skipped stage
// leaves no trace other than its status in the Report. A stage body either
// mutates the job context in place or expands into a batch of independent
// work items, which the Engine runs with a hard cap on in-flight items before
// folding their results back through the batch's Apply hook.
//
// Failures are classified by an ErrorPolicy. A fatal stage failure appends a
// single fatal ErrorRecord and stops the pipeline with a *FatalError. A
// recoverable stage failure, and every work item failure, appends a
// non-fatal record and the pipeline moves on. Nothing is retried.
package workflow
