// Package job holds the per-job state shared by every pipeline stage: the
// immutable Options snapshot, the mutable Context that stages read and write,
// and the ErrorRecords collected while the job runs.
//
// A Context is owned by exactly one job. Stages run one at a time against it;
// work items spawned by a stage never touch it directly and instead hand their
// results to the stage's aggregation step.
package job
