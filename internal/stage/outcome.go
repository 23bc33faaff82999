package stage

import (
	"context"
	"time"
)

// WorkItem is one independent unit of work spawned by a stage. Run must only
// write into state owned by the item itself; merging results back into the
// shared document happens in the owning Batch's Apply.
type WorkItem struct {
	Label string
	Run   func(context.Context) error
}

// Batch is a set of work items plus the aggregation step that folds their
// results back into the document once every item has finished.
type Batch struct {
	Items []WorkItem
	// Apply runs exactly once after all items completed, successfully or not.
	// It may be nil.
	Apply func()
}

// Len reports the number of items in the batch.
func (b Batch) Len() int { return len(b.Items) }

// ItemResult records how one work item finished.
type ItemResult struct {
	Label    string
	Err      error
	Duration time.Duration
}

type outcomeKind int

const (
	kindMutated outcomeKind = iota
	kindExpanded
)

// Outcome is what a stage body returns: either the context was mutated in
// place, or the stage expanded into a batch of work items to be run with a
// concurrency bound.
type Outcome struct {
	kind        outcomeKind
	batch       Batch
	concurrency int
}

// Mutated reports that the stage updated the job context in place.
func Mutated() Outcome {
	return Outcome{kind: kindMutated}
}

// Expanded reports that the stage produced a batch of work items. A
// concurrency of zero or less means "use the job default".
func Expanded(batch Batch, concurrency int) Outcome {
	return Outcome{kind: kindExpanded, batch: batch, concurrency: concurrency}
}

// IsExpanded reports whether the outcome carries work items.
func (o Outcome) IsExpanded() bool { return o.kind == kindExpanded }

// Batch returns the expanded batch; empty for mutated outcomes.
func (o Outcome) Batch() Batch { return o.batch }

// Concurrency returns the stage-specific override, or 0 for the job default.
func (o Outcome) Concurrency() int {
	if o.concurrency < 0 {
		return 0
	}
	return o.concurrency
}
