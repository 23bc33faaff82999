package workflow

import (
	"context"

	"migrate/internal/job"
	"migrate/internal/stage"
)

// Stage is one step of a pipeline definition.
type Stage struct {
	Title       string
	Criticality stage.Criticality
	// Skip is evaluated right before the stage would run. It must be a pure
	// function of the job options and fields set by earlier stages. A nil
	// Skip never skips.
	Skip func(*job.Context) bool
	Body func(context.Context, *job.Context) (stage.Outcome, error)
}

func (s Stage) skipped(jc *job.Context) bool {
	return s.Skip != nil && s.Skip(jc)
}
