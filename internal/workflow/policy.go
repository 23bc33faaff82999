package workflow

import (
	"context"
	"errors"
	"fmt"

	"migrate/internal/stage"
)

// ErrorPolicy decides how a stage body failure affects the job.
type ErrorPolicy interface {
	Decide(st Stage, err error) stage.Criticality
}

// DefaultPolicy uses the criticality fixed on the stage. Cancellation of the
// run context is always fatal since nothing after it can make progress.
type DefaultPolicy struct{}

// Decide implements ErrorPolicy.
func (DefaultPolicy) Decide(st Stage, err error) stage.Criticality {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return stage.Fatal
	}
	return st.Criticality
}

// FatalError reports that the pipeline stopped at Stage.
type FatalError struct {
	Stage string
	Err   error
}

func (e *FatalError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("aborted at stage %q: %v", e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// PanicError wraps a value recovered from a panicking stage body or work item.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
