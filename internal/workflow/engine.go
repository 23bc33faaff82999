package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"migrate/internal/job"
	"migrate/internal/logging"
	"migrate/internal/services"
	"migrate/internal/stage"
)

// Engine executes stage lists.
type Engine struct {
	logger             *slog.Logger
	policy             ErrorPolicy
	defaultConcurrency int
	now                func() time.Time
}

// NewEngine builds an engine. defaultConcurrency is the bound for expanded
// stages that do not override it; values below 1 become 1.
func NewEngine(logger *slog.Logger, policy ErrorPolicy, defaultConcurrency int) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	if policy == nil {
		policy = DefaultPolicy{}
	}
	if defaultConcurrency < 1 {
		defaultConcurrency = 1
	}
	return &Engine{
		logger:             logging.NewComponentLogger(logger, "engine"),
		policy:             policy,
		defaultConcurrency: defaultConcurrency,
		now:                time.Now,
	}
}

// Run executes stages in order against jc. It returns a *FatalError when a
// stage failure is classified as fatal; the report is populated either way.
func (e *Engine) Run(ctx context.Context, stages []Stage, jc *job.Context) (Report, error) {
	if jc == nil {
		return Report{}, services.Wrap(services.ErrValidation, "engine", "run", "job context is required", nil)
	}
	started := e.now()
	report := Report{Stages: make([]StageResult, 0, len(stages))}
	ctx = services.WithJobID(ctx, jc.ID)

	for idx, st := range stages {
		result, err := e.runStage(ctx, st, jc)
		report.Stages = append(report.Stages, result)
		if err != nil {
			report.AbortedAt = st.Title
			for _, rest := range stages[idx+1:] {
				report.Stages = append(report.Stages, StageResult{Title: rest.Title, Status: StageNotReached})
			}
			report.Duration = e.now().Sub(started)
			return report, err
		}
	}
	report.Duration = e.now().Sub(started)
	return report, nil
}

func (e *Engine) runStage(ctx context.Context, st Stage, jc *job.Context) (StageResult, error) {
	stageCtx := services.WithStage(ctx, st.Title)
	logger := logging.WithContext(stageCtx, e.logger)
	result := StageResult{Title: st.Title}

	if st.skipped(jc) {
		result.Status = StageSkipped
		logger.Info("stage skipped", logging.String(logging.FieldEventType, "stage_skip"))
		return result, nil
	}

	start := e.now()
	logger.Info(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("criticality", st.Criticality.String()),
	)

	outcome, err := e.invoke(stageCtx, st, jc)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		result.Duration = e.now().Sub(start)
		if e.policy.Decide(st, err) == stage.Fatal {
			result.Status = StageFailed
			e.record(logger, jc, job.NewErrorRecord(st.Title, st.Title, err, true))
			logger.Error(
				"stage failed",
				logging.String(logging.FieldEventType, "stage_failure"),
				logging.String(logging.FieldErrorKind, string(services.Details(err).Kind)),
				logging.Duration("stage_duration", result.Duration),
				logging.Error(err),
			)
			return result, &FatalError{Stage: st.Title, Err: err}
		}
		result.Status = StageRecovered
		e.record(logger, jc, job.NewErrorRecord(st.Title, st.Title, err, false))
		logging.WarnWithContext(
			logger,
			"stage failed, continuing",
			"stage_recovered",
			logging.String(logging.FieldErrorKind, string(services.Details(err).Kind)),
			logging.Duration("stage_duration", result.Duration),
			logging.Error(err),
		)
		return result, nil
	}

	if outcome.IsExpanded() {
		batch := outcome.Batch()
		bound := e.resolveConcurrency(outcome)
		result.Items = batch.Len()
		result.Bound = bound
		result.Failed = e.runItems(stageCtx, logger, st, jc, batch, bound)
	}

	result.Status = StageCompleted
	result.Duration = e.now().Sub(start)
	logger.Info(
		"stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Int("items", result.Items),
		logging.Int("failed_items", result.Failed),
		logging.Duration("stage_duration", result.Duration),
	)
	return result, nil
}

func (e *Engine) invoke(ctx context.Context, st Stage, jc *job.Context) (outcome stage.Outcome, err error) {
	if st.Body == nil {
		return stage.Mutated(), nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return st.Body(ctx, jc)
}

func (e *Engine) resolveConcurrency(outcome stage.Outcome) int {
	if c := outcome.Concurrency(); c > 0 {
		return c
	}
	return e.defaultConcurrency
}

// runItems attempts every item exactly once with at most bound in flight,
// records failures in item order and then calls the batch's Apply hook. It
// returns the number of failed items.
func (e *Engine) runItems(ctx context.Context, logger *slog.Logger, st Stage, jc *job.Context, batch stage.Batch, bound int) int {
	results := make([]stage.ItemResult, len(batch.Items))

	var group errgroup.Group
	group.SetLimit(bound)
	for i, item := range batch.Items {
		group.Go(func() error {
			results[i] = e.runItem(ctx, item)
			return nil
		})
	}
	_ = group.Wait()

	failed := 0
	for _, res := range results {
		if res.Err == nil {
			continue
		}
		failed++
		itemLogger := logging.WithContext(services.WithItem(ctx, res.Label), logger)
		e.record(itemLogger, jc, job.NewErrorRecord(st.Title, res.Label, res.Err, false))
		logging.WarnWithContext(
			itemLogger,
			"work item failed",
			"item_failure",
			logging.String(logging.FieldErrorKind, string(services.Details(res.Err).Kind)),
			logging.Duration("item_duration", res.Duration),
			logging.Error(res.Err),
		)
	}

	if batch.Apply != nil {
		e.applyBatch(logger, st, jc, batch.Apply)
	}
	return failed
}

func (e *Engine) runItem(ctx context.Context, item stage.WorkItem) (res stage.ItemResult) {
	res.Label = item.Label
	start := e.now()
	defer func() {
		if r := recover(); r != nil {
			res.Err = &PanicError{Value: r}
		}
		res.Duration = e.now().Sub(start)
	}()
	if item.Run == nil {
		res.Err = errors.New("work item has no run function")
		return res
	}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	res.Err = item.Run(services.WithItem(ctx, item.Label))
	return res
}

// applyBatch folds item results into the document. A panicking aggregation
// step is recorded against the stage rather than crashing the job.
func (e *Engine) applyBatch(logger *slog.Logger, st Stage, jc *job.Context, apply func()) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("apply results: %w", &PanicError{Value: r})
			e.record(logger, jc, job.NewErrorRecord(st.Title, st.Title, err, false))
			logger.Error("stage aggregation failed", logging.String(logging.FieldEventType, "stage_apply_failure"), logging.Error(err))
		}
	}()
	apply()
}

func (e *Engine) record(logger *slog.Logger, jc *job.Context, rec job.ErrorRecord) {
	jc.AppendError(rec)
	logger.Debug(
		"error recorded",
		logging.String(logging.FieldEventType, "error_record"),
		logging.String("label", rec.Label),
		logging.Bool("fatal", rec.Fatal),
	)
}
