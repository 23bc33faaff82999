package migrate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"migrate/internal/filecache"
	"migrate/internal/history"
	"migrate/internal/job"
	"migrate/internal/logging"
	"migrate/internal/services"
	"migrate/internal/sources"
	"migrate/internal/workflow"
)

// Deps are the process-level collaborators of a job.
type Deps struct {
	Logger *slog.Logger
	// History records finished jobs when set.
	History *history.Store
	// HistoryKeep bounds the ledger; 0 keeps every job.
	HistoryKeep int
	// CacheMaxMB bounds the workspace cache after each job; 0 disables pruning.
	CacheMaxMB int
	// Policy overrides workflow.DefaultPolicy.
	Policy workflow.ErrorPolicy
	// Env overrides the HTTP client and clock used by stages.
	Env sources.Env
	// NewID overrides uuid job ids.
	NewID func() string
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return logging.NewNop()
	}
	return d.Logger
}

func (d Deps) now() time.Time {
	if d.Env.Now != nil {
		return d.Env.Now()
	}
	return time.Now()
}

// Run executes one job. Invalid options fail with a configuration error
// before any stage runs. A fatal stage failure returns the summary together
// with the *workflow.FatalError.
func Run(ctx context.Context, deps Deps, opts job.Options) (Summary, error) {
	def, err := sources.Lookup(opts.Kind)
	if err != nil {
		return Summary{}, err
	}
	if err := opts.Validate(def.NeedsURL); err != nil {
		return Summary{}, err
	}

	id := uuid.NewString()
	if deps.NewID != nil {
		id = deps.NewID()
	}
	ctx = services.WithJobID(ctx, id)
	logger := logging.NewComponentLogger(deps.logger(), "migrate").With(logging.String(logging.FieldJobID, id))

	jc := job.New(id, opts)
	env := deps.Env
	env.Logger = deps.logger()
	policy := deps.Policy
	if policy == nil {
		policy = workflow.DefaultPolicy{}
	}

	logger.Info("job started",
		logging.String("kind", def.Kind),
		logging.String("source", opts.Source),
		logging.String("scrape", opts.Scrape.String()),
		logging.Int("concurrent", opts.Concurrent),
		logging.String(logging.FieldEventType, "job_start"),
	)

	engine := workflow.NewEngine(deps.logger(), policy, opts.Concurrent)
	report, runErr := engine.Run(ctx, def.Stages(env), jc)

	if cache := jc.Handles.FileCache; cache != nil {
		defer func() {
			if err := cache.Unlock(); err != nil {
				logger.Warn("workspace unlock failed", logging.Error(err), logging.String(logging.FieldEventType, "workspace_unlock_failed"))
			}
		}()
	}

	if err := flushErrorLog(jc, deps.now()); err != nil {
		logging.ErrorWithContext(logger, "error log not written", "error_log_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that the cache and output directories are writable"),
		)
	}

	summary := Summary{
		JobID:        id,
		Kind:         def.Kind,
		Status:       StatusCompleted,
		Failed:       jc.FailedItems(),
		ErrorLogPath: jc.ErrorLogPath,
		BundlePath:   jc.BundlePath,
		ArchivePath:  jc.OutputArtifactPath,
		SizeReports:  jc.SizeReports,
		Stages:       report.Stages,
		Started:      jc.Started,
		Duration:     report.Duration,
	}
	if runErr != nil {
		summary.Status = StatusAborted
		summary.AbortedAt = report.AbortedAt
		summary.Cause = runErr.Error()
		var fatal *workflow.FatalError
		if errors.As(runErr, &fatal) {
			summary.AbortedAt = fatal.Stage
			summary.Cause = fatal.Err.Error()
		}
	}

	recordHistory(ctx, deps, logger, opts, summary, jc)
	pruneCache(ctx, deps, logger, opts, jc)

	if runErr != nil {
		logging.ErrorWithContext(logger, "job aborted", "job_aborted",
			logging.String(logging.FieldStage, summary.AbortedAt),
			logging.Error(runErr),
			logging.String("error_log", summary.ErrorLogPath),
		)
		return summary, runErr
	}
	logger.Info("job completed",
		logging.Int("failed_items", summary.Failed),
		logging.String("bundle", summary.BundlePath),
		logging.String("archive", summary.ArchivePath),
		logging.Duration("duration", summary.Duration),
		logging.String(logging.FieldEventType, "job_complete"),
	)
	return summary, nil
}

// flushErrorLog writes every record collected by the job. A log written by an
// earlier stage is refreshed in place; without a workspace the log goes to the
// output directory.
func flushErrorLog(jc *job.Context, now time.Time) error {
	payload, err := job.MarshalErrorLog(jc.Errors())
	if err != nil {
		return err
	}
	if jc.ErrorLogPath != "" {
		return filecache.RewriteErrorLog(jc.ErrorLogPath, payload)
	}
	var path string
	if cache := jc.Handles.FileCache; cache != nil {
		path, err = cache.WriteErrorLog(payload, now)
	} else {
		path, err = filecache.WriteErrorLog(jc.Options.OutputDir, payload, now)
	}
	if err != nil {
		return err
	}
	jc.ErrorLogPath = path
	return nil
}

func recordHistory(ctx context.Context, deps Deps, logger *slog.Logger, opts job.Options, summary Summary, jc *job.Context) {
	if deps.History == nil {
		return
	}
	entry := history.Job{
		ID:           summary.JobID,
		Kind:         summary.Kind,
		Source:       opts.Source,
		SiteURL:      opts.URL,
		Status:       summary.Status,
		AbortedAt:    summary.AbortedAt,
		Cause:        summary.Cause,
		FailedItems:  summary.Failed,
		BundlePath:   summary.BundlePath,
		ArchivePath:  summary.ArchivePath,
		ErrorLogPath: summary.ErrorLogPath,
		StartedAt:    summary.Started,
		FinishedAt:   summary.Started.Add(summary.Duration),
	}
	// Recording must survive a canceled job context.
	recordCtx := context.WithoutCancel(ctx)
	if err := deps.History.Record(recordCtx, entry, jc.Errors()); err != nil {
		logger.Warn("job history not recorded", logging.Error(err), logging.String(logging.FieldEventType, "history_record_failed"))
		return
	}
	if deps.HistoryKeep > 0 {
		if _, err := deps.History.Prune(recordCtx, deps.HistoryKeep); err != nil {
			logger.Warn("job history not pruned", logging.Error(err), logging.String(logging.FieldEventType, "history_prune_failed"))
		}
	}
}

func pruneCache(ctx context.Context, deps Deps, logger *slog.Logger, opts job.Options, jc *job.Context) {
	if deps.CacheMaxMB <= 0 || opts.CacheDir == "" {
		return
	}
	keep := ""
	if cache := jc.Handles.FileCache; cache != nil {
		keep = cache.Dir()
	}
	store := filecache.NewStore(opts.CacheDir, deps.CacheMaxMB, deps.logger())
	removed, err := store.Prune(context.WithoutCancel(ctx), keep)
	if err != nil {
		logger.Warn("cache prune failed", logging.Error(err), logging.String(logging.FieldEventType, "cache_prune_failed"))
		return
	}
	if len(removed) > 0 {
		logger.Info("cache pruned", logging.Int("removed", len(removed)), logging.String(logging.FieldEventType, "cache_pruned"))
	}
}
