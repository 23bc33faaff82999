package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"migrate/internal/config"
	"migrate/internal/history"
	"migrate/internal/job"
	"migrate/internal/migrate"
	"migrate/internal/sources"
	"migrate/internal/workflow"
)

type sourceFlags struct {
	url           string
	scrape        []string
	zip           bool
	sizeLimit     int
	concurrent    int
	useMetaImage  bool
	useMetaAuthor bool
	featureImage  string
	noFixLinks    bool
	cacheDir      string
	outputDir     string
	json          bool
}

func newSourceCommand(ctx *commandContext, def sources.Definition) *cobra.Command {
	flags := &sourceFlags{}
	cmd := &cobra.Command{
		Use:   def.Kind + " <export>",
		Short: "Migrate a " + def.Title,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts, err := buildOptions(cmd, cfg, def, flags, args[0])
			if err != nil {
				return err
			}
			logger, err := ctx.logger(cmd)
			if err != nil {
				return err
			}

			var (
				summary migrate.Summary
				runErr  error
			)
			err = ctx.withHistory(cmd.Context(), func(store *history.Store) error {
				summary, runErr = migrate.Run(cmd.Context(), migrate.Deps{
					Logger:      logger,
					History:     store,
					HistoryKeep: cfg.History.Keep,
					CacheMaxMB:  cfg.Paths.CacheMaxMB,
				}, opts)
				return nil
			})
			if err != nil {
				return err
			}
			if summary.JobID == "" {
				return runErr
			}

			out := cmd.OutOrStdout()
			if flags.json {
				if err := writeJSON(cmd, summary); err != nil {
					return err
				}
			} else {
				printSummary(out, summary, shouldColorize(out))
			}
			var fatal *workflow.FatalError
			if errors.As(runErr, &fatal) {
				return fmt.Errorf("%s job %s %s", def.Kind, summary.JobID, summary.Message())
			}
			return runErr
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&flags.url, "url", "", "Public URL of the site being migrated")
	fs.StringSliceVar(&flags.scrape, "scrape", nil, "Enrichment to run: all, web, img, media or none (repeatable)")
	fs.BoolVar(&flags.zip, "zip", true, "Package the import bundle as a zip in the output directory")
	fs.IntVar(&flags.sizeLimit, "size-limit", 0, "Report media larger than this many megabytes instead of downloading it")
	fs.IntVar(&flags.concurrent, "concurrent", 0, "Maximum work items in flight per stage")
	fs.BoolVar(&flags.useMetaImage, "use-meta-image", false, "Use the page og:image as the feature image")
	fs.BoolVar(&flags.useMetaAuthor, "use-meta-author", false, "Read post authors from the page ld+json metadata")
	fs.StringVar(&flags.featureImage, "feature-image", "", "Promote a scraped image to the feature image (og:image)")
	fs.BoolVar(&flags.noFixLinks, "no-fix-links", false, "Keep internal links unchanged")
	fs.StringVar(&flags.cacheDir, "cache-dir", "", "Workspace cache directory")
	fs.StringVar(&flags.outputDir, "output-dir", "", "Directory for the packaged import archive")
	fs.BoolVar(&flags.json, "json", false, "Print the job summary as JSON")
	return cmd
}

// buildOptions merges config values with the flags the user set explicitly.
func buildOptions(cmd *cobra.Command, cfg *config.Config, def sources.Definition, flags *sourceFlags, source string) (job.Options, error) {
	fs := cmd.Flags()
	categories := cfg.Scrape.Categories
	if fs.Changed("scrape") {
		categories = flags.scrape
	}
	scrape, err := job.ParseScrapeSet(categories...)
	if err != nil {
		return job.Options{}, err
	}

	opts := job.Options{
		Source:         source,
		Kind:           def.Kind,
		URL:            strings.TrimRight(strings.TrimSpace(flags.url), "/"),
		Scrape:         scrape,
		UseMetaImage:   flags.useMetaImage,
		UseMetaAuthor:  flags.useMetaAuthor,
		FeatureImage:   strings.TrimSpace(flags.featureImage),
		SizeLimit:      cfg.Scrape.SizeLimitMB,
		Zip:            flags.zip,
		Concurrent:     cfg.Scrape.Concurrent,
		FixLinks:       cfg.Scrape.FixLinks && !flags.noFixLinks,
		CacheDir:       cfg.Paths.CacheDir,
		OutputDir:      cfg.Paths.OutputDir,
		UserAgent:      cfg.Scrape.UserAgent,
		RequestTimeout: cfg.RequestTimeout(),
	}
	if fs.Changed("size-limit") {
		opts.SizeLimit = flags.sizeLimit
	}
	if fs.Changed("concurrent") {
		opts.Concurrent = flags.concurrent
	}
	if fs.Changed("cache-dir") {
		if opts.CacheDir, err = config.ExpandPath(flags.cacheDir); err != nil {
			return job.Options{}, err
		}
	}
	if fs.Changed("output-dir") {
		if opts.OutputDir, err = config.ExpandPath(flags.outputDir); err != nil {
			return job.Options{}, err
		}
	}
	if opts.Source, err = filepath.Abs(source); err != nil {
		return job.Options{}, fmt.Errorf("resolve source path: %w", err)
	}
	return opts, nil
}

func printSummary(out io.Writer, summary migrate.Summary, colorize bool) {
	printLines(out, renderSectionHeader("Migration "+summary.Kind, colorize)...)
	kind := statusOK
	switch {
	case summary.Status == migrate.StatusAborted:
		kind = statusError
	case summary.Failed > 0:
		kind = statusWarn
	}
	printLines(out,
		renderStatusLine("Result", kind, summary.Message(), colorize),
		renderField("Job", summary.JobID),
		renderField("Duration", summary.Duration.Round(time.Millisecond).String()),
	)
	if summary.BundlePath != "" {
		printLines(out, renderField("Import JSON", summary.BundlePath))
	}
	if summary.ArchivePath != "" {
		printLines(out, renderField("Archive", summary.ArchivePath))
	}
	if summary.ErrorLogPath != "" {
		printLines(out, renderField("Error log", summary.ErrorLogPath))
	}
	kinds := make([]string, 0, len(summary.SizeReports))
	for k := range summary.SizeReports {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		printLines(out, renderField("Size report ("+k+")", summary.SizeReports[k]))
	}

	rows := make([][]string, 0, len(summary.Stages))
	var totalItems, totalFailed int
	for _, st := range summary.Stages {
		totalItems += st.Items
		totalFailed += st.Failed
		items := ""
		if st.Items > 0 {
			items = strconv.Itoa(st.Items)
		}
		failed := ""
		if st.Failed > 0 {
			failed = strconv.Itoa(st.Failed)
		}
		duration := ""
		if st.Status != workflow.StageSkipped && st.Status != workflow.StageNotReached {
			duration = st.Duration.Round(time.Millisecond).String()
		}
		rows = append(rows, []string{st.Title, string(st.Status), items, failed, duration})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Stage", "Status", "Items", "Failed", "Duration"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight},
		"Total", "", strconv.Itoa(totalItems), strconv.Itoa(totalFailed), summary.Duration.Round(time.Millisecond).String(),
	))
}
