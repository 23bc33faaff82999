package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"migrate/internal/history"
	"migrate/internal/job"
)

const stampLayout = "2006-01-02 15:04"

var errHistoryDisabled = errors.New("job history is disabled (set [history] enabled = true in config.toml)")

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past migration jobs",
	}
	historyCmd.AddCommand(newHistoryListCommand(ctx))
	historyCmd.AddCommand(newHistoryShowCommand(ctx))
	return historyCmd
}

func newHistoryListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(cmd.Context(), func(store *history.Store) error {
				if store == nil {
					return errHistoryDisabled
				}
				jobs, err := store.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, jobs)
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs recorded")
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, j := range jobs {
					rows = append(rows, []string{
						j.ID,
						j.Kind,
						j.Status,
						strconv.Itoa(j.FailedItems),
						formatStamp(j.StartedAt),
						j.Duration().Round(time.Second).String(),
						j.Source,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Kind", "Status", "Failed", "Started", "Duration", "Source"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print jobs as JSON")
	return cmd
}

type jobDetail struct {
	Job    *history.Job      `json:"job"`
	Errors []job.ErrorRecord `json:"errors"`
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job and its error records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withHistory(cmd.Context(), func(store *history.Store) error {
				if store == nil {
					return errHistoryDisabled
				}
				entry, err := store.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				if entry == nil {
					return fmt.Errorf("job %s not found", id)
				}
				records, err := store.Errors(cmd.Context(), id)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, jobDetail{Job: entry, Errors: records})
				}
				out := cmd.OutOrStdout()
				printJob(out, entry, records, shouldColorize(out))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the job as JSON")
	return cmd
}

func printJob(out io.Writer, entry *history.Job, records []job.ErrorRecord, colorize bool) {
	printLines(out, renderSectionHeader("Job "+entry.ID, colorize)...)
	kind, message := statusOK, "completed"
	switch {
	case entry.Status == history.StatusAborted:
		kind, message = statusError, fmt.Sprintf("aborted at stage %s: %s", entry.AbortedAt, entry.Cause)
	case entry.FailedItems > 0:
		kind, message = statusWarn, fmt.Sprintf("completed, %d items recorded as failed", entry.FailedItems)
	}
	printLines(out,
		renderStatusLine("Result", kind, message, colorize),
		renderField("Kind", entry.Kind),
		renderField("Source", entry.Source),
		renderField("Started", fmt.Sprintf("%s (%s)", formatStamp(entry.StartedAt), humanize.Time(entry.StartedAt))),
		renderField("Duration", entry.Duration().Round(time.Millisecond).String()),
	)
	for _, field := range [][2]string{
		{"Site", entry.SiteURL},
		{"Import JSON", entry.BundlePath},
		{"Archive", entry.ArchivePath},
		{"Error log", entry.ErrorLogPath},
	} {
		if field[1] != "" {
			printLines(out, renderField(field[0], field[1]))
		}
	}
	if len(records) == 0 {
		return
	}
	rows := make([][]string, 0, len(records))
	for i, rec := range records {
		rows = append(rows, []string{strconv.Itoa(i + 1), rec.Stage, rec.Label, rec.Message, yesNo(rec.Fatal)})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"#", "Stage", "Item", "Message", "Fatal"},
		rows,
		[]columnAlignment{alignRight},
	))
}

func formatStamp(ts time.Time) string {
	if ts.IsZero() {
		return "unknown"
	}
	return ts.Local().Format(stampLayout)
}
