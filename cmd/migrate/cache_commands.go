package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"migrate/internal/filecache"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage job workspaces",
	}

	cacheCmd.AddCommand(newCacheListCommand(ctx))
	cacheCmd.AddCommand(newCachePruneCommand(ctx))
	cacheCmd.AddCommand(newCacheRemoveCommand(ctx))

	return cacheCmd
}

func newCacheListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show workspace usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cacheStore(cmd, ctx)
			if err != nil {
				return err
			}
			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, stats)
			}
			out := cmd.OutOrStdout()
			budget := "unlimited"
			if stats.MaxBytes > 0 {
				budget = humanize.IBytes(uint64(stats.MaxBytes))
			}
			fmt.Fprintf(out, "Workspaces: %d\n", stats.Entries)
			fmt.Fprintf(out, "Size:       %s / %s\n", humanize.IBytes(uint64(stats.TotalBytes)), budget)
			fmt.Fprintf(out, "Disk:       %s free (%.1f%%)\n", humanize.IBytes(stats.FreeBytes), stats.FreeRatio*100)
			if len(stats.Workspaces) == 0 {
				return nil
			}
			rows := make([][]string, 0, len(stats.Workspaces))
			for _, ws := range stats.Workspaces {
				rows = append(rows, []string{
					ws.Key,
					ws.Kind,
					humanize.IBytes(uint64(ws.SizeBytes)),
					humanize.Time(ws.ModifiedAt),
					ws.LastJobID,
					ws.Source,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Key", "Kind", "Size", "Updated", "Last job", "Source"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print usage as JSON")
	return cmd
}

func newCachePruneCommand(ctx *commandContext) *cobra.Command {
	var maxMB int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove the oldest workspaces until the cache fits its budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			budget := cfg.Paths.CacheMaxMB
			if cmd.Flags().Changed("max-mb") {
				budget = maxMB
			}
			if budget <= 0 {
				return fmt.Errorf("no cache budget configured (set paths.cache_max_mb or pass --max-mb)")
			}
			logger, err := ctx.logger(cmd)
			if err != nil {
				return err
			}
			store := filecache.NewStore(cfg.Paths.CacheDir, budget, logger)
			removed, err := store.Prune(cmd.Context(), "")
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(removed) == 0 {
				fmt.Fprintln(out, "No workspaces pruned")
				return nil
			}
			fmt.Fprintf(out, "Pruned %d workspaces: %s\n", len(removed), strings.Join(removed, ", "))
			return nil
		},
	}
	cmd.Flags().IntVar(&maxMB, "max-mb", 0, "Override the configured cache budget in megabytes")
	return cmd
}

func newCacheRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <key>",
		Short: "Delete one workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cacheStore(cmd, ctx)
			if err != nil {
				return err
			}
			key := strings.TrimSpace(args[0])
			if err := store.Remove(cmd.Context(), key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed workspace %s\n", key)
			return nil
		},
	}
}

func cacheStore(cmd *cobra.Command, ctx *commandContext) (*filecache.Store, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := ctx.logger(cmd)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Paths.CacheDir) == "" {
		return nil, fmt.Errorf("cache directory is not configured")
	}
	if err := os.MkdirAll(cfg.Paths.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure cache dir: %w", err)
	}
	return filecache.NewStore(cfg.Paths.CacheDir, cfg.Paths.CacheMaxMB, logger), nil
}
